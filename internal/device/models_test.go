package device

import (
	"errors"
	"reflect"
	"testing"
)

func TestLookup(t *testing.T) {
	for _, name := range []string{"EL10", "el10", "AC180", "EB3A"} {
		d, err := Lookup(name)
		if err != nil {
			t.Errorf("Lookup(%q) error = %v", name, err)
			continue
		}
		if !d.HasField(FieldCtrlAC) {
			t.Errorf("%s has no ctrl_ac", d.Model())
		}
	}
	if _, err := Lookup("AC9000"); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("Lookup(AC9000) error = %v, want ErrUnknownModel", err)
	}
}

func TestLookupReturnsFreshCatalog(t *testing.T) {
	a, _ := Lookup("EL10")
	b, _ := Lookup("EL10")
	if a == b {
		t.Error("Lookup should build a new Device each call")
	}
}

func TestModels(t *testing.T) {
	want := []string{"AC180", "EB3A", "EL10"}
	if got := Models(); !reflect.DeepEqual(got, want) {
		t.Errorf("Models() = %v, want %v", got, want)
	}
}

func TestRequiresEncryption(t *testing.T) {
	if !EL10().RequiresEncryption() {
		t.Error("EL10 should require encryption")
	}
	if EB3A().RequiresEncryption() {
		t.Error("EB3A should accept plain writes")
	}
}

func TestParseBluetoothName(t *testing.T) {
	tests := []struct {
		name  string
		model string
		ok    bool
	}{
		{"AC1802235000123456", "AC180", true},
		{"AC180P2235000123456", "AC180P", true},
		{"AC60P2301000000001", "AC60P", true},
		{"EB3A2237000012345", "EB3A", true},
		{"EL102345000000001", "EL10", true},
		{"Handsfree 12345", "Handsfree 1", true},
		{"AC180", "", false},
		{"JBL Flip 5", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		model, ok := ParseBluetoothName(tt.name)
		if model != tt.model || ok != tt.ok {
			t.Errorf("ParseBluetoothName(%q) = %q, %v, want %q, %v", tt.name, model, ok, tt.model, tt.ok)
		}
	}
}

func TestFromBluetoothName(t *testing.T) {
	d, err := FromBluetoothName("EB3A2237000012345")
	if err != nil {
		t.Fatalf("FromBluetoothName() error = %v", err)
	}
	if d.Model() != "EB3A" {
		t.Errorf("Model() = %q, want EB3A", d.Model())
	}

	// Recognized but not in the catalog.
	if _, err := FromBluetoothName("AC3002235000000001"); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("FromBluetoothName(AC300…) error = %v, want ErrUnknownModel", err)
	}
	if _, err := FromBluetoothName("Speaker"); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("FromBluetoothName(Speaker) error = %v, want ErrUnknownModel", err)
	}
}
