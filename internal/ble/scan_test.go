package ble_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/chaz8081/bluetti-ble/internal/ble"
	"github.com/chaz8081/bluetti-ble/internal/ble/bletest"
)

func TestScanForDevicesDeduplicates(t *testing.T) {
	adapter := bletest.NewMockAdapter(
		ble.Device{Name: "EL10A2345", Address: "AA:BB:CC:DD:EE:01", RSSI: -80},
		ble.Device{Name: "Headphones", Address: "AA:BB:CC:DD:EE:02", RSSI: -40},
		ble.Device{Name: "EL10A2345", Address: "aa:bb:cc:dd:ee:01", RSSI: -50},
	)

	devices, err := ble.ScanForDevices(context.Background(), adapter, ble.ScanOptions{Duration: time.Second})
	if err != nil {
		t.Fatalf("ScanForDevices() error = %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("got %d devices, want 2: %+v", len(devices), devices)
	}
	if devices[0].RSSI != -50 {
		t.Errorf("RSSI = %d, want strongest -50", devices[0].RSSI)
	}
}

func TestScanForDevicesFilter(t *testing.T) {
	adapter := bletest.NewMockAdapter(
		ble.Device{Name: "Headphones", Address: "AA:BB:CC:DD:EE:02"},
		ble.Device{Name: "AC1802235000", Address: "AA:BB:CC:DD:EE:03"},
	)
	devices, err := ble.ScanForDevices(context.Background(), adapter, ble.ScanOptions{
		Duration: time.Second,
		Match:    func(d ble.Device) bool { return strings.HasPrefix(d.Name, "AC180") },
	})
	if err != nil {
		t.Fatalf("ScanForDevices() error = %v", err)
	}
	if len(devices) != 1 || devices[0].Address != "AA:BB:CC:DD:EE:03" {
		t.Errorf("got %+v, want only the AC180", devices)
	}
}

func TestScanForDevicesStopsAtFirstMatch(t *testing.T) {
	adapter := bletest.NewMockAdapter(
		ble.Device{Address: "AA:BB:CC:DD:EE:01"},
		ble.Device{Address: "AA:BB:CC:DD:EE:02"},
	)
	devices, err := ble.ScanForDevices(context.Background(), adapter, ble.ScanOptions{})
	if err != nil {
		t.Fatalf("ScanForDevices() error = %v", err)
	}
	if len(devices) != 1 {
		t.Errorf("got %d devices, want 1", len(devices))
	}
}

func TestFindDeviceByAddress(t *testing.T) {
	adapter := bletest.NewMockAdapter(
		ble.Device{Name: "EB3A", Address: "AA:BB:CC:DD:EE:09"},
	)

	d, err := ble.FindDeviceByAddress(context.Background(), adapter, "aa:bb:cc:dd:ee:09", time.Second)
	if err != nil {
		t.Fatalf("FindDeviceByAddress() error = %v", err)
	}
	if d.Name != "EB3A" {
		t.Errorf("Name = %q, want EB3A", d.Name)
	}

	_, err = ble.FindDeviceByAddress(context.Background(), adapter, "11:22:33:44:55:66", 10*time.Millisecond)
	if !errors.Is(err, ble.ErrDeviceNotFound) {
		t.Errorf("FindDeviceByAddress() error = %v, want ErrDeviceNotFound", err)
	}
}
