package device

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// EL10 register map. Controls live in block 2001-2081.
func EL10() *Device {
	return newDevice("EL10", true,
		decimalField(FieldTimeRemaining, 104, 1),
		uintField(FieldDCOutputPower, 140),
		uintField(FieldACOutputPower, 142),
		uintField(FieldDCInputPower, 144),
		uintField(FieldACInputPower, 146),
		decimalField(FieldPowerGeneration, 154, 1),
		decimalField(FieldDCInputVoltage, 1213, 1),
		decimalField(FieldDCInputCurrent, 1214, 1),
		decimalField(FieldACInputFrequency, 1300, 1),
		decimalField(FieldACInputVoltage, 1314, 1),
		decimalField(FieldACInputCurrent, 1315, 1),
		decimalField(FieldACOutputFrequency, 1500, 1),
		decimalField(FieldACOutputVoltage, 1511, 1),
		selectField(FieldCtrlLedMode, 2007, EL10LedMode),
		switchField(FieldCtrlAC, 2011),
		switchField(FieldCtrlDC, 2012),
		switchField(FieldCtrlEcoDC, 2014),
		selectField(FieldCtrlEcoTimeModeDC, 2015, EcoMode),
		boundedField(FieldCtrlEcoMinPowerDC, 2016, 5, 10),
		switchField(FieldCtrlEcoAC, 2017),
		selectField(FieldCtrlEcoTimeModeAC, 2018, EcoMode),
		boundedField(FieldCtrlEcoMinPowerAC, 2019, 15, 30),
		selectField(FieldCtrlChargingMode, 2020, ChargingMode),
		switchField(FieldCtrlPowerLifting, 2021),
		uintField(FieldBatterySOCRangeStart, 2022),
		uintField(FieldBatterySOCRangeEnd, 2023),
		versionField(FieldVerBMS, 6175),
	)
}

// AC180 shares the EL10 control block layout but accepts plain writes.
func AC180() *Device {
	return newDevice("AC180", false,
		uintField(FieldBatteryPercent, 102),
		uintField(FieldDCOutputPower, 140),
		uintField(FieldACOutputPower, 142),
		uintField(FieldDCInputPower, 144),
		uintField(FieldACInputPower, 146),
		switchField(FieldCtrlAC, 2011),
		switchField(FieldCtrlDC, 2012),
		selectField(FieldCtrlChargingMode, 2020, ChargingMode),
		switchField(FieldCtrlPowerLifting, 2021),
	)
}

// EB3A uses the older register layout.
func EB3A() *Device {
	return newDevice("EB3A", false,
		uintField(FieldDCInputPower, 36),
		uintField(FieldACInputPower, 37),
		uintField(FieldACOutputPower, 38),
		uintField(FieldDCOutputPower, 39),
		uintField(FieldBatteryPercent, 43),
		switchField(FieldCtrlAC, 3007),
		switchField(FieldCtrlDC, 3008),
		switchField(FieldCtrlEcoAC, 3063),
		selectField(FieldCtrlChargingMode, 3065, ChargingMode),
		switchField(FieldCtrlPowerLifting, 3066),
	)
}

var models = map[string]func() *Device{
	"EL10":  EL10,
	"AC180": AC180,
	"EB3A":  EB3A,
}

// bluetoothName matches the advertised name of every known Bluetti model:
// the type prefix followed by the serial number.
var bluetoothName = regexp.MustCompile(
	`^(AC2A|AC60|AC60P|AC70|AC70P|AC180|AC180P|AC200L|AC200M|AC200PL|AC300|AC500|EB3A|EL10|EP500|EP500P|EP600|EP760|EP800|Handsfree 1)(\d+)$`,
)

// Models lists the supported type names, sorted.
func Models() []string {
	out := make([]string, 0, len(models))
	for name := range models {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Lookup returns a fresh catalog for a type name such as "EL10". Case is
// ignored.
func Lookup(model string) (*Device, error) {
	if build, ok := models[model]; ok {
		return build(), nil
	}
	for name, build := range models {
		if strings.EqualFold(name, model) {
			return build(), nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownModel, model)
}

// ParseBluetoothName extracts the type prefix from an advertised name. It
// recognizes every Bluetti model, including ones Lookup does not support.
func ParseBluetoothName(name string) (string, bool) {
	m := bluetoothName.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// FromBluetoothName returns the catalog for an advertised device name.
func FromBluetoothName(name string) (*Device, error) {
	model, ok := ParseBluetoothName(name)
	if !ok {
		return nil, fmt.Errorf("%w: unrecognized name %q", ErrUnknownModel, name)
	}
	return Lookup(model)
}
