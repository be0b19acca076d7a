package device

import (
	"encoding/binary"
	"fmt"
	"math"
)

// FieldName identifies a register-backed attribute of a power station.
type FieldName string

// Status fields.
const (
	FieldBatteryPercent    FieldName = "battery_percent"
	FieldTimeRemaining     FieldName = "time_remaining"
	FieldDCOutputPower     FieldName = "dc_output_power"
	FieldACOutputPower     FieldName = "ac_output_power"
	FieldDCInputPower      FieldName = "dc_input_power"
	FieldACInputPower      FieldName = "ac_input_power"
	FieldPowerGeneration   FieldName = "power_generation"
	FieldDCInputVoltage    FieldName = "dc_input_voltage"
	FieldDCInputCurrent    FieldName = "dc_input_current"
	FieldACInputFrequency  FieldName = "ac_input_frequency"
	FieldACInputVoltage    FieldName = "ac_input_voltage"
	FieldACInputCurrent    FieldName = "ac_input_current"
	FieldACOutputFrequency FieldName = "ac_output_frequency"
	FieldACOutputVoltage   FieldName = "ac_output_voltage"
	FieldVerBMS            FieldName = "ver_bms"
)

// Controls.
const (
	FieldCtrlLedMode          FieldName = "ctrl_led_mode"
	FieldCtrlAC               FieldName = "ctrl_ac"
	FieldCtrlDC               FieldName = "ctrl_dc"
	FieldCtrlEcoDC            FieldName = "ctrl_eco_dc"
	FieldCtrlEcoTimeModeDC    FieldName = "ctrl_eco_time_mode_dc"
	FieldCtrlEcoMinPowerDC    FieldName = "ctrl_eco_min_power_dc"
	FieldCtrlEcoAC            FieldName = "ctrl_eco_ac"
	FieldCtrlEcoTimeModeAC    FieldName = "ctrl_eco_time_mode_ac"
	FieldCtrlEcoMinPowerAC    FieldName = "ctrl_eco_min_power_ac"
	FieldCtrlChargingMode     FieldName = "ctrl_charging_mode"
	FieldCtrlPowerLifting     FieldName = "ctrl_power_lifting"
	FieldBatterySOCRangeStart FieldName = "battery_soc_range_start"
	FieldBatterySOCRangeEnd   FieldName = "battery_soc_range_end"
)

// Kind selects how a field's registers are encoded and decoded.
type Kind int

const (
	KindUInt Kind = iota
	KindDecimal
	KindSwitch
	KindSelect
	KindVersion
)

func (k Kind) String() string {
	switch k {
	case KindUInt:
		return "uint"
	case KindDecimal:
		return "decimal"
	case KindSwitch:
		return "switch"
	case KindSelect:
		return "select"
	case KindVersion:
		return "version"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Field describes one attribute: where it lives and how values map to
// register contents.
type Field struct {
	Name      FieldName
	Address   uint16
	Kind      Kind
	Scale     int   // decimal places, KindDecimal only
	Min, Max  int   // inclusive bounds, KindUInt only; Max == 0 means unbounded
	Enum      *Enum // KindSelect only
	Writeable bool
}

// Registers returns how many 16-bit registers the field occupies.
func (f Field) Registers() uint16 {
	if f.Kind == KindVersion {
		return 2
	}
	return 1
}

func uintField(name FieldName, addr uint16) Field {
	return Field{Name: name, Address: addr, Kind: KindUInt}
}

func boundedField(name FieldName, addr uint16, min, max int) Field {
	return Field{Name: name, Address: addr, Kind: KindUInt, Min: min, Max: max, Writeable: true}
}

func decimalField(name FieldName, addr uint16, scale int) Field {
	return Field{Name: name, Address: addr, Kind: KindDecimal, Scale: scale}
}

func switchField(name FieldName, addr uint16) Field {
	return Field{Name: name, Address: addr, Kind: KindSwitch, Writeable: true}
}

func selectField(name FieldName, addr uint16, e *Enum) Field {
	return Field{Name: name, Address: addr, Kind: KindSelect, Enum: e, Writeable: true}
}

func versionField(name FieldName, addr uint16) Field {
	return Field{Name: name, Address: addr, Kind: KindVersion}
}

// encode converts v into the register value for a write. Writeability is
// checked by the caller.
func (f Field) encode(v Value) (uint16, error) {
	switch f.Kind {
	case KindSwitch:
		if b, ok := v.Bool(); ok {
			if b {
				return 1, nil
			}
			return 0, nil
		}
		if n, ok := v.Int(); ok {
			if n != 0 && n != 1 {
				return 0, fmt.Errorf("%w: %s expects on/off, got %d", ErrValueOutOfRange, f.Name, n)
			}
			return uint16(n), nil
		}

	case KindUInt:
		n, ok := v.Int()
		if !ok {
			break
		}
		if f.Max != 0 && (n < int64(f.Min) || n > int64(f.Max)) {
			return 0, fmt.Errorf("%w: %s must be within [%d, %d], got %d", ErrValueOutOfRange, f.Name, f.Min, f.Max, n)
		}
		if n < 0 || n > math.MaxUint16 {
			return 0, fmt.Errorf("%w: %s got %d", ErrValueOutOfRange, f.Name, n)
		}
		return uint16(n), nil

	case KindDecimal:
		x, ok := v.Float()
		if !ok {
			n, isInt := v.Int()
			if !isInt {
				break
			}
			x = float64(n)
		}
		raw := math.Round(x * math.Pow10(f.Scale))
		if raw < 0 || raw > math.MaxUint16 {
			return 0, fmt.Errorf("%w: %s got %g", ErrValueOutOfRange, f.Name, x)
		}
		return uint16(raw), nil

	case KindSelect:
		if label, ok := v.Label(); ok {
			code, known := f.Enum.Code(label)
			if !known {
				return 0, fmt.Errorf("%w: %s has no option %q (want one of %v)", ErrValueOutOfRange, f.Name, label, f.Enum.Labels())
			}
			return code, nil
		}
		if n, ok := v.Int(); ok {
			if n < 0 || n > math.MaxUint16 {
				return 0, fmt.Errorf("%w: %s got %d", ErrValueOutOfRange, f.Name, n)
			}
			if _, known := f.Enum.Label(uint16(n)); !known {
				return 0, fmt.Errorf("%w: %s has no option %d", ErrValueOutOfRange, f.Name, n)
			}
			return uint16(n), nil
		}
	}
	return 0, fmt.Errorf("%w: %s field %s cannot take %s", ErrInvalidValue, f.Kind, f.Name, v)
}

// Decode interprets the field's own registers, big-endian as they arrive in
// a read response.
func (f Field) Decode(regs []byte) (Value, error) {
	want := int(f.Registers()) * 2
	if len(regs) < want {
		return Value{}, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrInvalidValue, f.Name, want, len(regs))
	}
	raw := binary.BigEndian.Uint16(regs)

	switch f.Kind {
	case KindUInt:
		return Int(int64(raw)), nil
	case KindDecimal:
		return Float(float64(raw) / math.Pow10(f.Scale)), nil
	case KindSwitch:
		return Bool(raw == 1), nil
	case KindSelect:
		label, ok := f.Enum.Label(raw)
		if !ok {
			return Value{}, fmt.Errorf("%w: %s unknown option %d", ErrInvalidValue, f.Name, raw)
		}
		return Label(label), nil
	case KindVersion:
		// Low word first.
		high := binary.BigEndian.Uint16(regs[2:])
		return Float(float64(uint32(raw)|uint32(high)<<16) / 100), nil
	}
	return Value{}, fmt.Errorf("%w: %s has kind %s", ErrInvalidValue, f.Name, f.Kind)
}
