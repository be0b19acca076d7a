// Package device holds the Bluetti field catalog and turns field writes and
// reads into Modbus command frames.
package device

import (
	"errors"
	"fmt"

	"github.com/chaz8081/bluetti-ble/internal/ble/protocol"
)

var (
	ErrUnsupportedField = errors.New("device: field not supported")
	ErrNotWriteable     = errors.New("device: field is not writeable")
	ErrValueOutOfRange  = errors.New("device: value out of range")
	ErrInvalidValue     = errors.New("device: invalid value")
	ErrUnknownModel     = errors.New("device: unsupported powerstation type")
)

// Device is one power station model and its fields.
type Device struct {
	model     string
	encrypted bool
	fields    []Field
	byName    map[FieldName]int
}

func newDevice(model string, encrypted bool, fields ...Field) *Device {
	d := &Device{
		model:     model,
		encrypted: encrypted,
		fields:    fields,
		byName:    make(map[FieldName]int, len(fields)),
	}
	for i, f := range fields {
		d.byName[f.Name] = i
	}
	return d
}

// Model returns the type name, e.g. "EL10".
func (d *Device) Model() string { return d.model }

// RequiresEncryption reports whether the firmware only accepts commands over
// an encrypted session.
func (d *Device) RequiresEncryption() bool { return d.encrypted }

// Fields returns the catalog in declaration order.
func (d *Device) Fields() []Field {
	out := make([]Field, len(d.fields))
	copy(out, d.fields)
	return out
}

// Field looks up a field by name.
func (d *Device) Field(name FieldName) (Field, bool) {
	i, ok := d.byName[name]
	if !ok {
		return Field{}, false
	}
	return d.fields[i], true
}

func (d *Device) HasField(name FieldName) bool {
	_, ok := d.byName[name]
	return ok
}

// BuildWriteCommand encodes value into a write-single-register command for
// the named field.
func (d *Device) BuildWriteCommand(name FieldName, value Value) (protocol.Command, error) {
	f, ok := d.Field(name)
	if !ok {
		return protocol.Command{}, fmt.Errorf("%w: %s on %s", ErrUnsupportedField, name, d.model)
	}
	if !f.Writeable {
		return protocol.Command{}, fmt.Errorf("%w: %s", ErrNotWriteable, name)
	}
	raw, err := f.encode(value)
	if err != nil {
		return protocol.Command{}, err
	}
	return protocol.WriteSingleRegister(f.Address, raw), nil
}

// BuildReadCommand builds a read-holding-registers command covering the
// named field.
func (d *Device) BuildReadCommand(name FieldName) (protocol.Command, error) {
	f, ok := d.Field(name)
	if !ok {
		return protocol.Command{}, fmt.Errorf("%w: %s on %s", ErrUnsupportedField, name, d.model)
	}
	return protocol.ReadHoldingRegisters(f.Address, f.Registers())
}
