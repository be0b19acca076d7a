package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/sigurn/crc16"
)

// Modbus function codes understood by the power station.
const (
	FuncReadHoldingRegisters byte = 0x03
	FuncWriteSingleRegister  byte = 0x06
)

// deviceUnit is the Modbus slave address every Bluetti station answers on.
const deviceUnit byte = 0x01

var crcTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// Command is an encoded Modbus RTU request frame.
type Command struct {
	frame []byte
}

// WriteSingleRegister encodes a function 0x06 request setting address to value.
//
//	01 06 | address (2, BE) | value (2, BE) | crc (2, LE)
func WriteSingleRegister(address, value uint16) Command {
	return newCommand(FuncWriteSingleRegister, address, value)
}

// ReadHoldingRegisters encodes a function 0x03 request for count registers
// starting at address.
func ReadHoldingRegisters(address, count uint16) (Command, error) {
	if count == 0 || count > 125 {
		return Command{}, fmt.Errorf("protocol: register count %d out of range 1..125", count)
	}
	return newCommand(FuncReadHoldingRegisters, address, count), nil
}

func newCommand(fn byte, a, b uint16) Command {
	frame := make([]byte, 0, 8)
	frame = append(frame, deviceUnit, fn)
	frame = binary.BigEndian.AppendUint16(frame, a)
	frame = binary.BigEndian.AppendUint16(frame, b)
	frame = binary.LittleEndian.AppendUint16(frame, crc16.Checksum(frame, crcTable))
	return Command{frame: frame}
}

// Function returns the Modbus function code.
func (c Command) Function() byte {
	if len(c.frame) < 2 {
		return 0
	}
	return c.frame[1]
}

// Address returns the first register the command targets.
func (c Command) Address() uint16 {
	if len(c.frame) < 4 {
		return 0
	}
	return binary.BigEndian.Uint16(c.frame[2:4])
}

// Value returns the written value (0x06) or the register count (0x03).
func (c Command) Value() uint16 {
	if len(c.frame) < 6 {
		return 0
	}
	return binary.BigEndian.Uint16(c.frame[4:6])
}

// Bytes returns a copy of the encoded frame.
func (c Command) Bytes() []byte {
	cp := make([]byte, len(c.frame))
	copy(cp, c.frame)
	return cp
}

// IsZero reports whether c was never built.
func (c Command) IsZero() bool {
	return len(c.frame) == 0
}

// ParseCommand decodes a request frame and validates its CRC.
func ParseCommand(frame []byte) (Command, error) {
	if len(frame) != 8 {
		return Command{}, fmt.Errorf("%w: command frame is %d bytes, want 8", ErrMalformedMessage, len(frame))
	}
	want := crc16.Checksum(frame[:6], crcTable)
	got := binary.LittleEndian.Uint16(frame[6:])
	if want != got {
		return Command{}, fmt.Errorf("%w: crc computed 0x%04x, frame carries 0x%04x", ErrChecksumMismatch, want, got)
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	return Command{frame: cp}, nil
}
