// Package protocol implements the wire formats spoken with a Bluetti power
// station: the framed messages of the encryption handshake and the Modbus
// commands carried once a session is established.
package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Handshake frame layout:
//
//	0x2A 0x2A | type (1) | length (1) | payload | checksum (2, big-endian)
const (
	headerSize   = 4
	checksumSize = 2

	// MinFrameSize is the smallest buffer Parse accepts.
	MinFrameSize = headerSize + checksumSize
	// MaxPayloadSize is the largest payload a single-byte length can describe.
	MaxPayloadSize = 0xFF
)

var magic = []byte{0x2A, 0x2A}

var (
	// ErrMalformedMessage is returned for buffers that cannot hold a frame.
	ErrMalformedMessage = errors.New("protocol: malformed message")
	// ErrChecksumMismatch is returned when the trailing checksum does not
	// match the frame contents. The message must be discarded.
	ErrChecksumMismatch = errors.New("protocol: checksum mismatch")
)

// MessageType is the tag at offset 2 of a handshake frame.
type MessageType byte

const (
	MessageChallenge         MessageType = 1
	MessageChallengeResponse MessageType = 2
	MessageChallengeAccepted MessageType = 3
	MessagePeerPubKey        MessageType = 4
	MessageLocalPubKey       MessageType = 5
	MessagePubKeyAccepted    MessageType = 6
)

// IsHandshake reports whether t is one of the key exchange tags.
func (t MessageType) IsHandshake() bool {
	return t >= MessageChallenge && t <= MessagePubKeyAccepted
}

func (t MessageType) String() string {
	switch t {
	case MessageChallenge:
		return "CHALLENGE"
	case MessageChallengeResponse:
		return "CHALLENGE_RESPONSE"
	case MessageChallengeAccepted:
		return "CHALLENGE_ACCEPTED"
	case MessagePeerPubKey:
		return "PEER_PUBKEY"
	case MessageLocalPubKey:
		return "LOCAL_PUBKEY"
	case MessagePubKeyAccepted:
		return "PUBKEY_ACCEPTED"
	default:
		return fmt.Sprintf("MessageType(%d)", byte(t))
	}
}

// Message is a read-only view over one received or built buffer.
// Fields must not be trusted until VerifyChecksum succeeds.
type Message struct {
	buf []byte
}

// Parse wraps buf as a Message. The buffer is copied.
func Parse(buf []byte) (Message, error) {
	if len(buf) < MinFrameSize {
		return Message{}, fmt.Errorf("%w: %d bytes, need at least %d", ErrMalformedMessage, len(buf), MinFrameSize)
	}
	cp := make([]byte, len(buf))
	copy(cp, buf)
	return Message{buf: cp}, nil
}

// NewMessage builds a well-formed handshake frame.
func NewMessage(t MessageType, payload []byte) (Message, error) {
	if len(payload) > MaxPayloadSize {
		return Message{}, fmt.Errorf("protocol: payload of %d bytes exceeds %d", len(payload), MaxPayloadSize)
	}
	buf := make([]byte, 0, MinFrameSize+len(payload))
	buf = append(buf, magic...)
	buf = append(buf, byte(t), byte(len(payload)))
	buf = append(buf, payload...)
	buf = binary.BigEndian.AppendUint16(buf, checksum(buf[len(magic):]))
	return Message{buf: buf}, nil
}

// IsPreKeyExchange reports whether the message is a cleartext handshake
// frame rather than an encrypted or data-transport payload.
func (m Message) IsPreKeyExchange() bool {
	return len(m.buf) >= MinFrameSize && bytes.Equal(m.buf[:len(magic)], magic) && m.Type().IsHandshake()
}

// Type returns the tag byte.
func (m Message) Type() MessageType {
	if len(m.buf) <= len(magic) {
		return 0
	}
	return MessageType(m.buf[len(magic)])
}

// Payload returns the bytes between the header and the checksum.
func (m Message) Payload() []byte {
	if len(m.buf) < MinFrameSize {
		return nil
	}
	return m.buf[headerSize : len(m.buf)-checksumSize]
}

// Checksum returns the trailing two bytes as transmitted.
func (m Message) Checksum() []byte {
	if len(m.buf) < checksumSize {
		return nil
	}
	return m.buf[len(m.buf)-checksumSize:]
}

// Bytes returns a copy of the underlying buffer.
func (m Message) Bytes() []byte {
	cp := make([]byte, len(m.buf))
	copy(cp, m.buf)
	return cp
}

// VerifyChecksum checks the length byte against the frame size, then
// recomputes the checksum over type, length and payload and compares it with
// the trailing bytes.
func (m Message) VerifyChecksum() error {
	if len(m.buf) < MinFrameSize {
		return ErrMalformedMessage
	}
	if declared, actual := int(m.buf[headerSize-1]), len(m.buf)-MinFrameSize; declared != actual {
		return fmt.Errorf("%w: length byte says %d, payload is %d bytes", ErrMalformedMessage, declared, actual)
	}
	want := checksum(m.buf[len(magic) : len(m.buf)-checksumSize])
	got := binary.BigEndian.Uint16(m.Checksum())
	if want != got {
		return fmt.Errorf("%w: computed 0x%04x, frame carries 0x%04x", ErrChecksumMismatch, want, got)
	}
	return nil
}

// checksum is the 16-bit wrapping sum of data.
func checksum(data []byte) uint16 {
	var sum uint16
	for _, b := range data {
		sum += uint16(b)
	}
	return sum
}
