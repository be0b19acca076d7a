package session

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/bluetti-ble/internal/ble/bletest"
	"github.com/chaz8081/bluetti-ble/internal/ble/protocol"
)

// step is one device-to-host message and what the session made of it.
type step struct {
	readyAfter bool
	err        error
}

// drive runs the handshake between s and p until the device goes quiet.
func drive(t *testing.T, s *Session, p *bletest.Peer) []step {
	t.Helper()
	queue, err := p.Start()
	require.NoError(t, err)

	var steps []step
	for len(queue) > 0 {
		frame := queue[0]
		queue = queue[1:]

		resp, err := s.HandleMessage(frame)
		steps = append(steps, step{readyAfter: s.IsReady(), err: err})
		if resp == nil {
			continue
		}
		more, err := p.Receive(resp)
		require.NoError(t, err, "device rejected host response")
		queue = append(queue, more...)
	}
	return steps
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestHandshakeReachesReadyAfterFourthMessage(t *testing.T) {
	s := New(Options{})
	p := bletest.NewPeer(bletest.PeerOptions{})
	ready := s.Ready()

	steps := drive(t, s, p)

	require.Len(t, steps, 4)
	for i, st := range steps {
		assert.NoError(t, st.err, "message %d", i+1)
		assert.Equal(t, i == 3, st.readyAfter, "ready after message %d", i+1)
	}
	assert.True(t, isClosed(ready))
	assert.Equal(t, StateReady, s.State())
	assert.True(t, p.Ready())

	// Stays ready; further handshake traffic is ignored.
	again, _ := protocol.NewMessage(protocol.MessageChallenge, []byte{1, 2, 3, 4})
	_, err := s.HandleMessage(again.Bytes())
	assert.ErrorIs(t, err, ErrUnexpectedMessage)
	assert.True(t, s.IsReady())
}

func TestHandshakeStates(t *testing.T) {
	s := New(Options{})
	p := bletest.NewPeer(bletest.PeerOptions{})
	assert.Equal(t, StateAwaitChallenge, s.State())

	frames, err := p.Start()
	require.NoError(t, err)
	resp, err := s.HandleMessage(frames[0])
	require.NoError(t, err)
	assert.Equal(t, StateAwaitAccept, s.State())

	reply, err := protocol.Parse(resp)
	require.NoError(t, err)
	assert.Equal(t, protocol.MessageChallengeResponse, reply.Type())
	assert.NoError(t, reply.VerifyChecksum())

	frames, err = p.Receive(resp)
	require.NoError(t, err)
	require.Len(t, frames, 2)

	resp, err = s.HandleMessage(frames[0])
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, StateAwaitPeerPubKey, s.State())

	resp, err = s.HandleMessage(frames[1])
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, StateAwaitKeyAccept, s.State())
	// The public key travels encrypted.
	if msg, err := protocol.Parse(resp); err == nil {
		assert.False(t, msg.IsPreKeyExchange())
	}
}

func TestCorruptChecksumStallsHandshake(t *testing.T) {
	tests := []struct {
		corrupt protocol.MessageType
		state   State
	}{
		{protocol.MessageChallenge, StateAwaitChallenge},
		{protocol.MessageChallengeAccepted, StateAwaitAccept},
		{protocol.MessagePeerPubKey, StateAwaitPeerPubKey},
		{protocol.MessagePubKeyAccepted, StateAwaitKeyAccept},
	}
	for _, tt := range tests {
		t.Run(tt.corrupt.String(), func(t *testing.T) {
			s := New(Options{})
			p := bletest.NewPeer(bletest.PeerOptions{Corrupt: []protocol.MessageType{tt.corrupt}})

			steps := drive(t, s, p)

			sawMismatch := false
			for _, st := range steps {
				assert.False(t, st.readyAfter)
				if errors.Is(st.err, protocol.ErrChecksumMismatch) {
					sawMismatch = true
				}
			}
			assert.True(t, sawMismatch, "corrupted frame should be reported as a checksum mismatch")
			assert.False(t, s.IsReady())
			assert.False(t, isClosed(s.Ready()))
			assert.Equal(t, tt.state, s.State())
		})
	}
}

func TestEncryptedMessageBeforeKeyInitIsDropped(t *testing.T) {
	s := New(Options{})

	junk := make([]byte, 34)
	_, _ = rand.Read(junk)
	junk[0] = 0x00 // not the handshake magic
	resp, err := s.HandleMessage(junk)
	assert.ErrorIs(t, err, ErrKeyNotInitialized)
	assert.Nil(t, resp)
	assert.Equal(t, StateAwaitChallenge, s.State())

	// The session survives and completes a normal handshake afterwards.
	drive(t, s, bletest.NewPeer(bletest.PeerOptions{}))
	assert.True(t, s.IsReady())
}

func TestOutOfOrderMessageIsNoOp(t *testing.T) {
	s := New(Options{})
	accepted, _ := protocol.NewMessage(protocol.MessageChallengeAccepted, nil)

	resp, err := s.HandleMessage(accepted.Bytes())
	assert.ErrorIs(t, err, ErrUnexpectedMessage)
	assert.Nil(t, resp)
	assert.Equal(t, StateAwaitChallenge, s.State())

	short := []byte{0x2A, 0x2A, 0x01}
	_, err = s.HandleMessage(short)
	assert.ErrorIs(t, err, ErrKeyNotInitialized)
}

func TestRejectedKeyDoesNotBecomeReady(t *testing.T) {
	s := New(Options{})
	steps := drive(t, s, bletest.NewPeer(bletest.PeerOptions{RejectKey: true}))

	require.NotEmpty(t, steps)
	assert.ErrorIs(t, steps[len(steps)-1].err, ErrKeyRejected)
	assert.False(t, s.IsReady())
	assert.Equal(t, StateAwaitKeyAccept, s.State())
}

func TestWrongLocalKeyIsRefusedByDevice(t *testing.T) {
	other := bytes.Repeat([]byte{0x11}, 16)
	s := New(Options{LocalKey: other})
	p := bletest.NewPeer(bletest.PeerOptions{})

	frames, err := p.Start()
	require.NoError(t, err)
	resp, err := s.HandleMessage(frames[0])
	require.NoError(t, err)

	_, err = p.Receive(resp)
	assert.Error(t, err)
	assert.False(t, s.IsReady())
}

func TestEncryptRequiresReady(t *testing.T) {
	s := New(Options{})
	_, err := s.Encrypt([]byte{0x01})
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = s.Decrypt(make([]byte, 22))
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestEncryptedCommandReachesDevice(t *testing.T) {
	s := New(Options{})
	p := bletest.NewPeer(bletest.PeerOptions{})
	drive(t, s, p)
	require.True(t, s.IsReady())

	cmd := protocol.WriteSingleRegister(2011, 1)
	sealed, err := s.Encrypt(cmd.Bytes())
	require.NoError(t, err)
	assert.NotEqual(t, cmd.Bytes(), sealed)

	_, err = p.Receive(sealed)
	require.NoError(t, err)
	got := p.Commands()
	require.Len(t, got, 1)
	assert.Equal(t, cmd.Bytes(), got[0].Bytes())

	// Device-to-host data decrypts with the same session.
	frame, err := p.SealData([]byte{0x01, 0x03, 0x02, 0x00, 0x64})
	require.NoError(t, err)
	plain, err := s.Decrypt(frame)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x03, 0x02, 0x00, 0x64}, plain)
}

func TestResetClearsKeyMaterial(t *testing.T) {
	s := New(Options{})
	drive(t, s, bletest.NewPeer(bletest.PeerOptions{}))
	require.True(t, s.IsReady())
	oldReady := s.Ready()

	// Keep references to the backing arrays to prove they were wiped.
	keys := [][]byte{s.unsecureKey, s.unsecureIV, s.secureKey, s.secureIV}
	for _, k := range keys {
		require.NotEmpty(t, k)
	}

	s.Reset()

	for i, k := range keys {
		assert.Equal(t, make([]byte, len(k)), k, "key buffer %d not zeroed", i)
	}
	assert.Nil(t, s.unsecureKey)
	assert.Nil(t, s.secureKey)
	assert.Nil(t, s.priv)
	assert.Equal(t, StateAwaitChallenge, s.State())
	assert.False(t, s.IsReady())
	assert.False(t, isClosed(s.Ready()), "Reset must arm a fresh readiness channel")
	assert.True(t, isClosed(oldReady))

	_, err := s.Encrypt([]byte{0x01})
	assert.ErrorIs(t, err, ErrNotReady)

	// Idempotent.
	s.Reset()
	assert.Equal(t, StateAwaitChallenge, s.State())

	// A fresh handshake works after a reset.
	drive(t, s, bletest.NewPeer(bletest.PeerOptions{}))
	assert.True(t, s.IsReady())
	assert.True(t, isClosed(s.Ready()))
}

func TestResetBeforeReadyKeepsWaiters(t *testing.T) {
	s := New(Options{})
	ready := s.Ready()
	s.Reset()
	assert.Equal(t, ready, s.Ready(), "an unfired readiness channel is reused")
}
