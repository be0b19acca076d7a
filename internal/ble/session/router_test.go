package session

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/bluetti-ble/internal/ble/bletest"
	"github.com/chaz8081/bluetti-ble/internal/ble/protocol"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// wire connects a router to a peer: every frame the router sends is fed to
// the peer and its replies are handed straight back to the router.
func wire(t *testing.T, r **Router, p *bletest.Peer) func([]byte) error {
	t.Helper()
	return func(data []byte) error {
		frames, err := p.Receive(data)
		if err != nil {
			return err
		}
		for _, f := range frames {
			(*r).Handle(f)
		}
		return nil
	}
}

func TestRouterCompletesHandshake(t *testing.T) {
	var logs bytes.Buffer
	s := New(Options{})
	p := bletest.NewPeer(bletest.PeerOptions{})

	var r *Router
	r = NewRouter(s, wire(t, &r, p), newTestLogger(&logs))

	frames, err := p.Start()
	require.NoError(t, err)
	for _, f := range frames {
		r.Handle(f)
	}

	assert.True(t, s.IsReady())
	assert.True(t, p.Ready())
	assert.NotContains(t, logs.String(), "WARN")
}

func TestRouterDeliversDataAfterReady(t *testing.T) {
	s := New(Options{})
	p := bletest.NewPeer(bletest.PeerOptions{})

	var r *Router
	r = NewRouter(s, wire(t, &r, p), newTestLogger(&bytes.Buffer{}))
	var got [][]byte
	r.DataHandler = func(b []byte) { got = append(got, b) }

	frames, err := p.Start()
	require.NoError(t, err)
	for _, f := range frames {
		r.Handle(f)
	}
	require.True(t, s.IsReady())
	assert.Empty(t, got, "handshake frames are not data")

	frame, err := p.SealData([]byte{0x01, 0x03, 0x02, 0x00, 0x01})
	require.NoError(t, err)
	r.Handle(frame)

	require.Len(t, got, 1)
	assert.Equal(t, []byte{0x01, 0x03, 0x02, 0x00, 0x01}, got[0])
}

func TestRouterDropsBadFrames(t *testing.T) {
	var logs bytes.Buffer
	s := New(Options{})
	sent := 0
	r := NewRouter(s, func([]byte) error { sent++; return nil }, newTestLogger(&logs))

	inputs := [][]byte{
		nil,
		{},
		{0x2A},
		{0x2A, 0x2A, 0x01, 0x04, 0x01, 0x02, 0x03, 0x04, 0xFF, 0xFF},
		bytes.Repeat([]byte{0x55}, 40),
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() { r.Handle(in) })
	}
	assert.Zero(t, sent)
	assert.Equal(t, StateAwaitChallenge, s.State())
	assert.Contains(t, logs.String(), "dropping handshake message")
}

func TestRouterLogsOutOfSequenceAtDebug(t *testing.T) {
	var logs bytes.Buffer
	r := NewRouter(New(Options{}), func([]byte) error { return nil }, newTestLogger(&logs))

	accepted, err := protocol.NewMessage(protocol.MessageChallengeAccepted, nil)
	require.NoError(t, err)
	r.Handle(accepted.Bytes())

	assert.Contains(t, logs.String(), "level=DEBUG")
	assert.Contains(t, logs.String(), "out-of-sequence")
}

func TestRouterLogsSendFailure(t *testing.T) {
	var logs bytes.Buffer
	s := New(Options{})
	r := NewRouter(s, func([]byte) error { return errors.New("link lost") }, newTestLogger(&logs))

	challenge, err := protocol.NewMessage(protocol.MessageChallenge, []byte{1, 2, 3, 4})
	require.NoError(t, err)
	r.Handle(challenge.Bytes())

	assert.Equal(t, StateAwaitAccept, s.State())
	assert.Contains(t, logs.String(), "failed to send handshake response")
	assert.Contains(t, logs.String(), "link lost")
}

func TestRouterIgnoresDataWithoutHandler(t *testing.T) {
	s := New(Options{})
	p := bletest.NewPeer(bletest.PeerOptions{})
	var r *Router
	r = NewRouter(s, wire(t, &r, p), nil)

	frames, err := p.Start()
	require.NoError(t, err)
	for _, f := range frames {
		r.Handle(f)
	}
	require.True(t, s.IsReady())
	assert.NotPanics(t, func() { r.Handle([]byte{0x00, 0x01}) })
}

func TestRouterDropsNotificationsAfterClose(t *testing.T) {
	var logs bytes.Buffer
	s := New(Options{})
	sent := 0
	r := NewRouter(s, func([]byte) error { sent++; return nil }, newTestLogger(&logs))

	challenge, err := protocol.NewMessage(protocol.MessageChallenge, []byte{1, 2, 3, 4})
	require.NoError(t, err)

	r.Close()
	r.Handle(challenge.Bytes())
	r.Close()

	assert.Equal(t, StateAwaitChallenge, s.State(), "a late challenge must not re-key the session")
	assert.Zero(t, sent)
	assert.Contains(t, logs.String(), "after router closed")
}
