// Package session implements the Bluetti encryption handshake. A Session is
// driven entirely by inbound notifications: the device issues a challenge,
// both sides derive an unsecure key from it, exchange ECDH public keys under
// that key, and finally agree on a secure key used for commands.
package session

import (
	"crypto/ecdh"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	blecrypto "github.com/chaz8081/bluetti-ble/internal/ble/crypto"
	"github.com/chaz8081/bluetti-ble/internal/ble/protocol"
)

// State is the handshake step a Session is waiting on.
type State int

const (
	StateAwaitChallenge State = iota
	StateAwaitAccept
	StateAwaitPeerPubKey
	StateAwaitKeyAccept
	StateReady
)

func (s State) String() string {
	switch s {
	case StateAwaitChallenge:
		return "await-challenge"
	case StateAwaitAccept:
		return "await-accept"
	case StateAwaitPeerPubKey:
		return "await-peer-pubkey"
	case StateAwaitKeyAccept:
		return "await-key-accept"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	// ErrKeyNotInitialized is returned for an encrypted frame that arrives
	// before a challenge has been processed.
	ErrKeyNotInitialized = errors.New("session: received encrypted message before key initialization")
	// ErrUnexpectedMessage is returned for a message that does not match the
	// current handshake step. The state is left unchanged.
	ErrUnexpectedMessage = errors.New("session: unexpected message")
	// ErrKeyRejected is returned when the device refuses our public key.
	ErrKeyRejected = errors.New("session: public key rejected by device")
	// ErrNotReady is returned by Encrypt and Decrypt before the handshake completes.
	ErrNotReady = errors.New("session: not ready for commands")
)

// Options configures a Session.
type Options struct {
	LocalKey []byte       // firmware AES-128 key; defaults to crypto.DefaultLocalKey
	Rand     io.Reader    // entropy for ECDH keys and seeds; defaults to crypto/rand
	Logger   *slog.Logger // defaults to slog.Default()
}

// Session holds the key material of one connection attempt.
type Session struct {
	localKey []byte
	rand     io.Reader
	logger   *slog.Logger

	mu          sync.Mutex
	state       State
	unsecureKey []byte
	unsecureIV  []byte
	secureKey   []byte
	secureIV    []byte
	priv        *ecdh.PrivateKey
	ready       chan struct{}
	readyClosed bool
}

// New creates a Session waiting for a challenge.
func New(opts Options) *Session {
	if opts.LocalKey == nil {
		opts.LocalKey = blecrypto.DefaultLocalKey
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	localKey := make([]byte, len(opts.LocalKey))
	copy(localKey, opts.LocalKey)
	return &Session{
		localKey: localKey,
		rand:     opts.Rand,
		logger:   opts.Logger,
		state:    StateAwaitChallenge,
		ready:    make(chan struct{}),
	}
}

// State returns the current handshake step.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsReady reports whether commands may be encrypted.
func (s *Session) IsReady() bool {
	return s.State() == StateReady
}

// Ready returns a channel closed when the handshake completes. A Reset arms
// a new channel, so callers should fetch it once per attempt.
func (s *Session) Ready() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// HandleMessage advances the handshake with one inbound notification and
// returns the frame to send back, if any. Rejected messages leave the state
// untouched.
func (s *Session) HandleMessage(data []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateReady {
		return nil, fmt.Errorf("%w: handshake frame after session is ready", ErrUnexpectedMessage)
	}

	if msg, err := protocol.Parse(data); err == nil && msg.IsPreKeyExchange() {
		if err := msg.VerifyChecksum(); err != nil {
			return nil, err
		}
		return s.handleClear(msg)
	}

	if s.unsecureKey == nil {
		return nil, ErrKeyNotInitialized
	}

	key, iv := s.keyIV()
	plain, err := blecrypto.Decrypt(data, key, iv)
	if err != nil {
		return nil, fmt.Errorf("session: decrypt: %w", err)
	}
	inner, err := protocol.Parse(plain)
	if err != nil {
		return nil, err
	}
	if !inner.IsPreKeyExchange() {
		return nil, fmt.Errorf("%w: encrypted frame is not a handshake message", ErrUnexpectedMessage)
	}
	if err := inner.VerifyChecksum(); err != nil {
		return nil, err
	}
	return s.handleEncrypted(inner)
}

func (s *Session) handleClear(msg protocol.Message) ([]byte, error) {
	switch {
	case msg.Type() == protocol.MessageChallenge && s.state == StateAwaitChallenge:
		key, iv, err := blecrypto.DeriveChallengeKey(s.localKey, msg.Payload())
		if err != nil {
			return nil, fmt.Errorf("session: challenge: %w", err)
		}
		proof, err := blecrypto.ChallengeResponse(iv)
		if err != nil {
			return nil, err
		}
		resp, err := protocol.NewMessage(protocol.MessageChallengeResponse, proof)
		if err != nil {
			return nil, err
		}
		s.unsecureKey, s.unsecureIV = key, iv
		s.state = StateAwaitAccept
		return resp.Bytes(), nil

	case msg.Type() == protocol.MessageChallengeAccepted && s.state == StateAwaitAccept:
		s.logger.Debug("challenge accepted")
		s.state = StateAwaitPeerPubKey
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %s in state %s", ErrUnexpectedMessage, msg.Type(), s.state)
}

func (s *Session) handleEncrypted(msg protocol.Message) ([]byte, error) {
	switch {
	case msg.Type() == protocol.MessagePeerPubKey && s.state == StateAwaitPeerPubKey:
		return s.exchangeKeys(msg.Payload())

	case msg.Type() == protocol.MessagePubKeyAccepted && s.state == StateAwaitKeyAccept:
		payload := msg.Payload()
		if len(payload) == 0 || payload[0] != 0x00 {
			return nil, fmt.Errorf("%w: status % x", ErrKeyRejected, payload)
		}
		s.state = StateReady
		if !s.readyClosed {
			close(s.ready)
			s.readyClosed = true
		}
		s.logger.Debug("session ready for commands")
		return nil, nil
	}
	return nil, fmt.Errorf("%w: encrypted %s in state %s", ErrUnexpectedMessage, msg.Type(), s.state)
}

// exchangeKeys derives the secure key from the peer's public key and returns
// our public key encrypted under the unsecure key.
func (s *Session) exchangeKeys(peerKey []byte) ([]byte, error) {
	peerPub, err := blecrypto.ParsePublicKey(peerKey)
	if err != nil {
		return nil, fmt.Errorf("session: peer public key: %w", err)
	}
	priv, pub, err := blecrypto.GenerateKeyPair(s.rand)
	if err != nil {
		return nil, err
	}
	shared, err := blecrypto.DeriveSharedSecret(priv, peerPub)
	if err != nil {
		return nil, err
	}
	defer blecrypto.Zero(shared)

	key, iv, err := blecrypto.DeriveSessionKey(shared)
	if err != nil {
		return nil, err
	}

	msg, err := protocol.NewMessage(protocol.MessageLocalPubKey, blecrypto.EncodePublicKey(pub))
	if err != nil {
		return nil, err
	}
	resp, err := blecrypto.Encrypt(msg.Bytes(), s.unsecureKey, s.unsecureIV)
	if err != nil {
		return nil, fmt.Errorf("session: encrypt public key: %w", err)
	}

	s.priv = priv
	s.secureKey, s.secureIV = key, iv
	s.state = StateAwaitKeyAccept
	return resp, nil
}

// keyIV returns the secure pair once it exists, else the unsecure pair.
// Caller must hold mu.
func (s *Session) keyIV() ([]byte, []byte) {
	if s.secureKey != nil {
		return s.secureKey, s.secureIV
	}
	return s.unsecureKey, s.unsecureIV
}

// Encrypt seals a command with the secure key.
func (s *Session) Encrypt(plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return nil, ErrNotReady
	}
	return blecrypto.Seal(plaintext, s.secureKey, s.rand)
}

// Decrypt opens a data frame sealed with the secure key.
func (s *Session) Decrypt(data []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return nil, ErrNotReady
	}
	return blecrypto.Open(data, s.secureKey)
}

// Reset zeroes all key material and returns the session to
// StateAwaitChallenge. Safe to call repeatedly.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range [][]byte{s.unsecureKey, s.unsecureIV, s.secureKey, s.secureIV} {
		blecrypto.Zero(b)
	}
	s.unsecureKey, s.unsecureIV = nil, nil
	s.secureKey, s.secureIV = nil, nil
	s.priv = nil
	s.state = StateAwaitChallenge
	if s.readyClosed {
		s.ready = make(chan struct{})
		s.readyClosed = false
	}
}
