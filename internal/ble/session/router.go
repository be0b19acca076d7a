package session

import (
	"errors"
	"log/slog"
	"sync"
)

// Handshaker is the part of a Session the Router drives.
type Handshaker interface {
	IsReady() bool
	HandleMessage(data []byte) ([]byte, error)
	Decrypt(data []byte) ([]byte, error)
}

// Router dispatches BLE notifications to a Session and sends the handshake
// responses it produces. Handle is meant to be installed as the notify
// characteristic callback.
type Router struct {
	session Handshaker
	send    func([]byte) error
	logger  *slog.Logger

	// mu serializes session updates with Close.
	mu     sync.Mutex
	closed bool

	// DataHandler receives decrypted data frames once the session is ready.
	// Set it before Handle is installed.
	DataHandler func([]byte)
}

// NewRouter creates a Router. send writes a frame to the device.
func NewRouter(s Handshaker, send func([]byte) error, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{session: s, send: send, logger: logger}
}

// Handle processes one notification. It never panics on bad input; rejected
// frames are logged and dropped.
func (r *Router) Handle(data []byte) {
	resp, plain, ok := r.dispatch(data)
	if !ok {
		return
	}
	if plain != nil {
		r.DataHandler(plain)
		return
	}
	if resp == nil {
		return
	}
	if err := r.send(resp); err != nil {
		r.logger.Warn("[BLE] failed to send handshake response", "error", err)
	}
}

// dispatch feeds data to the session while holding mu, so that no session
// state changes once Close has returned. Sending and the data hook run
// outside the lock because either may deliver the next notification
// synchronously.
func (r *Router) dispatch(data []byte) (resp, plain []byte, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.logger.Debug("[BLE] dropping notification after router closed")
		return nil, nil, false
	}

	if r.session.IsReady() {
		if r.DataHandler == nil {
			return nil, nil, false
		}
		plain, err := r.session.Decrypt(data)
		if err != nil {
			r.logger.Warn("[BLE] dropping undecryptable data frame", "error", err)
			return nil, nil, false
		}
		return nil, plain, true
	}

	resp, err := r.session.HandleMessage(data)
	switch {
	case err == nil:
	case errors.Is(err, ErrUnexpectedMessage):
		r.logger.Debug("[BLE] dropping out-of-sequence message", "error", err)
	default:
		r.logger.Warn("[BLE] dropping handshake message", "error", err)
	}
	return resp, nil, true
}

// Close detaches the router from its session. It waits for a session update
// in progress, and every later delivery is dropped. Call it after
// unsubscribing and before resetting the session: the BLE stack may still
// deliver a notification that was already in flight.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}
