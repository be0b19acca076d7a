// Package writer sends a single field write to a Bluetti power station,
// either as a plain Modbus frame or through an encrypted session. Each write
// owns the link for its duration and always leaves it disconnected.
package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chaz8081/bluetti-ble/internal/ble"
	"github.com/chaz8081/bluetti-ble/internal/ble/protocol"
	"github.com/chaz8081/bluetti-ble/internal/ble/session"
	"github.com/chaz8081/bluetti-ble/internal/device"
)

// Config bounds one write attempt.
type Config struct {
	Timeout           time.Duration // whole attempt, cleanup excluded
	UseEncryption     bool
	DiscoverTimeout   time.Duration
	ConnectAttempts   int
	SettleDelay       time.Duration // pause after an encrypted write before disconnecting
	ConnectBackoff    time.Duration
	MaxConnectBackoff time.Duration
}

// DefaultConfig returns the stock limits with encryption off.
func DefaultConfig() Config {
	return Config{
		Timeout:           15 * time.Second,
		DiscoverTimeout:   5 * time.Second,
		ConnectAttempts:   10,
		SettleDelay:       500 * time.Millisecond,
		ConnectBackoff:    250 * time.Millisecond,
		MaxConnectBackoff: 2 * time.Second,
	}
}

// withDefaults fills unset limits from DefaultConfig. A zero SettleDelay is
// kept.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.DiscoverTimeout <= 0 {
		c.DiscoverTimeout = d.DiscoverTimeout
	}
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = d.ConnectAttempts
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = d.SettleDelay
	}
	if c.ConnectBackoff <= 0 {
		c.ConnectBackoff = d.ConnectBackoff
	}
	if c.MaxConnectBackoff <= 0 {
		c.MaxConnectBackoff = d.MaxConnectBackoff
	}
	return c
}

// Session is the encryption state the writer drives. *session.Session
// implements it.
type Session interface {
	session.Handshaker
	Ready() <-chan struct{}
	Encrypt(plaintext []byte) ([]byte, error)
	Reset()
}

var _ Session = (*session.Session)(nil)

// Option configures a Writer.
type Option func(*Writer)

// WithLinkLock shares lock with other users of the same device. The default
// is ble.LockFor(address).
func WithLinkLock(lock *ble.LinkLock) Option {
	return func(w *Writer) { w.lock = lock }
}

// WithSession replaces the encryption session.
func WithSession(s Session) Option {
	return func(w *Writer) { w.session = s }
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) { w.logger = logger }
}

// WithClient reuses an existing client for plain writes.
func WithClient(c *ble.Client) Option {
	return func(w *Writer) { w.client = c }
}

// Writer writes fields of one device.
type Writer struct {
	dev     *device.Device
	adapter ble.Adapter
	address string
	cfg     Config

	lock    *ble.LinkLock
	session Session
	client  *ble.Client
	logger  *slog.Logger
}

// New creates a Writer for dev at address. adapter may be nil when a client
// is supplied for plain writes.
func New(dev *device.Device, adapter ble.Adapter, address string, cfg Config, opts ...Option) (*Writer, error) {
	if dev == nil {
		return nil, errors.New("writer: nil device")
	}
	w := &Writer{
		dev:     dev,
		adapter: adapter,
		address: address,
		cfg:     cfg.withDefaults(),
	}
	for _, opt := range opts {
		opt(w)
	}

	if w.address == "" && w.client != nil {
		w.address = w.client.Address()
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	w.logger = w.logger.With("device", ble.LoggableAddress(w.address), "model", dev.Model())
	if w.lock == nil {
		if w.address != "" {
			w.lock = ble.LockFor(w.address)
		} else {
			w.lock = ble.NewLinkLock()
		}
	}
	if w.session == nil && w.cfg.UseEncryption {
		w.session = session.New(session.Options{Logger: w.logger})
	}
	return w, nil
}

// Write sets field to value and reports whether the command was delivered.
// Failures are logged, never returned.
func (w *Writer) Write(ctx context.Context, field device.FieldName, value device.Value) bool {
	return w.WriteErr(ctx, field, value) == nil
}

// WriteErr is Write with the failure reason.
func (w *Writer) WriteErr(ctx context.Context, field device.FieldName, value device.Value) error {
	if !w.dev.HasField(field) {
		err := fmt.Errorf("%w: %s", device.ErrUnsupportedField, field)
		w.logger.Error("Field not supported", "field", field)
		return err
	}
	cmd, err := w.dev.BuildWriteCommand(field, value)
	if err != nil {
		w.logger.Error("Rejected write", "field", field, "value", value.String(), "error", err)
		return err
	}

	log := w.logger.With("attempt", uuid.NewString(), "field", field)

	if err := w.lock.Acquire(ctx); err != nil {
		err = classify(fmt.Errorf("writer: waiting for link: %w", err))
		logFailure(log, err)
		return err
	}
	defer w.lock.Release()

	attemptCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	start := time.Now()
	if err := classify(w.attempt(attemptCtx, cmd, log)); err != nil {
		logFailure(log, err, "elapsed", time.Since(start).Round(time.Millisecond))
		return err
	}
	log.Debug("[BLE] write successful", "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

func logFailure(log *slog.Logger, err error, args ...any) {
	args = append([]any{"error", err}, args...)
	if errors.Is(err, ErrCanceled) {
		log.Info("[BLE] write canceled", args...)
		return
	}
	log.Warn("[BLE] write failed", args...)
}

// attempt runs one write. Cleanup is deferred inside the mode-specific
// paths, so it also runs when the body panics.
func (w *Writer) attempt(ctx context.Context, cmd protocol.Command, log *slog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrTransport, r)
		}
	}()
	if w.cfg.UseEncryption {
		return w.writeEncrypted(ctx, cmd, log)
	}
	return w.writePlain(ctx, cmd, log)
}

func (w *Writer) writePlain(ctx context.Context, cmd protocol.Command, log *slog.Logger) error {
	client := w.client
	if client == nil {
		if w.adapter == nil || w.address == "" {
			return ErrNoTransport
		}
		client = ble.NewClient(w.adapter, w.address)
		w.client = client
	}
	defer func() {
		if err := client.Disconnect(); err != nil {
			log.Debug("[BLE] disconnect failed", "error", err)
		}
	}()

	if !client.IsConnected() {
		if err := client.Connect(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		}
	}
	if err := client.WriteCharacteristic(cmd.Bytes()); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}

func (w *Writer) writeEncrypted(ctx context.Context, cmd protocol.Command, log *slog.Logger) error {
	if w.adapter == nil || w.address == "" || w.session == nil {
		return ErrNoTransport
	}
	sess := w.session
	ready := sess.Ready()

	var (
		client *ble.Client
		router *session.Router
	)
	defer func() {
		if client != nil {
			if err := client.StopNotify(); err != nil {
				log.Debug("[BLE] stop notify failed", "error", err)
			}
		}
		if router != nil {
			router.Close()
		}
		sess.Reset()
		if client != nil {
			if err := client.Disconnect(); err != nil {
				log.Debug("[BLE] disconnect failed", "error", err)
			}
		}
	}()

	log.Debug("[BLE] searching for device")
	dev, err := ble.FindDeviceByAddress(ctx, w.adapter, w.address, w.cfg.DiscoverTimeout)
	if err != nil {
		return err
	}

	log.Debug("[BLE] connecting", "name", dev.Name, "rssi", dev.RSSI)
	client, err = ble.EstablishConnection(ctx, w.adapter, dev, ble.ConnectOptions{
		MaxAttempts: w.cfg.ConnectAttempts,
		Backoff:     w.cfg.ConnectBackoff,
		MaxBackoff:  w.cfg.MaxConnectBackoff,
		Logger:      log,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	router = session.NewRouter(sess, client.WriteCharacteristic, log)
	if err := client.StartNotify(router.Handle); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	select {
	case <-ready:
	case <-ctx.Done():
		return fmt.Errorf("writer: waiting for encrypted session: %w", ctx.Err())
	}

	sealed, err := sess.Encrypt(cmd.Bytes())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if err := client.WriteCharacteristic(sealed); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	select {
	case <-time.After(w.cfg.SettleDelay):
	case <-ctx.Done():
		return fmt.Errorf("writer: settling: %w", ctx.Err())
	}
	return nil
}
