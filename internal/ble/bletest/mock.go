// Package bletest provides in-memory BLE doubles for tests: a mock adapter
// whose connections record every write, and a simulated power station that
// answers the encryption handshake.
package bletest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chaz8081/bluetti-ble/internal/ble"
)

// MockCharacteristic records writes and allows subscribing.
type MockCharacteristic struct {
	mu             sync.Mutex
	writes         [][]byte
	callback       func([]byte)
	unsubscribes   int
	writeErr       error
	unsubscribeErr error

	onWrite       func([]byte)
	onSubscribe   func()
	onUnsubscribe func(stale func([]byte))
}

func (c *MockCharacteristic) Write(data []byte) error {
	c.mu.Lock()
	if c.writeErr != nil {
		err := c.writeErr
		c.mu.Unlock()
		return err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	hook := c.onWrite
	c.mu.Unlock()

	if hook != nil {
		hook(cp)
	}
	return nil
}

func (c *MockCharacteristic) Subscribe(cb func([]byte)) error {
	c.mu.Lock()
	c.callback = cb
	hook := c.onSubscribe
	c.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

func (c *MockCharacteristic) Unsubscribe() error {
	c.mu.Lock()
	c.unsubscribes++
	stale := c.callback
	c.callback = nil
	err := c.unsubscribeErr
	hook := c.onUnsubscribe
	c.mu.Unlock()

	if hook != nil && stale != nil {
		hook(stale)
	}
	return err
}

// SimulateNotification sends a notification to the subscriber.
func (c *MockCharacteristic) SimulateNotification(data []byte) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

// Writes returns a copy of everything written so far.
func (c *MockCharacteristic) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// Subscribed reports whether a callback is registered.
func (c *MockCharacteristic) Subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callback != nil
}

// Unsubscribes returns how many times Unsubscribe was called.
func (c *MockCharacteristic) Unsubscribes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unsubscribes
}

// FailWrites makes every later Write return err.
func (c *MockCharacteristic) FailWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

// FailUnsubscribe makes Unsubscribe return err.
func (c *MockCharacteristic) FailUnsubscribe(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribeErr = err
}

// OnWrite installs a hook run after each recorded write.
func (c *MockCharacteristic) OnWrite(fn func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onWrite = fn
}

// OnSubscribe installs a hook run after each Subscribe.
func (c *MockCharacteristic) OnSubscribe(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSubscribe = fn
}

// OnUnsubscribe installs a hook run after each Unsubscribe with the callback
// that was just removed. Real stacks may still run a callback whose
// notification was already in flight; the hook can simulate that.
func (c *MockCharacteristic) OnUnsubscribe(fn func(stale func([]byte))) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnsubscribe = fn
}

// MockConnection simulates a BLE connection.
type MockConnection struct {
	WriteChar  *MockCharacteristic
	NotifyChar *MockCharacteristic

	adapter *MockAdapter
	done    chan struct{}

	mu           sync.Mutex
	disconnectCb func()
	disconnects  int
}

func newMockConnection(a *MockAdapter) *MockConnection {
	return &MockConnection{
		WriteChar:  &MockCharacteristic{},
		NotifyChar: &MockCharacteristic{},
		adapter:    a,
		done:       make(chan struct{}),
	}
}

func (c *MockConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (ble.Characteristic, error) {
	if serviceUUID != ble.ServiceUUID {
		return nil, fmt.Errorf("mock: unknown service UUID %q", serviceUUID)
	}
	switch charUUID {
	case ble.WriteCharUUID:
		return c.WriteChar, nil
	case ble.NotifyCharUUID:
		return c.NotifyChar, nil
	default:
		return nil, fmt.Errorf("mock: unknown characteristic UUID %q", charUUID)
	}
}

func (c *MockConnection) Disconnect() error {
	c.mu.Lock()
	c.disconnects++
	first := c.disconnects == 1
	c.mu.Unlock()

	if first {
		close(c.done)
		if c.adapter != nil {
			c.adapter.release()
		}
	}
	return nil
}

func (c *MockConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

// SimulateDisconnect triggers the disconnect callback.
func (c *MockConnection) SimulateDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Disconnects returns how many times Disconnect was called.
func (c *MockConnection) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

// Done is closed on the first Disconnect.
func (c *MockConnection) Done() <-chan struct{} {
	return c.done
}

// MockAdapter simulates the BLE adapter.
type MockAdapter struct {
	mu           sync.Mutex
	devices      []ble.Device
	connections  []*MockConnection
	connectErrs  []error
	connectDelay time.Duration
	onConnect    func(*MockConnection)
	enables      int
	connects     int
	active       int
	maxActive    int
}

// NewMockAdapter returns an adapter advertising devices.
func NewMockAdapter(devices ...ble.Device) *MockAdapter {
	return &MockAdapter{devices: devices}
}

func (a *MockAdapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enables++
	return nil
}

func (a *MockAdapter) Scan(_ context.Context, found func(ble.Device)) error {
	a.mu.Lock()
	devices := make([]ble.Device, len(a.devices))
	copy(devices, a.devices)
	a.mu.Unlock()

	for _, d := range devices {
		found(d)
	}
	return nil
}

func (a *MockAdapter) Connect(ctx context.Context, _ string) (ble.Connection, error) {
	a.mu.Lock()
	a.connects++
	var err error
	if len(a.connectErrs) > 0 {
		err = a.connectErrs[0]
		a.connectErrs = a.connectErrs[1:]
	}
	delay := a.connectDelay
	a.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	conn := newMockConnection(a)
	a.mu.Lock()
	a.connections = append(a.connections, conn)
	a.active++
	if a.active > a.maxActive {
		a.maxActive = a.active
	}
	hook := a.onConnect
	a.mu.Unlock()

	if hook != nil {
		hook(conn)
	}
	return conn, nil
}

func (a *MockAdapter) release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active--
}

// FailConnects makes the next len(errs) Connect calls fail in order.
func (a *MockAdapter) FailConnects(errs ...error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connectErrs = append(a.connectErrs, errs...)
}

// SetConnectDelay makes Connect block for d (or until ctx is done).
func (a *MockAdapter) SetConnectDelay(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connectDelay = d
}

// OnConnect installs a hook run for every new connection.
func (a *MockAdapter) OnConnect(fn func(*MockConnection)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onConnect = fn
}

// Connections returns every connection created so far.
func (a *MockAdapter) Connections() []*MockConnection {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*MockConnection, len(a.connections))
	copy(out, a.connections)
	return out
}

// LatestConnection returns the most recently created connection, or nil.
func (a *MockAdapter) LatestConnection() *MockConnection {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.connections) == 0 {
		return nil
	}
	return a.connections[len(a.connections)-1]
}

// ConnectCalls returns how many times Connect was called.
func (a *MockAdapter) ConnectCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connects
}

// MaxConcurrent returns the largest number of simultaneously open connections.
func (a *MockAdapter) MaxConcurrent() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.maxActive
}

// ErrMockConnect is a convenience error for FailConnects.
var ErrMockConnect = errors.New("mock: connection refused")

var (
	_ ble.Adapter        = (*MockAdapter)(nil)
	_ ble.Connection     = (*MockConnection)(nil)
	_ ble.Characteristic = (*MockCharacteristic)(nil)
)
