package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrNotConnected is returned by Client operations that need a live link.
var ErrNotConnected = errors.New("ble: not connected")

// Client owns one link to a power station and its write/notify
// characteristic pair.
type Client struct {
	adapter Adapter
	address string
	logger  *slog.Logger

	mu         sync.Mutex
	conn       Connection
	writeChar  Characteristic
	notifyChar Characteristic
	connected  bool
}

// NewClient creates a disconnected client for the device at address.
func NewClient(adapter Adapter, address string) *Client {
	return &Client{
		adapter: adapter,
		address: address,
		logger:  slog.Default().With("device", LoggableAddress(address)),
	}
}

// Address returns the peripheral address this client targets.
func (c *Client) Address() string {
	return c.address
}

// IsConnected reports whether the link is up.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Connect brings the link up and discovers the Bluetti characteristics.
// It is a no-op when already connected.
func (c *Client) Connect(ctx context.Context) error {
	if c.IsConnected() {
		return nil
	}
	if err := c.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}

	conn, err := c.adapter.Connect(ctx, c.address)
	if err != nil {
		return fmt.Errorf("ble: connect to %s: %w", LoggableAddress(c.address), err)
	}

	if err := c.setConnected(conn); err != nil {
		_ = conn.Disconnect()
		return err
	}

	conn.OnDisconnect(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.conn != conn {
			return
		}
		c.logger.Warn("[BLE] link dropped")
		c.clear()
	})

	c.logger.Debug("[BLE] connected")
	return nil
}

// setConnected records conn and discovers both characteristics.
func (c *Client) setConnected(conn Connection) error {
	writeChar, err := conn.DiscoverCharacteristic(ServiceUUID, WriteCharUUID)
	if err != nil {
		return fmt.Errorf("ble: discover write characteristic: %w", err)
	}
	notifyChar, err := conn.DiscoverCharacteristic(ServiceUUID, NotifyCharUUID)
	if err != nil {
		return fmt.Errorf("ble: discover notify characteristic: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
	c.writeChar = writeChar
	c.notifyChar = notifyChar
	c.connected = true
	return nil
}

// clear forgets the link (caller must hold mu).
func (c *Client) clear() {
	c.connected = false
	c.conn = nil
	c.writeChar = nil
	c.notifyChar = nil
}

// WriteCharacteristic sends data to the write characteristic.
func (c *Client) WriteCharacteristic(data []byte) error {
	c.mu.Lock()
	ch := c.writeChar
	c.mu.Unlock()
	if ch == nil {
		return ErrNotConnected
	}
	if err := ch.Write(data); err != nil {
		return fmt.Errorf("ble: write: %w", err)
	}
	return nil
}

// StartNotify subscribes callback to the notify characteristic.
func (c *Client) StartNotify(callback func([]byte)) error {
	c.mu.Lock()
	ch := c.notifyChar
	c.mu.Unlock()
	if ch == nil {
		return ErrNotConnected
	}
	if err := ch.Subscribe(callback); err != nil {
		return fmt.Errorf("ble: start notify: %w", err)
	}
	return nil
}

// StopNotify unsubscribes from the notify characteristic.
func (c *Client) StopNotify() error {
	c.mu.Lock()
	ch := c.notifyChar
	c.mu.Unlock()
	if ch == nil {
		return ErrNotConnected
	}
	if err := ch.Unsubscribe(); err != nil {
		return fmt.Errorf("ble: stop notify: %w", err)
	}
	return nil
}

// Disconnect tears the link down. Calling it on a disconnected client is a no-op.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.clear()
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Disconnect(); err != nil {
		return fmt.Errorf("ble: disconnect: %w", err)
	}
	c.logger.Debug("[BLE] disconnected")
	return nil
}
