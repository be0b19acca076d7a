// Package ble provides the Bluetooth Low Energy transport for Bluetti power
// stations: adapter and connection abstractions, a connected client with the
// write/notify characteristic pair, discovery, connection retry, and the
// per-device link lock.
package ble

import "context"

// Bluetti GATT UUIDs
const (
	ServiceUUID    = "0000ff00-0000-1000-8000-00805f9b34fb"
	NotifyCharUUID = "0000ff01-0000-1000-8000-00805f9b34fb"
	WriteCharUUID  = "0000ff02-0000-1000-8000-00805f9b34fb"
)

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data to the characteristic without waiting for a response.
	Write(data []byte) error
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
	// Unsubscribe disables notifications.
	Unsubscribe() error
}

// Device represents a discovered BLE peripheral. Address is a MAC address
// on Linux and Windows and a CoreBluetooth UUID on macOS.
type Device struct {
	Name    string
	Address string
	RSSI    int
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan reports advertising peripherals to found until ctx is done.
	Scan(ctx context.Context, found func(Device)) error
	// Connect establishes a connection to the device with the given address.
	Connect(ctx context.Context, address string) (Connection, error)
}
