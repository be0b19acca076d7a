package ble_test

import (
	"context"
	"errors"
	"testing"

	"github.com/chaz8081/bluetti-ble/internal/ble"
	"github.com/chaz8081/bluetti-ble/internal/ble/bletest"
)

const testAddr = "AA:BB:CC:DD:EE:FF"

func connectedClient(t *testing.T) (*ble.Client, *bletest.MockConnection) {
	t.Helper()
	adapter := bletest.NewMockAdapter()
	client := ble.NewClient(adapter, testAddr)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return client, adapter.LatestConnection()
}

func TestClientConnectDiscoversCharacteristics(t *testing.T) {
	client, conn := connectedClient(t)
	if !client.IsConnected() {
		t.Fatal("client should be connected after Connect()")
	}
	if client.Address() != testAddr {
		t.Errorf("Address() = %q, want %q", client.Address(), testAddr)
	}

	if err := client.WriteCharacteristic([]byte{0x01, 0x06}); err != nil {
		t.Fatalf("WriteCharacteristic() error = %v", err)
	}
	writes := conn.WriteChar.Writes()
	if len(writes) != 1 || writes[0][0] != 0x01 {
		t.Errorf("write characteristic got %x, want one write starting 01", writes)
	}
	if len(conn.NotifyChar.Writes()) != 0 {
		t.Error("nothing should be written to the notify characteristic")
	}
}

func TestClientConnectIsIdempotent(t *testing.T) {
	adapter := bletest.NewMockAdapter()
	client := ble.NewClient(adapter, testAddr)
	for i := 0; i < 2; i++ {
		if err := client.Connect(context.Background()); err != nil {
			t.Fatalf("Connect() #%d error = %v", i+1, err)
		}
	}
	if got := adapter.ConnectCalls(); got != 1 {
		t.Errorf("adapter Connect called %d times, want 1", got)
	}
}

func TestClientConnectFailure(t *testing.T) {
	adapter := bletest.NewMockAdapter()
	adapter.FailConnects(bletest.ErrMockConnect)
	client := ble.NewClient(adapter, testAddr)

	err := client.Connect(context.Background())
	if !errors.Is(err, bletest.ErrMockConnect) {
		t.Fatalf("Connect() error = %v, want %v", err, bletest.ErrMockConnect)
	}
	if client.IsConnected() {
		t.Error("client should not be connected after a failed Connect()")
	}
}

func TestClientNotify(t *testing.T) {
	client, conn := connectedClient(t)

	var got []byte
	if err := client.StartNotify(func(b []byte) { got = b }); err != nil {
		t.Fatalf("StartNotify() error = %v", err)
	}
	if !conn.NotifyChar.Subscribed() {
		t.Fatal("notify characteristic should be subscribed")
	}
	conn.NotifyChar.SimulateNotification([]byte{0x2A, 0x2A})
	if len(got) != 2 {
		t.Errorf("callback got %x, want 2a2a", got)
	}

	if err := client.StopNotify(); err != nil {
		t.Fatalf("StopNotify() error = %v", err)
	}
	if conn.NotifyChar.Subscribed() {
		t.Error("notify characteristic still subscribed after StopNotify()")
	}
	if conn.NotifyChar.Unsubscribes() != 1 {
		t.Errorf("Unsubscribe called %d times, want 1", conn.NotifyChar.Unsubscribes())
	}
}

func TestClientStopNotifyError(t *testing.T) {
	client, conn := connectedClient(t)
	boom := errors.New("gatt busy")
	conn.NotifyChar.FailUnsubscribe(boom)

	if err := client.StopNotify(); !errors.Is(err, boom) {
		t.Errorf("StopNotify() error = %v, want %v", err, boom)
	}
}

func TestClientWriteError(t *testing.T) {
	client, conn := connectedClient(t)
	boom := errors.New("att error")
	conn.WriteChar.FailWrites(boom)

	if err := client.WriteCharacteristic([]byte{0x00}); !errors.Is(err, boom) {
		t.Errorf("WriteCharacteristic() error = %v, want %v", err, boom)
	}
}

func TestClientNotConnected(t *testing.T) {
	client := ble.NewClient(bletest.NewMockAdapter(), testAddr)

	if err := client.WriteCharacteristic([]byte{0x01}); !errors.Is(err, ble.ErrNotConnected) {
		t.Errorf("WriteCharacteristic() error = %v, want ErrNotConnected", err)
	}
	if err := client.StartNotify(func([]byte) {}); !errors.Is(err, ble.ErrNotConnected) {
		t.Errorf("StartNotify() error = %v, want ErrNotConnected", err)
	}
	if err := client.StopNotify(); !errors.Is(err, ble.ErrNotConnected) {
		t.Errorf("StopNotify() error = %v, want ErrNotConnected", err)
	}
	if err := client.Disconnect(); err != nil {
		t.Errorf("Disconnect() on idle client error = %v, want nil", err)
	}
}

func TestClientDisconnectOnce(t *testing.T) {
	client, conn := connectedClient(t)

	if err := client.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if err := client.Disconnect(); err != nil {
		t.Fatalf("second Disconnect() error = %v", err)
	}
	if conn.Disconnects() != 1 {
		t.Errorf("connection closed %d times, want 1", conn.Disconnects())
	}
	if client.IsConnected() {
		t.Error("client still connected after Disconnect()")
	}
}

func TestClientLinkDrop(t *testing.T) {
	client, conn := connectedClient(t)

	conn.SimulateDisconnect()

	if client.IsConnected() {
		t.Error("client should report disconnected after the link drops")
	}
	if err := client.WriteCharacteristic([]byte{0x01}); !errors.Is(err, ble.ErrNotConnected) {
		t.Errorf("WriteCharacteristic() after drop error = %v, want ErrNotConnected", err)
	}
}
