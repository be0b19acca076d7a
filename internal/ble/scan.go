package ble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrDeviceNotFound is returned when discovery ends without a match.
var ErrDeviceNotFound = errors.New("ble: device not found")

// ScanOptions controls ScanForDevices.
type ScanOptions struct {
	// Duration bounds the scan. Zero stops at the first matching device.
	Duration time.Duration
	// Match filters devices; nil accepts everything.
	Match func(Device) bool
}

// ScanForDevices discovers peripherals, de-duplicated by address. When a
// device is seen more than once the strongest signal wins.
func ScanForDevices(ctx context.Context, adapter Adapter, opts ScanOptions) ([]Device, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	var (
		scanCtx context.Context
		cancel  context.CancelFunc
	)
	if opts.Duration > 0 {
		scanCtx, cancel = context.WithTimeout(ctx, opts.Duration)
	} else {
		scanCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	var mu sync.Mutex
	var devices []Device
	seen := make(map[string]int)

	err := adapter.Scan(scanCtx, func(d Device) {
		if scanCtx.Err() != nil {
			return
		}
		if opts.Match != nil && !opts.Match(d) {
			return
		}
		key := strings.ToUpper(d.Address)

		mu.Lock()
		defer mu.Unlock()
		if idx, ok := seen[key]; ok {
			if d.RSSI > devices[idx].RSSI {
				devices[idx].RSSI = d.RSSI
				if d.Name != "" {
					devices[idx].Name = d.Name
				}
			}
			return
		}
		seen[key] = len(devices)
		devices = append(devices, d)
		if opts.Duration == 0 {
			cancel()
		}
	})

	if err != nil && scanCtx.Err() == nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	return devices, nil
}

// FindDeviceByAddress scans for at most timeout until the peripheral with
// the given address advertises.
func FindDeviceByAddress(ctx context.Context, adapter Adapter, address string, timeout time.Duration) (Device, error) {
	findCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	devices, err := ScanForDevices(findCtx, adapter, ScanOptions{
		Match: func(d Device) bool { return strings.EqualFold(d.Address, address) },
	})
	if err != nil {
		return Device{}, err
	}
	if len(devices) == 0 {
		if err := ctx.Err(); err != nil {
			return Device{}, fmt.Errorf("ble: find %s: %w", LoggableAddress(address), err)
		}
		return Device{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, LoggableAddress(address))
	}
	return devices[0], nil
}
