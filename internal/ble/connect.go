package ble

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ConnectOptions bounds EstablishConnection.
type ConnectOptions struct {
	MaxAttempts int           // total connect attempts
	Backoff     time.Duration // delay before the second attempt, doubled each retry
	MaxBackoff  time.Duration // cap on the delay between attempts
	Logger      *slog.Logger
}

// DefaultConnectOptions returns sensible defaults.
func DefaultConnectOptions() ConnectOptions {
	return ConnectOptions{
		MaxAttempts: 10,
		Backoff:     250 * time.Millisecond,
		MaxBackoff:  2 * time.Second,
	}
}

// backoffDelay returns the delay before retry n, capped at max.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt > 30 {
		return max
	}
	delay := base << uint(attempt)
	if delay > max || delay <= 0 {
		return max
	}
	return delay
}

// EstablishConnection connects to dev, retrying with exponential backoff
// until MaxAttempts is exhausted or ctx is done.
func EstablishConnection(ctx context.Context, adapter Adapter, dev Device, opts ConnectOptions) (*Client, error) {
	defaults := DefaultConnectOptions()
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaults.MaxAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaults.Backoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaults.MaxBackoff
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	client := NewClient(adapter, dev.Address)
	var lastErr error
	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		// On the first attempt, try immediately; subsequent attempts use backoff.
		if attempt > 0 {
			delay := backoffDelay(attempt-1, opts.Backoff, opts.MaxBackoff)
			opts.Logger.Debug("[BLE] connect backoff", "attempt", attempt+1, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("ble: connect to %s: %w", LoggableAddress(dev.Address), ctx.Err())
			}
		}

		err := client.Connect(ctx)
		if err == nil {
			return client, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, err
		}
		opts.Logger.Warn("[BLE] connect attempt failed", "device", LoggableAddress(dev.Address), "attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("ble: giving up after %d attempts: %w", opts.MaxAttempts, lastErr)
}
