package writer

import (
	"context"
	"errors"
	"fmt"

	"github.com/chaz8081/bluetti-ble/internal/ble"
)

// Every failed write is reported as exactly one of these, or as one of the
// device validation errors.
var (
	ErrConnectionFailed = errors.New("writer: connection failed")
	ErrTransport        = errors.New("writer: transport error")
	ErrTimeoutExceeded  = errors.New("writer: timeout exceeded")
	ErrNoTransport      = errors.New("writer: no client or address for write")
	ErrCanceled         = errors.New("writer: canceled by caller")
)

// classify maps an attempt error onto the writer's error set. A deadline
// anywhere in the chain wins: the attempt ran out of time, whatever step it
// was on. A cancelled caller context is reported as ErrCanceled.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeoutExceeded, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrCanceled, err)
	case errors.Is(err, ErrTimeoutExceeded),
		errors.Is(err, ErrCanceled),
		errors.Is(err, ErrConnectionFailed),
		errors.Is(err, ErrTransport),
		errors.Is(err, ErrNoTransport),
		errors.Is(err, ble.ErrDeviceNotFound):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
}
