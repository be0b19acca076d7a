package ble

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
)

// LinkLock serializes access to one physical BLE link. Hold it for the
// whole of an attempt, cleanup included.
type LinkLock struct {
	sem *semaphore.Weighted
}

// NewLinkLock returns an unlocked LinkLock.
func NewLinkLock() *LinkLock {
	return &LinkLock{sem: semaphore.NewWeighted(1)}
}

// Acquire blocks until the link is free or ctx is done.
func (l *LinkLock) Acquire(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

// TryAcquire takes the lock only if it is free.
func (l *LinkLock) TryAcquire() bool {
	return l.sem.TryAcquire(1)
}

// Release frees the link.
func (l *LinkLock) Release() {
	l.sem.Release(1)
}

var registry = struct {
	sync.Mutex
	locks map[string]*LinkLock
}{locks: make(map[string]*LinkLock)}

// LockFor returns the process-wide lock for address, so every reader and
// writer of the same power station shares it.
func LockFor(address string) *LinkLock {
	key := strings.ToUpper(address)
	registry.Lock()
	defer registry.Unlock()
	l, ok := registry.locks[key]
	if !ok {
		l = NewLinkLock()
		registry.locks[key] = l
	}
	return l
}
