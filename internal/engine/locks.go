// ABOUTME: Per-device mutual exclusion for engine state changes
// ABOUTME: Serializes work on one device while distinct devices proceed in parallel

package engine

import "sync"

type deviceLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newDeviceLocks() *deviceLocks {
	return &deviceLocks{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex of a device and returns its unlock function.
// Device mutexes are kept for the engine lifetime; the set of devices is
// bounded by configuration in practice.
func (d *deviceLocks) lock(deviceID string) func() {
	d.mu.Lock()
	m, ok := d.locks[deviceID]
	if !ok {
		m = &sync.Mutex{}
		d.locks[deviceID] = m
	}
	d.mu.Unlock()

	m.Lock()
	return m.Unlock
}
