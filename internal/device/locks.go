package device

import (
	"sort"
	"sync"
)

// LockManager provides per-device mutual exclusion for concurrent command
// execution. Uses a keyed mutex pattern: each device name gets its own
// mutex, allowing commands to different devices to run concurrently while
// serializing commands to the same device.
type LockManager struct {
	mu    sync.Mutex             // Guards the locks map itself
	locks map[string]*sync.Mutex // Per-device mutexes
}

// NewLockManager creates a new LockManager.
func NewLockManager() *LockManager {
	return &LockManager{
		locks: make(map[string]*sync.Mutex),
	}
}

// Lock acquires the mutex for the given device.
// Creates the mutex on first access if it doesn't exist.
func (m *LockManager) Lock(device string) {
	m.mu.Lock()
	devLock, exists := m.locks[device]
	if !exists {
		devLock = &sync.Mutex{}
		m.locks[device] = devLock
	}
	m.mu.Unlock()

	// Acquire the per-device lock outside the manager lock to avoid contention
	devLock.Lock()
}

// Unlock releases the mutex for the given device.
func (m *LockManager) Unlock(device string) {
	m.mu.Lock()
	devLock, exists := m.locks[device]
	m.mu.Unlock()

	if exists {
		devLock.Unlock()
	}
}

// LockAll acquires locks for ALL given devices.
// Sorts device names lexicographically BEFORE acquiring so that two
// callers locking overlapping sets cannot deadlock.
func (m *LockManager) LockAll(devices []string) {
	if len(devices) == 0 {
		return
	}

	sorted := make([]string, len(devices))
	copy(sorted, devices)
	sort.Strings(sorted)

	for _, device := range sorted {
		m.Lock(device)
	}
}

// UnlockAll releases locks for all given devices.
// Releases in reverse sorted order for symmetry with LockAll.
func (m *LockManager) UnlockAll(devices []string) {
	if len(devices) == 0 {
		return
	}

	sorted := make([]string, len(devices))
	copy(sorted, devices)
	sort.Strings(sorted)

	for i := len(sorted) - 1; i >= 0; i-- {
		m.Unlock(sorted[i])
	}
}
