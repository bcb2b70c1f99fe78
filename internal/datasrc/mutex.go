package datasrc

import "sync"

// CountingMutex is a sync.Mutex that records how many times it has
// been locked. It backs the client-list map mutex in production, not
// just in tests: callers that need to assert "the map mutex was
// acquired exactly twice during LOADZONE" read Locks() directly off
// the live mutex instead of substituting a test double.
type CountingMutex struct {
	mu     sync.Mutex
	locks  uint64
	holder bool
}

// Lock acquires the mutex and records the acquisition.
func (m *CountingMutex) Lock() {
	m.mu.Lock()
	m.locks++
	m.holder = true
}

// Unlock releases the mutex.
func (m *CountingMutex) Unlock() {
	m.holder = false
	m.mu.Unlock()
}

// Locks reports the total number of times Lock has returned. Safe to
// call only while the caller itself holds the mutex, or after all
// contending goroutines have quiesced (e.g. in a test's assertion
// phase), since it is not synchronized independently of the mutex.
func (m *CountingMutex) Locks() uint64 {
	return m.locks
}
