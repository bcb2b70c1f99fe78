package datasrc

// ClientListMap is the published configuration: one ClientList per RR
// class. It is treated as immutable once built; RECONFIGURE replaces
// the whole map, never mutates an entry in place.
type ClientListMap map[RRClass]*ClientList

// Publisher guards the single pointer the query path and the builder
// both touch: readers take Snapshot() without blocking on anything but
// the map mutex itself, and the builder installs a new map (Lock,
// SwapLocked, Unlock) once it has been fully built off to the side.
type Publisher struct {
	mu      CountingMutex
	current ClientListMap
}

// NewPublisher returns a Publisher with an empty initial map.
func NewPublisher() *Publisher {
	return &Publisher{current: ClientListMap{}}
}

// Snapshot returns the currently published map under the map mutex.
// The returned map itself is never mutated after publication, so
// callers may read it freely after the lock is released.
func (p *Publisher) Snapshot() ClientListMap {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Swap installs next as the published map. Callers that need the two
// -critical-section loader protocol (GetCachedZoneWriter's Install
// phase) should use Lock/Unlock directly instead.
func (p *Publisher) Swap(next ClientListMap) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = next
}

// SwapLocked installs next as the published map without locking the
// map mutex itself. The caller must already hold the lock via Lock().
// The builder's generation promotion uses it in its own critical
// section, separate from the one that resets a mapped segment.
func (p *Publisher) SwapLocked(next ClientListMap) {
	p.current = next
}

// Lock acquires the map mutex directly, for callers that need to hold
// it across a multi-step operation (e.g. ZoneWriter.Install).
func (p *Publisher) Lock() { p.mu.Lock() }

// Unlock releases the map mutex.
func (p *Publisher) Unlock() { p.mu.Unlock() }

// Locks reports how many times the map mutex has been acquired, for
// lock-count assertions in tests.
func (p *Publisher) Locks() uint64 { return p.mu.Locks() }
