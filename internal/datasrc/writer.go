package datasrc

// ZoneWriter is the three-phase object returned by GetCachedZoneWriter.
// Load is called with no core lock held. When the builder updates a
// published cache, Install and Cleanup are called together inside the
// map mutex's critical section; at configure time, before the cache is
// published, they are called without it.
type ZoneWriter interface {
	// Load parses/reads the new zone image off-line. On failure the
	// writer must not have touched the cache.
	Load() error
	// Install atomically swaps the loaded image into the cache.
	Install()
	// Cleanup releases any intermediate state. Always safe to call,
	// even if Load failed or was never called.
	Cleanup()
}

// zoneWriter is the generic ZoneWriter backing every loader: build
// produces a new image off-line, and Install swaps it into cache under
// origin. persist, when non-nil, additionally writes the image to a
// mapped instance's backing segment file.
type zoneWriter struct {
	cache   *ZoneCache
	origin  string
	build   func() (*zoneImage, error)
	persist *MappedSegment

	built *zoneImage
}

func (w *zoneWriter) Load() error {
	img, err := w.build()
	if err != nil {
		return err
	}
	w.built = img
	return nil
}

func (w *zoneWriter) Install() {
	w.cache.swap(w.origin, w.built)
	if w.persist != nil {
		w.persist.persist(w.built)
	}
}

func (w *zoneWriter) Cleanup() {
	w.built = nil
}

// Loader produces zone writers for a single client instance's backing
// store (a MasterFiles directory, a sqlite3 database, ...).
type Loader interface {
	// HasZone reports whether this loader serves origin at all.
	HasZone(origin string) bool
	// NewWriter returns a writer that will load origin into cache.
	// Returns ErrZoneNotFound if origin is not served.
	NewWriter(origin string, cache *ZoneCache) (ZoneWriter, error)
}
