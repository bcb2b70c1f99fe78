package datasrc

import (
	"fmt"

	"github.com/nsauth/datasrc/internal/config"
)

// CacheType selects how a client instance's in-memory zone cache is
// backed.
type CacheType int

const (
	// CacheLocal keeps zone images in ordinary process heap memory.
	CacheLocal CacheType = iota
	// CacheMapped persists zone images through a MappedSegment so other
	// processes can read them without re-loading from the origin store.
	CacheMapped
)

// SegmentState tracks whether a mapped instance's backing segment is
// ready to serve (READY) or waiting on a SEGMENT_INFO_UPDATE before it
// can be used (WAITING), matching the state machine a client instance
// with CacheMapped goes through after RECONFIGURE but before its
// segment has been reset.
type SegmentState int

const (
	SegmentReady SegmentState = iota
	SegmentWaiting
)

// ClientInstance is one configured backend (a MasterFiles directory, a
// sqlite3 database, ...) within a single class's ClientList, in the
// priority order zones are resolved in.
type ClientInstance struct {
	Type   string
	Name   string
	Params *config.Value

	CacheEnable bool
	CacheType   CacheType
	CacheZones  []string // origins this instance caches, in config order

	segState SegmentState
	cache    *ZoneCache
	segment  *MappedSegment
	loader   Loader
}

// newClientInstance builds one instance from its configuration entry:
//
//	{"type": "MasterFiles", "cache-enable": true,
//	 "cache-zones": ["example.com."], "params": {...}}
func newClientInstance(name string, entry *config.Value, allowCacheLoad bool) (*ClientInstance, error) {
	typ, err := entry.GetString("type")
	if err != nil {
		return nil, fmt.Errorf("client instance %q: %w", name, err)
	}
	cacheEnable, err := entry.GetBool("cache-enable", false)
	if err != nil {
		return nil, fmt.Errorf("client instance %q: %w", name, err)
	}
	params := entry.Get("params")

	ci := &ClientInstance{
		Type:        typ,
		Name:        name,
		Params:      params,
		CacheEnable: cacheEnable,
		CacheType:   CacheLocal,
		segState:    SegmentReady,
	}

	if zonesV := entry.Get("cache-zones"); zonesV != nil {
		zones, err := zonesV.AsList()
		if err != nil {
			return nil, fmt.Errorf("client instance %q: cache-zones: %w", name, err)
		}
		for _, z := range zones {
			s, err := z.AsString()
			if err != nil {
				return nil, fmt.Errorf("client instance %q: cache-zones: %w", name, err)
			}
			origin, err := NormalizeOrigin(s)
			if err != nil {
				return nil, fmt.Errorf("client instance %q: cache-zones: %w", name, err)
			}
			ci.CacheZones = append(ci.CacheZones, origin)
		}
	}

	if cacheTypeV := entry.Get("cache-type"); cacheTypeV != nil {
		cacheType, err := cacheTypeV.AsString()
		if err != nil {
			return nil, fmt.Errorf("client instance %q: cache-type: %w", name, err)
		}
		switch cacheType {
		case "mapped":
			ci.CacheType = CacheMapped
			ci.segState = SegmentWaiting
		case "local":
			// ci.CacheType is already CacheLocal.
		default:
			return nil, fmt.Errorf("client instance %q: cache-type: invalid value %q", name, cacheType)
		}
	}

	loader, err := newLoader(typ, params)
	if err != nil {
		return nil, fmt.Errorf("client instance %q: %w", name, err)
	}
	ci.loader = loader

	if ci.CacheEnable {
		ci.cache = NewZoneCache()
		if ci.CacheType == CacheMapped {
			seg, err := NewMappedSegment(params)
			if err != nil {
				return nil, fmt.Errorf("client instance %q: %w", name, err)
			}
			ci.segment = seg
		}
		if allowCacheLoad {
			if err := ci.loadCacheZones(); err != nil {
				return nil, err
			}
		} else {
			for _, origin := range ci.CacheZones {
				ci.cache.addOrigin(origin, newZoneImage(origin))
			}
		}
	}

	return ci, nil
}

// loadCacheZones performs the initial, off-line load of every
// configured cache-zones entry. It is only called at configure time
// (the RECONFIGURE build phase), never under the map mutex.
func (ci *ClientInstance) loadCacheZones() error {
	for _, origin := range ci.CacheZones {
		ci.cache.addOrigin(origin, newZoneImage(origin))
		w, err := ci.loader.NewWriter(origin, ci.cache)
		if err != nil {
			return fmt.Errorf("client instance %q: load %s: %w", ci.Name, origin, err)
		}
		if err := w.Load(); err != nil {
			return fmt.Errorf("client instance %q: load %s: %w", ci.Name, origin, err)
		}
		w.Install()
		w.Cleanup()
	}
	return nil
}

// newLoader constructs the Loader for a client instance's type string.
func newLoader(typ string, params *config.Value) (Loader, error) {
	switch typ {
	case "MasterFiles":
		return NewMasterFilesLoader(params)
	case "sqlite3":
		return NewSqlite3Loader(params)
	default:
		return nil, fmt.Errorf("unknown client type %q", typ)
	}
}

// servesCachedZone reports whether origin is one of this instance's
// configured cache-zones.
func (ci *ClientInstance) servesCachedZone(origin string) bool {
	for _, z := range ci.CacheZones {
		if z == origin {
			return true
		}
	}
	return false
}
