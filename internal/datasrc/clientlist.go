package datasrc

import (
	"fmt"

	"github.com/miekg/dns"

	"github.com/nsauth/datasrc/internal/config"
)

// Status reports the outcome of GetCachedZoneWriter, distinguishing
// "here is a writer" from the various reasons none was produced.
type Status int

const (
	// WriterCreated means a ZoneWriter was successfully built; the
	// caller should call Load/Install/Cleanup on it.
	WriterCreated Status = iota
	// ZoneNotCached means no configured instance caches origin at all.
	ZoneNotCached
	// ZoneNotFound means a caching instance claims origin but its
	// loader could not locate it (e.g. file missing, row absent).
	ZoneNotFound
	// CacheNotWritable means the owning instance's mapped segment is
	// not currently in a writable mode.
	CacheNotWritable
	// CacheDisabled means the instance that serves origin has caching
	// turned off entirely (cache-enable: false); there is nothing to
	// write to.
	CacheDisabled
)

// ClientList holds one RR class's ordered client instances, the unit
// RECONFIGURE atomically swaps in.
type ClientList struct {
	class     RRClass
	instances []*ClientInstance
}

// Configure builds a new ClientList from a class's configuration list:
//
//	[{"name": "primary", "type": "MasterFiles", ...}, ...]
//
// allowCacheLoad controls whether cache-zones are loaded eagerly
// (true during normal RECONFIGURE) or left empty for a deferred
// LOADZONE (false, matching the original's CONFIG_ERROR-tolerant
// "build now, load later" path used when a client's backing store
// isn't ready yet at configure time).
func Configure(class RRClass, v *config.Value, allowCacheLoad bool) (*ClientList, error) {
	entries, err := v.AsList()
	if err != nil {
		return nil, fmt.Errorf("class %s: %w", class, err)
	}

	cl := &ClientList{class: class}
	for i, entry := range entries {
		name, err := entry.GetString("name")
		if err != nil {
			name = fmt.Sprintf("%s[%d]", class, i)
		}
		ci, err := newClientInstance(name, entry, allowCacheLoad)
		if err != nil {
			return nil, &ConfigError{Msg: fmt.Sprintf("class %s", class), Err: err}
		}
		cl.instances = append(cl.instances, ci)
	}
	return cl, nil
}

// Ready reports whether every mapped instance's segment has left the
// WAITING state. A class with no mapped instances is always ready.
func (cl *ClientList) Ready() bool {
	for _, ci := range cl.instances {
		if ci.CacheType == CacheMapped && ci.segState == SegmentWaiting {
			return false
		}
	}
	return true
}

// MappedInstances returns the instances using a memory-mapped segment,
// the set SEGMENT_INFO_UPDATE and RELEASE_SEGMENTS operate over.
func (cl *ClientList) MappedInstances() []*ClientInstance {
	var out []*ClientInstance
	for _, ci := range cl.instances {
		if ci.CacheType == CacheMapped {
			out = append(out, ci)
		}
	}
	return out
}

// GetCachedZoneWriter finds the first instance, in configured order,
// that caches origin and builds a ZoneWriter for it. datasourceName,
// when non-empty, restricts the search to the instance of that name
// (the UPDATEZONE case, which names its target explicitly instead of
// taking "first match" as LOADZONE does).
func (cl *ClientList) GetCachedZoneWriter(origin string, catchLoadErrors bool, datasourceName string) (Status, ZoneWriter, error) {
	for _, ci := range cl.instances {
		if datasourceName != "" && ci.Name != datasourceName {
			continue
		}
		if !ci.servesCachedZone(origin) {
			continue
		}
		if !ci.CacheEnable {
			return CacheDisabled, nil, nil
		}
		if ci.CacheType == CacheMapped && ci.segment != nil && !ci.segment.Writable() {
			return CacheNotWritable, nil, ErrCacheNotWritable
		}

		w, err := ci.loader.NewWriter(origin, ci.cache)
		if err != nil {
			if catchLoadErrors {
				return ZoneNotFound, nil, nil
			}
			return ZoneNotFound, nil, NewInternalCommandError("build zone writer", err)
		}
		if ci.CacheType == CacheMapped {
			w.(*zoneWriter).persist = ci.segment
		}
		return WriterCreated, w, nil
	}
	return ZoneNotCached, nil, nil
}

// ResetMemorySegment resets the named mapped instance's segment and,
// on success, clears its WAITING state so Ready() can observe the
// class has become usable.
func (cl *ClientList) ResetMemorySegment(datasourceName string, mode SegmentMode, segmentParams *config.Value) error {
	for _, ci := range cl.instances {
		if ci.Name != datasourceName || ci.CacheType != CacheMapped {
			continue
		}
		if ci.segment == nil {
			return NewInternalCommandError("reset segment", fmt.Errorf("instance %q has no mapped segment", datasourceName))
		}
		if err := ci.segment.Reset(mode, segmentParams); err != nil {
			return NewInternalCommandError("reset segment", err)
		}
		ci.segState = SegmentReady
		return nil
	}
	return NewInternalCommandError("reset segment", fmt.Errorf("no mapped instance named %q", datasourceName))
}

// Find resolves name/qtype against each caching instance's cache, in
// configured order, returning the first non-NXDOMAIN result.
func (cl *ClientList) Find(origin, name string, qtype uint16) (FindResult, []dns.RR) {
	for _, ci := range cl.instances {
		if !ci.CacheEnable || !ci.servesCachedZone(origin) {
			continue
		}
		result, rrs := ci.cache.Find(origin, name, qtype)
		if result != ResultNXDomain {
			return result, rrs
		}
	}
	return ResultNXDomain, nil
}
