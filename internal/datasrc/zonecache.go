package datasrc

import (
	"sync/atomic"

	"github.com/miekg/dns"
)

// FindResult mirrors the handful of ZoneFinder result codes the
// builder and its tests care about.
type FindResult int

const (
	ResultSuccess FindResult = iota
	ResultNXDomain
	ResultNXRRSet
)

// zoneImage is one immutable snapshot of a zone's records, indexed by
// owner name (lower-cased FQDN) and RR type.
type zoneImage struct {
	origin    string
	rrs       map[string]map[uint16][]dns.RR
	soaSerial uint32
}

func newZoneImage(origin string) *zoneImage {
	return &zoneImage{origin: origin, rrs: map[string]map[uint16][]dns.RR{}}
}

func (z *zoneImage) add(rr dns.RR) {
	name := normalizeOwnerName(rr.Header().Name)
	byType := z.rrs[name]
	if byType == nil {
		byType = map[uint16][]dns.RR{}
		z.rrs[name] = byType
	}
	byType[rr.Header().Rrtype] = append(byType[rr.Header().Rrtype], rr)
	if soa, ok := rr.(*dns.SOA); ok && name == z.origin {
		z.soaSerial = soa.Serial
	}
}

func normalizeOwnerName(name string) string {
	return dns.CanonicalName(name)
}

// ZoneCache holds one atomically-swappable image per configured
// origin. The set of origins is fixed when the cache is built (at
// configure time); LOADZONE/UPDATEZONE only ever replace an existing
// entry's image, matching the "existing cache" framing of the loader
// protocol.
type ZoneCache struct {
	entries map[string]*atomic.Pointer[zoneImage]
}

// NewZoneCache returns an empty cache.
func NewZoneCache() *ZoneCache {
	return &ZoneCache{entries: map[string]*atomic.Pointer[zoneImage]{}}
}

// addOrigin registers origin with an initial image. Called only while
// building the cache (configure-time), never concurrently with Find.
func (c *ZoneCache) addOrigin(origin string, img *zoneImage) {
	p := &atomic.Pointer[zoneImage]{}
	p.Store(img)
	c.entries[origin] = p
}

// Has reports whether origin is a configured entry of this cache.
func (c *ZoneCache) Has(origin string) bool {
	_, ok := c.entries[origin]
	return ok
}

// Origins returns the configured origins, for diagnostics.
func (c *ZoneCache) Origins() []string {
	out := make([]string, 0, len(c.entries))
	for o := range c.entries {
		out = append(out, o)
	}
	return out
}

func (c *ZoneCache) load(origin string) *zoneImage {
	p, ok := c.entries[origin]
	if !ok {
		return nil
	}
	return p.Load()
}

// swap atomically installs img as origin's current image. origin must
// already be a registered entry.
func (c *ZoneCache) swap(origin string, img *zoneImage) {
	c.entries[origin].Store(img)
}

// Find looks up qtype at name within the zone rooted at origin. It is
// lock-free: the only synchronization against the builder's install()
// is the atomic pointer load.
func (c *ZoneCache) Find(origin, name string, qtype uint16) (FindResult, []dns.RR) {
	img := c.load(origin)
	if img == nil {
		return ResultNXDomain, nil
	}
	byType, ok := img.rrs[normalizeOwnerName(name)]
	if !ok {
		return ResultNXDomain, nil
	}
	rrs, ok := byType[qtype]
	if !ok || len(rrs) == 0 {
		return ResultNXRRSet, nil
	}
	return ResultSuccess, rrs
}
