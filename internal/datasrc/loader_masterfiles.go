package datasrc

import (
	"fmt"
	"os"

	"github.com/miekg/dns"

	"github.com/nsauth/datasrc/internal/config"
)

// MasterFilesLoader serves zones straight out of on-disk zone files,
// one file per origin, the way BIND-style "MasterFiles" data sources
// do. params is a map of origin -> file path.
type MasterFilesLoader struct {
	files map[string]string // normalized origin -> path
}

// NewMasterFilesLoader builds a loader from a client instance's params
// value tree: {"<origin>": "<path>", ...}.
func NewMasterFilesLoader(params *config.Value) (*MasterFilesLoader, error) {
	m, err := params.AsMap()
	if err != nil {
		return nil, fmt.Errorf("MasterFiles params: %w", err)
	}

	files := make(map[string]string, len(m))
	for origin, v := range m {
		path, err := v.AsString()
		if err != nil {
			return nil, fmt.Errorf("MasterFiles zone %q: %w", origin, err)
		}
		norm, err := NormalizeOrigin(origin)
		if err != nil {
			return nil, fmt.Errorf("MasterFiles zone %q: %w", origin, err)
		}
		files[norm] = path
	}
	return &MasterFilesLoader{files: files}, nil
}

// Origins returns the set of origins this loader serves, for
// configure-time cache construction.
func (l *MasterFilesLoader) Origins() []string {
	out := make([]string, 0, len(l.files))
	for o := range l.files {
		out = append(out, o)
	}
	return out
}

func (l *MasterFilesLoader) HasZone(origin string) bool {
	_, ok := l.files[origin]
	return ok
}

func (l *MasterFilesLoader) NewWriter(origin string, cache *ZoneCache) (ZoneWriter, error) {
	path, ok := l.files[origin]
	if !ok {
		return nil, ErrZoneNotFound
	}
	return &zoneWriter{
		cache:  cache,
		origin: origin,
		build:  func() (*zoneImage, error) { return parseMasterFile(origin, path) },
	}, nil
}

// parseMasterFile reads path as an RFC 1035 master file rooted at
// origin, using miekg/dns's streaming zone parser.
func parseMasterFile(origin, path string) (*zoneImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open zone file %s: %w", path, err)
	}
	defer f.Close()

	img := newZoneImage(origin)
	zp := dns.NewZoneParser(f, dns.Fqdn(origin), path)
	zp.SetIncludeAllowed(false)
	for rr, ok := zp.Next(); ok; rr, ok = zp.Next() {
		img.add(rr)
	}
	if err := zp.Err(); err != nil {
		return nil, fmt.Errorf("parse zone file %s: %w", path, err)
	}
	return img, nil
}
