package datasrc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/miekg/dns"

	"github.com/nsauth/datasrc/internal/config"
)

func writeZoneFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write zone file: %v", err)
	}
	return path
}

const testZoneContent = `$ORIGIN example.com.
$TTL 300
@ IN SOA ns1.example.com. admin.example.com. 1 3600 600 86400 300
@ IN NS ns1.example.com.
www IN A 192.0.2.1
`

func TestConfigureAndFind(t *testing.T) {
	dir := t.TempDir()
	path := writeZoneFile(t, dir, "example.com.zone", testZoneContent)

	entry := config.Map(map[string]*config.Value{
		"name":         config.Str("primary"),
		"type":         config.Str("MasterFiles"),
		"cache-enable": config.Bool(true),
		"cache-zones":  config.List(config.Str("example.com.")),
		"params": config.Map(map[string]*config.Value{
			"example.com.": config.Str(path),
		}),
	})
	listV := config.List(entry)

	cl, err := Configure(RRClass(dns.ClassINET), listV, true)
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}

	result, rrs := cl.Find("example.com.", "www.example.com.", dns.TypeA)
	if result != ResultSuccess {
		t.Fatalf("Find = %v, want ResultSuccess", result)
	}
	if len(rrs) != 1 {
		t.Errorf("Find returned %d RRs, want 1", len(rrs))
	}
}

func TestConfigureUnknownTypeIsConfigError(t *testing.T) {
	entry := config.Map(map[string]*config.Value{
		"name": config.Str("primary"),
		"type": config.Str("NotARealType"),
	})
	listV := config.List(entry)

	_, err := Configure(RRClass(dns.ClassINET), listV, true)
	if err == nil {
		t.Fatal("Configure with unknown type: want error, got nil")
	}
	if _, ok := err.(*ConfigError); !ok {
		t.Errorf("Configure with unknown type error type = %T, want *ConfigError", err)
	}
}

func TestGetCachedZoneWriterNotCached(t *testing.T) {
	dir := t.TempDir()
	path := writeZoneFile(t, dir, "example.com.zone", testZoneContent)

	entry := config.Map(map[string]*config.Value{
		"name":         config.Str("primary"),
		"type":         config.Str("MasterFiles"),
		"cache-enable": config.Bool(true),
		"cache-zones":  config.List(config.Str("example.com.")),
		"params": config.Map(map[string]*config.Value{
			"example.com.": config.Str(path),
		}),
	})
	cl, err := Configure(RRClass(dns.ClassINET), config.List(entry), true)
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}

	status, w, err := cl.GetCachedZoneWriter("other.example.", false, "")
	if err != nil {
		t.Fatalf("GetCachedZoneWriter: %v", err)
	}
	if status != ZoneNotCached {
		t.Errorf("status = %v, want ZoneNotCached", status)
	}
	if w != nil {
		t.Errorf("writer = %v, want nil", w)
	}
}

func TestGetCachedZoneWriterCacheDisabled(t *testing.T) {
	dir := t.TempDir()
	path := writeZoneFile(t, dir, "example.com.zone", testZoneContent)

	entry := config.Map(map[string]*config.Value{
		"name":         config.Str("primary"),
		"type":         config.Str("MasterFiles"),
		"cache-enable": config.Bool(false),
		"cache-zones":  config.List(config.Str("example.com.")),
		"params": config.Map(map[string]*config.Value{
			"example.com.": config.Str(path),
		}),
	})
	cl, err := Configure(RRClass(dns.ClassINET), config.List(entry), true)
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}

	status, w, err := cl.GetCachedZoneWriter("example.com.", false, "")
	if err != nil {
		t.Fatalf("GetCachedZoneWriter: %v", err)
	}
	if status != CacheDisabled {
		t.Errorf("status = %v, want CacheDisabled", status)
	}
	if w != nil {
		t.Errorf("writer = %v, want nil", w)
	}
}

func TestMappedInstanceNotWritableUntilReset(t *testing.T) {
	dir := t.TempDir()
	segPath := filepath.Join(dir, "segment.zone")
	if err := os.WriteFile(segPath, nil, 0o644); err != nil {
		t.Fatalf("create segment file: %v", err)
	}
	zonePath := writeZoneFile(t, dir, "example.com.zone", testZoneContent)

	entry := config.Map(map[string]*config.Value{
		"name":         config.Str("mapped"),
		"type":         config.Str("MasterFiles"),
		"cache-enable": config.Bool(true),
		"cache-type":   config.Str("mapped"),
		"cache-zones":  config.List(config.Str("example.com.")),
		"params": config.Map(map[string]*config.Value{
			"example.com.": config.Str(zonePath),
			"mapped-file":  config.Str(segPath),
		}),
	})
	cl, err := Configure(RRClass(dns.ClassINET), config.List(entry), false)
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if cl.Ready() {
		t.Error("Ready() = true before segment reset, want false")
	}

	status, _, err := cl.GetCachedZoneWriter("example.com.", false, "")
	if status != CacheNotWritable || err != ErrCacheNotWritable {
		t.Errorf("GetCachedZoneWriter before reset = (%v, %v), want (CacheNotWritable, ErrCacheNotWritable)", status, err)
	}

	if err := cl.ResetMemorySegment("mapped", SegmentCreate, nil); err != nil {
		t.Fatalf("ResetMemorySegment: %v", err)
	}
	if !cl.Ready() {
		t.Error("Ready() = false after segment reset, want true")
	}

	status, w, err := cl.GetCachedZoneWriter("example.com.", false, "")
	if err != nil {
		t.Fatalf("GetCachedZoneWriter after reset: %v", err)
	}
	if status != WriterCreated || w == nil {
		t.Fatalf("GetCachedZoneWriter after reset = (%v, %v), want (WriterCreated, non-nil)", status, w)
	}
}
