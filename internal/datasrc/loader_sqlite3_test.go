package datasrc

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/miekg/dns"

	"github.com/nsauth/datasrc/internal/config"
)

func mustParamsDatabaseFile(t *testing.T, path string) *config.Value {
	t.Helper()
	return config.Map(map[string]*config.Value{
		"database-file": config.Str(path),
	})
}

func newTestSqlite3DB(t *testing.T, rows map[string][]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "zones.db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite3 database: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE rrsets (zone TEXT NOT NULL, rr TEXT NOT NULL)`); err != nil {
		t.Fatalf("create rrsets table: %v", err)
	}
	for zone, lines := range rows {
		for _, line := range lines {
			if _, err := db.Exec(`INSERT INTO rrsets (zone, rr) VALUES (?, ?)`, zone, line); err != nil {
				t.Fatalf("insert rrset: %v", err)
			}
		}
	}
	return path
}

func TestSqlite3LoaderHasZone(t *testing.T) {
	path := newTestSqlite3DB(t, map[string][]string{
		"example.com.": {
			"example.com. 300 IN SOA ns1.example.com. admin.example.com. 1 3600 600 86400 300",
			"www.example.com. 300 IN A 192.0.2.1",
		},
	})

	l, err := NewSqlite3Loader(mustParamsDatabaseFile(t, path))
	if err != nil {
		t.Fatalf("NewSqlite3Loader: %v", err)
	}
	defer l.Close()

	if !l.HasZone("example.com.") {
		t.Error("HasZone(example.com.) = false, want true")
	}
	if l.HasZone("other.example.") {
		t.Error("HasZone(other.example.) = true, want false")
	}
}

func TestSqlite3LoaderNewWriterLoadsRows(t *testing.T) {
	path := newTestSqlite3DB(t, map[string][]string{
		"example.com.": {
			"example.com. 300 IN SOA ns1.example.com. admin.example.com. 1 3600 600 86400 300",
			"www.example.com. 300 IN A 192.0.2.1",
			"",
			"; a comment-only row",
		},
	})

	l, err := NewSqlite3Loader(mustParamsDatabaseFile(t, path))
	if err != nil {
		t.Fatalf("NewSqlite3Loader: %v", err)
	}
	defer l.Close()

	cache := NewZoneCache()
	cache.addOrigin("example.com.", newZoneImage("example.com."))

	w, err := l.NewWriter("example.com.", cache)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	w.Install()
	defer w.Cleanup()

	result, rrs := cache.Find("example.com.", "www.example.com.", dns.TypeA)
	if result != ResultSuccess || len(rrs) != 1 {
		t.Fatalf("Find after install = (%v, %d rrs), want (ResultSuccess, 1)", result, len(rrs))
	}
}

func TestSqlite3LoaderNewWriterUnknownZone(t *testing.T) {
	path := newTestSqlite3DB(t, nil)

	l, err := NewSqlite3Loader(mustParamsDatabaseFile(t, path))
	if err != nil {
		t.Fatalf("NewSqlite3Loader: %v", err)
	}
	defer l.Close()

	_, err = l.NewWriter("nope.example.", NewZoneCache())
	if err != ErrZoneNotFound {
		t.Errorf("NewWriter for unknown zone = %v, want ErrZoneNotFound", err)
	}
}
