package datasrc

import (
	"database/sql"
	"fmt"

	"github.com/miekg/dns"
	_ "modernc.org/sqlite"

	"github.com/nsauth/datasrc/internal/config"
)

// Sqlite3Loader serves zones out of a sqlite3 database, the pure-Go
// analogue of the original's sqlite3 data source backend. The schema
// is a single table:
//
//	CREATE TABLE rrsets (zone TEXT NOT NULL, rr TEXT NOT NULL);
//
// where zone is a normalized origin and rr is one RFC 1035 presentation
// -format resource record line.
type Sqlite3Loader struct {
	db *sql.DB
}

// NewSqlite3Loader opens the database named by the "database-file"
// params key.
func NewSqlite3Loader(params *config.Value) (*Sqlite3Loader, error) {
	path, err := params.GetString("database-file")
	if err != nil {
		return nil, fmt.Errorf("sqlite3 params: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3 database %s: %w", path, err)
	}
	return &Sqlite3Loader{db: db}, nil
}

// Close releases the underlying database handle.
func (l *Sqlite3Loader) Close() error {
	return l.db.Close()
}

func (l *Sqlite3Loader) HasZone(origin string) bool {
	var n int
	row := l.db.QueryRow(`SELECT COUNT(1) FROM rrsets WHERE zone = ?`, origin)
	if err := row.Scan(&n); err != nil {
		return false
	}
	return n > 0
}

func (l *Sqlite3Loader) NewWriter(origin string, cache *ZoneCache) (ZoneWriter, error) {
	if !l.HasZone(origin) {
		return nil, ErrZoneNotFound
	}
	return &zoneWriter{
		cache:  cache,
		origin: origin,
		build:  func() (*zoneImage, error) { return l.loadZone(origin) },
	}, nil
}

func (l *Sqlite3Loader) loadZone(origin string) (*zoneImage, error) {
	rows, err := l.db.Query(`SELECT rr FROM rrsets WHERE zone = ?`, origin)
	if err != nil {
		return nil, fmt.Errorf("query zone %s: %w", origin, err)
	}
	defer rows.Close()

	img := newZoneImage(origin)
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("scan zone %s: %w", origin, err)
		}
		rr, err := dns.NewRR(line)
		if err != nil {
			return nil, fmt.Errorf("parse rrset row for %s: %w", origin, err)
		}
		if rr == nil {
			continue // blank line or comment-only row
		}
		img.add(rr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load zone %s: %w", origin, err)
	}
	return img, nil
}
