// Package catalog remembers every spectrum file the tools have opened or
// written, so a session can offer recent files and find spectra covering a
// similar wavenumber range without reading them all.
package catalog

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kacperjurak/goftircore"
)

// Entry is one catalogued file.
type Entry struct {
	Path           string
	Name           string
	Range          goftircore.Range
	Points         int
	SourceFile     string
	BaselineFitted bool
	SeenAt         time.Time
}

type Catalog struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the catalog database at path.
func Open(path string) (*Catalog, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create catalog directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS spectra (
		path            TEXT PRIMARY KEY,
		name            TEXT NOT NULL,
		range_min       REAL NOT NULL,
		range_max       REAL NOT NULL,
		points          INTEGER NOT NULL,
		source_file     TEXT DEFAULT '',
		baseline_fitted INTEGER NOT NULL DEFAULT 0,
		seen_at         DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_spectra_seen_at ON spectra(seen_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create catalog schema: %w", err)
	}
	return &Catalog{db: db, now: time.Now}, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

// Record inserts or refreshes the entry for path.
func (c *Catalog) Record(path string, s *goftircore.Spectrum) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	_, err = c.db.Exec(
		`INSERT INTO spectra (path, name, range_min, range_max, points, source_file, baseline_fitted, seen_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
			name = excluded.name,
			range_min = excluded.range_min,
			range_max = excluded.range_max,
			points = excluded.points,
			source_file = excluded.source_file,
			baseline_fitted = excluded.baseline_fitted,
			seen_at = excluded.seen_at`,
		abs, s.Name, s.Range.Min, s.Range.Max, s.Len(), s.Metadata.SourceFile, s.HasBaseline(), c.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Recent lists up to limit entries, most recently seen first.
func (c *Catalog) Recent(limit int) ([]Entry, error) {
	rows, err := c.db.Query(
		`SELECT path, name, range_min, range_max, points, source_file, baseline_fitted, seen_at
		 FROM spectra ORDER BY seen_at DESC, path LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// Similar lists entries whose range is similar to r (see Range.Similar),
// nearest range first.
func (c *Catalog) Similar(r goftircore.Range, tol float64) ([]Entry, error) {
	rows, err := c.db.Query(
		`SELECT path, name, range_min, range_max, points, source_file, baseline_fitted, seen_at
		 FROM spectra ORDER BY ABS(range_min - ?) + ABS(range_max - ?), path`, r.Min, r.Max)
	if err != nil {
		return nil, err
	}
	all, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range all {
		if e.Range.Similar(r, tol) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Forget drops path and reports whether it was catalogued.
func (c *Catalog) Forget(path string) (bool, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false, err
	}
	res, err := c.db.Exec(`DELETE FROM spectra WHERE path = ?`, abs)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Path, &e.Name, &e.Range.Min, &e.Range.Max, &e.Points, &e.SourceFile, &e.BaselineFitted, &e.SeenAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
