// Package index implements the persistent index: a durable SHA-256-keyed
// dedup store plus a small key/value table for last-sync bookkeeping,
// backed by modernc.org/sqlite (pure Go, no cgo).
package index

import (
	"database/sql"
	"strconv"
	"time"

	"github.com/pkg/errors"

	_ "modernc.org/sqlite"
)

// Index is safe for concurrent use from goroutines within one process;
// cross-process access is not supported.
type Index struct {
	db *sql.DB
}

// Record is one row of the Persistent Index, keyed by hash.
type Record struct {
	Hash       string
	DevicePath string
	LocalPath  string
	Size       uint64
	MTime      uint64
	TransferTS int64
}

var schema = []string{
	`PRAGMA journal_mode=WAL;`,
	`PRAGMA busy_timeout=5000;`,
	`PRAGMA foreign_keys=ON;`,
	`
CREATE TABLE IF NOT EXISTS media_index (
  hash         TEXT PRIMARY KEY,
  device_path  TEXT NOT NULL,
  local_path   TEXT NOT NULL,
  size         INTEGER NOT NULL,
  mtime        INTEGER NOT NULL,
  transfer_ts  INTEGER NOT NULL
);`,
	`CREATE INDEX IF NOT EXISTS idx_media_index_mtime ON media_index(mtime);`,
	`
CREATE TABLE IF NOT EXISTS kv (
  key   TEXT PRIMARY KEY,
  value TEXT NOT NULL
);`,
}

// Open opens or creates a durable index at path. Missing tables and
// indexes are created on every open; columns missing from an existing
// table are not added.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open index")
	}
	db.SetMaxOpenConns(1) // sqlite is single-writer; serialize from our side too

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "init index schema")
		}
	}

	return &Index{db: db}, nil
}

func (ix *Index) Close() error {
	return ix.db.Close()
}

// Contains reports whether hash has a row in the index.
func (ix *Index) Contains(hash string) (bool, error) {
	var n int
	err := ix.db.QueryRow(`SELECT COUNT(1) FROM media_index WHERE hash = ?`, hash).Scan(&n)
	if err != nil {
		return false, errors.Wrap(err, "index contains")
	}
	return n > 0, nil
}

// LocalPathOf returns the recorded local_path for hash, or "" if absent.
func (ix *Index) LocalPathOf(hash string) (string, error) {
	var p string
	err := ix.db.QueryRow(`SELECT local_path FROM media_index WHERE hash = ?`, hash).Scan(&p)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "index local path")
	}
	return p, nil
}

// Insert is an idempotent upsert on hash; transfer_ts is set to now.
func (ix *Index) Insert(hash, devicePath, localPath string, size, mtime uint64) error {
	_, err := ix.db.Exec(`
INSERT INTO media_index (hash, device_path, local_path, size, mtime, transfer_ts)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(hash) DO UPDATE SET
  device_path = excluded.device_path,
  local_path  = excluded.local_path,
  size        = excluded.size,
  mtime       = excluded.mtime,
  transfer_ts = excluded.transfer_ts
`, hash, devicePath, localPath, size, mtime, time.Now().Unix())
	if err != nil {
		return errors.Wrap(err, "index insert")
	}
	return nil
}

// LastSyncTime returns the last recorded sync timestamp, or 0 if unset.
func (ix *Index) LastSyncTime() (uint64, error) {
	var v string
	err := ix.db.QueryRow(`SELECT value FROM kv WHERE key = 'last_sync_time'`).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "index last sync time")
	}
	ts, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "index last sync time parse")
	}
	return ts, nil
}

// SetLastSyncTime persists ts as the new last-sync marker.
func (ix *Index) SetLastSyncTime(ts uint64) error {
	_, err := ix.db.Exec(`
INSERT INTO kv (key, value) VALUES ('last_sync_time', ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value
`, strconv.FormatUint(ts, 10))
	return errors.Wrap(err, "index set last sync time")
}

// Records returns every row, ordered by transfer time then hash, for
// reporting and verification sweeps.
func (ix *Index) Records() ([]Record, error) {
	rows, err := ix.db.Query(`
SELECT hash, device_path, local_path, size, mtime, transfer_ts
FROM media_index ORDER BY transfer_ts, hash`)
	if err != nil {
		return nil, errors.Wrap(err, "index records")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Hash, &r.DevicePath, &r.LocalPath, &r.Size, &r.MTime, &r.TransferTS); err != nil {
			return nil, errors.Wrap(err, "index records scan")
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "index records")
}

// Count returns the number of rows in the index.
func (ix *Index) Count() (int64, error) {
	var n int64
	err := ix.db.QueryRow(`SELECT COUNT(1) FROM media_index`).Scan(&n)
	return n, errors.Wrap(err, "index count")
}

// TotalBytesTransferred sums the size column across all rows.
func (ix *Index) TotalBytesTransferred() (uint64, error) {
	var n sql.NullInt64
	err := ix.db.QueryRow(`SELECT SUM(size) FROM media_index`).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "index total bytes")
	}
	if !n.Valid {
		return 0, nil
	}
	return uint64(n.Int64), nil
}
