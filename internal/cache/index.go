package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// index records what the disk tier holds so the writer can evict by recency
// and age without walking the directory.
type index struct {
	db *sql.DB
}

type indexEntry struct {
	Key        string
	Size       int64
	StoredAt   time.Time
	LastAccess time.Time
}

func openIndex(path string) (*index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache index: %w", err)
	}
	// One connection: the writer and the age checks share it and sqlite
	// serializes writers anyway.
	db.SetMaxOpenConns(1)

	x := &index{db: db}
	if err := x.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return x, nil
}

func (x *index) ensureSchema(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS entries (
			key TEXT PRIMARY KEY,
			size INTEGER NOT NULL,
			stored_at INTEGER NOT NULL,
			last_access INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS entries_last_access ON entries (last_access);`,
	}
	for _, stmt := range schema {
		if _, err := x.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate cache index: %w", err)
		}
	}
	return nil
}

func (x *index) put(ctx context.Context, key string, size int64, now time.Time) error {
	_, err := x.db.ExecContext(ctx,
		`INSERT INTO entries (key, size, stored_at, last_access) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET size = excluded.size, stored_at = excluded.stored_at, last_access = excluded.last_access`,
		key, size, now.UnixNano(), now.UnixNano())
	if err != nil {
		return fmt.Errorf("index put %s: %w", key, err)
	}
	return nil
}

func (x *index) touch(ctx context.Context, key string, now time.Time) error {
	_, err := x.db.ExecContext(ctx, `UPDATE entries SET last_access = ? WHERE key = ?`, now.UnixNano(), key)
	if err != nil {
		return fmt.Errorf("index touch %s: %w", key, err)
	}
	return nil
}

func (x *index) remove(ctx context.Context, key string) error {
	if _, err := x.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("index remove %s: %w", key, err)
	}
	return nil
}

func (x *index) clear(ctx context.Context) error {
	if _, err := x.db.ExecContext(ctx, `DELETE FROM entries`); err != nil {
		return fmt.Errorf("index clear: %w", err)
	}
	return nil
}

// lookup returns the entry for key. ok is false when the key is not indexed.
func (x *index) lookup(ctx context.Context, key string) (e indexEntry, ok bool, err error) {
	var stored, access int64
	err = x.db.QueryRowContext(ctx,
		`SELECT key, size, stored_at, last_access FROM entries WHERE key = ?`, key).
		Scan(&e.Key, &e.Size, &stored, &access)
	if err == sql.ErrNoRows {
		return indexEntry{}, false, nil
	}
	if err != nil {
		return indexEntry{}, false, fmt.Errorf("index lookup %s: %w", key, err)
	}
	e.StoredAt = time.Unix(0, stored)
	e.LastAccess = time.Unix(0, access)
	return e, true, nil
}

func (x *index) totals(ctx context.Context) (count int, size int64, err error) {
	err = x.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(size), 0) FROM entries`).Scan(&count, &size)
	if err != nil {
		return 0, 0, fmt.Errorf("index totals: %w", err)
	}
	return count, size, nil
}

// lru returns keys, least recently accessed first, until their sizes add up
// to at least excess.
func (x *index) lru(ctx context.Context, excess int64) ([]indexEntry, error) {
	rows, err := x.db.QueryContext(ctx, `SELECT key, size FROM entries ORDER BY last_access ASC`)
	if err != nil {
		return nil, fmt.Errorf("index lru: %w", err)
	}
	defer rows.Close()

	var out []indexEntry
	var freed int64
	for rows.Next() && freed < excess {
		var e indexEntry
		if err := rows.Scan(&e.Key, &e.Size); err != nil {
			return nil, fmt.Errorf("scan index entry: %w", err)
		}
		out = append(out, e)
		freed += e.Size
	}
	return out, rows.Err()
}

// expired returns keys stored before cutoff.
func (x *index) expired(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := x.db.QueryContext(ctx, `SELECT key FROM entries WHERE stored_at < ?`, cutoff.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("index expired: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan index key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (x *index) close() error {
	if x.db != nil {
		return x.db.Close()
	}
	return nil
}
