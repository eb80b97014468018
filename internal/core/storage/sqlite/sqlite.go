// Package sqlite is a Storage backed by a single SQLite table.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/zeusync/crdtsync/internal/core/storage"
)

const schema = `CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value BLOB
) WITHOUT ROWID`

type Store struct {
	db *sql.DB
}

var _ storage.Storage = (*Store)(nil)

// Open creates or opens the database at path, in WAL mode with a single
// writer connection.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, storage.Unavailable("open sqlite", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, storage.Unavailable("connect sqlite", err)
	}

	// SQLite allows one writer; more connections only produce SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		schema,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, storage.Unavailable(fmt.Sprintf("exec %q", stmt), err)
		}
	}
	return &Store{db: db}, nil
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) && sqlErr.Code == sqlite3.ErrFull {
		return storage.QuotaExceeded(op, err)
	}
	return storage.Unavailable(op, err)
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return nil, classify("get "+key, err)
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	return classify("set "+key, err)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return classify("delete "+key, err)
}

func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	// substr instead of LIKE so '%' and '_' in keys are literal.
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv WHERE substr(key, 1, length(?)) = ? ORDER BY key`, prefix, prefix)
	if err != nil {
		return nil, classify("keys "+prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, classify("keys "+prefix, err)
		}
		keys = append(keys, k)
	}
	return keys, classify("keys "+prefix, rows.Err())
}

func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv`)
	return classify("clear", err)
}

func (s *Store) GetBatch(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	stmt, err := s.db.PrepareContext(ctx, `SELECT value FROM kv WHERE key = ?`)
	if err != nil {
		return nil, classify("get batch", err)
	}
	defer stmt.Close()

	for _, k := range keys {
		var value []byte
		err := stmt.QueryRowContext(ctx, k).Scan(&value)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, classify("get batch", err)
		}
		out[k] = value
	}
	return out, nil
}

func (s *Store) SetBatch(ctx context.Context, entries map[string][]byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("set batch", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`)
	if err != nil {
		return classify("set batch", err)
	}
	defer stmt.Close()

	for k, v := range entries {
		if _, err := stmt.ExecContext(ctx, k, v); err != nil {
			return classify("set batch", err)
		}
	}
	return classify("set batch", tx.Commit())
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
