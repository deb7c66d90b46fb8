package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

// SQLite keeps every key in a single table. It is the single-node backend;
// the connection is owned by the caller.
type SQLite struct {
	db    *sql.DB
	quota int
}

func NewSQLite(ctx context.Context, db *sql.DB, quotaBytes int) (*SQLite, error) {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("failed to create kv table: %w", err)
	}
	return &SQLite{db: db, quota: quotaBytes}, nil
}

// Scope returns the namespace of keys starting with prefix + ":". Its Keys and
// Size are range scans over the primary key.
func (s *SQLite) Scope(prefix string) Store {
	return &sqliteScope{s: s, prefix: prefix + ":"}
}

func (s *SQLite) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get key: %w", err)
	}
	return value, true, nil
}

func (s *SQLite) Set(ctx context.Context, key, value string) error {
	if s.quota > 0 {
		size, err := s.Size(ctx)
		if err != nil {
			return err
		}
		old, ok, err := s.Get(ctx, key)
		if err != nil {
			return err
		}
		if ok {
			size -= len(key) + len(old)
		}
		if size+len(key)+len(value) > s.quota {
			return ErrQuotaExceeded
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}
	return nil
}

func (s *SQLite) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to remove key: %w", err)
	}
	return nil
}

func (s *SQLite) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM kv ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLite) Size(ctx context.Context) (int, error) {
	var size sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT SUM(LENGTH(CAST(key AS BLOB)) + LENGTH(CAST(value AS BLOB))) FROM kv`).Scan(&size)
	if err != nil {
		return 0, fmt.Errorf("failed to compute size: %w", err)
	}
	return int(size.Int64), nil
}

type sqliteScope struct {
	s      *SQLite
	prefix string
}

func (n *sqliteScope) Scope(prefix string) Store {
	return &sqliteScope{s: n.s, prefix: n.prefix + prefix + ":"}
}

func (n *sqliteScope) Get(ctx context.Context, key string) (string, bool, error) {
	return n.s.Get(ctx, n.prefix+key)
}

func (n *sqliteScope) Set(ctx context.Context, key, value string) error {
	return n.s.Set(ctx, n.prefix+key, value)
}

func (n *sqliteScope) Remove(ctx context.Context, key string) error {
	return n.s.Remove(ctx, n.prefix+key)
}

func (n *sqliteScope) Keys(ctx context.Context) ([]string, error) {
	rows, err := n.s.db.QueryContext(ctx,
		`SELECT substr(key, ?) FROM kv WHERE key >= ? AND key < ? ORDER BY key`,
		len(n.prefix)+1, n.prefix, prefixEnd(n.prefix))
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (n *sqliteScope) Size(ctx context.Context) (int, error) {
	var size sql.NullInt64
	err := n.s.db.QueryRowContext(ctx,
		`SELECT SUM(LENGTH(CAST(key AS BLOB)) - ? + LENGTH(CAST(value AS BLOB))) FROM kv WHERE key >= ? AND key < ?`,
		len(n.prefix), n.prefix, prefixEnd(n.prefix)).Scan(&size)
	if err != nil {
		return 0, fmt.Errorf("failed to compute size: %w", err)
	}
	return int(size.Int64), nil
}

// prefixEnd is the smallest string greater than every key starting with
// prefix. Scope prefixes end in ":", so the last byte can always be bumped.
func prefixEnd(prefix string) string {
	b := []byte(prefix)
	b[len(b)-1]++
	return string(b)
}
