package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const schemaKV = `CREATE TABLE IF NOT EXISTS kv_store (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`

const upsertKV = `INSERT INTO kv_store (key, value, updated_at)
VALUES (?, ?, ?)
ON CONFLICT (key)
DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

// SQLKV keeps one row per key in kv_store. The same statements run on
// SQLite and Postgres; placeholders are rebound per driver.
type SQLKV struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSQLKV wraps an open database. Call EnsureSchema before first use
// unless the table is managed elsewhere.
func NewSQLKV(db *sqlx.DB) *SQLKV {
	return &SQLKV{db: db, now: time.Now}
}

// OpenSQLite opens (creating if needed) a SQLite database file.
func OpenSQLite(ctx context.Context, path string) (*SQLKV, error) {
	if path == "" {
		return nil, errors.New("sqlite path is empty")
	}
	db, err := sqlx.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)

	kv := NewSQLKV(db)
	if err := kv.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return kv, nil
}

// OpenPostgres connects using a lib/pq DSN.
func OpenPostgres(ctx context.Context, dsn string) (*SQLKV, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	kv := NewSQLKV(db)
	if err := kv.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return kv, nil
}

func (s *SQLKV) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaKV); err != nil {
		return fmt.Errorf("create kv_store: %w", err)
	}
	return nil
}

func (s *SQLKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value string
	err := s.db.GetContext(ctx, &value, s.db.Rebind(`SELECT value FROM kv_store WHERE key = ?`), key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("select %s: %w", key, err)
	}
	return []byte(value), true, nil
}

// Set upserts every entry in one transaction.
func (s *SQLKV) Set(ctx context.Context, entries map[string][]byte) error {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	query := s.db.Rebind(upsertKV)
	now := s.now().UTC()
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, query, k, string(entries[k]), now); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("upsert %s (rollback error: %v): %w", k, rbErr, err)
			}
			return fmt.Errorf("upsert %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLKV) Close() error {
	return s.db.Close()
}
