package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS kv (
    key        TEXT PRIMARY KEY,
    value      BLOB NOT NULL,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

type sqlDialect struct {
	name   string
	get    string
	upsert string
	delete string
	keys   string

	// keyArgs is how many times the prefix is bound in keys.
	keyArgs int
}

var (
	sqliteDialect = sqlDialect{
		name:    BackendSQLite,
		get:     `SELECT value FROM kv WHERE key = ?`,
		upsert:  `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP) ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		delete:  `DELETE FROM kv WHERE key = ?`,
		keys:    `SELECT key FROM kv WHERE substr(key, 1, length(?)) = ?`,
		keyArgs: 2,
	}
	postgresDialect = sqlDialect{
		name:    BackendPostgres,
		get:     `SELECT value FROM kv WHERE key = $1`,
		upsert:  `INSERT INTO kv (key, value, updated_at) VALUES ($1, $2, now()) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		delete:  `DELETE FROM kv WHERE key = $1`,
		keys:    `SELECT key FROM kv WHERE substr(key, 1, length($1::text)) = $1::text`,
		keyArgs: 1,
	}
)

// SQLBackend stores keys in a single kv table on SQLite or PostgreSQL.
type SQLBackend struct {
	db      *sql.DB
	dialect sqlDialect
}

// OpenSQLite opens (creating if needed) a SQLite database through the pure-Go
// modernc driver. ":memory:" and "file::memory:" give a private database.
func OpenSQLite(ctx context.Context, dsn string) (*SQLBackend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &StorageError{Op: "open", Backend: BackendSQLite, Err: err}
	}
	// One connection: in-memory databases are per connection and SQLite
	// serializes writers anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, &StorageError{Op: "open", Backend: BackendSQLite, Err: fmt.Errorf("create schema: %w", err)}
	}
	return &SQLBackend{db: db, dialect: sqliteDialect}, nil
}

// OpenPostgres connects through lib/pq and applies the embedded migrations.
func OpenPostgres(ctx context.Context, dsn string) (*SQLBackend, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, &StorageError{Op: "open", Backend: BackendPostgres, Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &StorageError{Op: "open", Backend: BackendPostgres, Err: err}
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, &StorageError{Op: "migrate", Backend: BackendPostgres, Err: err}
	}
	return &SQLBackend{db: db, dialect: postgresDialect}, nil
}

// DB exposes the underlying handle.
func (s *SQLBackend) DB() *sql.DB { return s.db }

func (s *SQLBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, s.dialect.get, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "get", Backend: s.dialect.name, Key: key, Err: err}
	}
	return v, nil
}

func (s *SQLBackend) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return &StorageError{Op: "set", Backend: s.dialect.name, Err: ErrInvalidInput}
	}
	if value == nil {
		value = []byte{}
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.upsert, key, value); err != nil {
		return &StorageError{Op: "set", Backend: s.dialect.name, Key: key, Err: err}
	}
	return nil
}

func (s *SQLBackend) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.delete, key); err != nil {
		return &StorageError{Op: "delete", Backend: s.dialect.name, Key: key, Err: err}
	}
	return nil
}

func (s *SQLBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	args := make([]any, s.dialect.keyArgs)
	for i := range args {
		args[i] = prefix
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.keys, args...)
	if err != nil {
		return nil, &StorageError{Op: "keys", Backend: s.dialect.name, Key: prefix, Err: err}
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, &StorageError{Op: "keys", Backend: s.dialect.name, Key: prefix, Err: err}
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "keys", Backend: s.dialect.name, Key: prefix, Err: err}
	}
	return keys, nil
}

func (s *SQLBackend) Close() error {
	return s.db.Close()
}
