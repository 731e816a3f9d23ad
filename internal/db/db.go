// Package db is the SQLite event store: detection records, debounced
// occupancy events, badge events, the card registry and the report run log.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrStore wraps every failure of the underlying database.
var ErrStore = errors.New("event store failure")

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}

// DB is the event store. Writes are serialized through a single connection.
type DB struct {
	*sql.DB
	path string
}

// dsn applies the pragmas every connection needs. A path already in URI form
// is used as given.
func dsn(path string) string {
	if strings.HasPrefix(path, "file:") {
		return path
	}
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=temp_store(MEMORY)", path)
}

// Open opens the database at path without touching the schema. The migrate
// subcommand uses it so that migrations alone manage the schema.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, storeErr("open", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, storeErr("ping", err)
	}
	return &DB{DB: sqlDB, path: path}, nil
}

// NewDB opens the database at path and applies every pending migration.
func NewDB(path string) (*DB, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the file the store was opened on.
func (db *DB) Path() string { return db.path }

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// queryRange runs a [start, end] query and hands each row to scan. Both ends
// are inclusive.
func (db *DB) queryRange(ctx context.Context, op, query string, start, end time.Time, scan func(*sql.Rows) error) error {
	rows, err := db.QueryContext(ctx, query, toMillis(start), toMillis(end))
	if err != nil {
		return storeErr(op, err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return storeErr(op, err)
		}
	}
	if err := rows.Err(); err != nil {
		return storeErr(op, err)
	}
	return nil
}
