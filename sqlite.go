package sealstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	sqlite "modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// sqliteDialect is the embedded backend, using the pure-Go modernc driver.
type sqliteDialect struct{}

func (sqliteDialect) name() string { return "sqlite" }

func (sqliteDialect) placeholder(int) string { return "?" }

func (sqliteDialect) returningID() string { return "" }

// SQLite write transactions are exclusive already.
func (sqliteDialect) forUpdate() string { return "" }

func (sqliteDialect) isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		code := serr.Code()
		return code == sqlitelib.SQLITE_CONSTRAINT_UNIQUE ||
			code == sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY ||
			code&0xff == sqlitelib.SQLITE_CONSTRAINT
	}
	return false
}

func (sqliteDialect) ddl() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS config (
			name TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS profiles (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			wrapped_key BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			profile_id TEXT NOT NULL REFERENCES profiles (id) ON DELETE CASCADE,
			category BLOB NOT NULL,
			name BLOB NOT NULL,
			value BLOB NOT NULL,
			expiry BIGINT,
			UNIQUE (profile_id, category, name)
		)`,
		`CREATE TABLE IF NOT EXISTS items_tags (
			item_id INTEGER NOT NULL REFERENCES items (id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			value BLOB NOT NULL,
			plaintext INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS ix_items_tags_lookup ON items_tags (name, value)`,
		`CREATE INDEX IF NOT EXISTS ix_items_tags_item ON items_tags (item_id)`,
	}
}

// sqlitePragmas is applied to every pooled connection through the DSN.
// foreign_keys in particular must hold on all connections or cascading
// deletes silently stop working.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"foreign_keys(1)",
	"synchronous(NORMAL)",
}

// openSQLite opens (or creates) an embedded database. The path ":memory:"
// yields a private in-memory store.
func openSQLite(path string, cfg *config) (*sql.DB, dialect, error) {
	memory := path == ":memory:" || path == ""
	var dsn string
	if memory {
		// Shared cache keeps every pooled connection on the same in-memory
		// database instead of each opening its own empty one.
		dsn = fmt.Sprintf("file:%s?mode=memory&cache=shared", memoryName())
	} else {
		dsn = "file:" + path
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	for _, pragma := range sqlitePragmas {
		dsn += sep + "_pragma=" + pragma
		sep = "&"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, nil, backendErr("open sqlite", err)
	}

	if memory {
		// An in-memory database disappears with its last connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxIdleTime(0)
		db.SetConnMaxLifetime(0)
	} else if cfg.maxConns > 0 {
		db.SetMaxOpenConns(cfg.maxConns)
	}
	return db, sqliteDialect{}, nil
}

var memoryCounter atomic.Uint64

// memoryName gives every in-memory store a distinct shared-cache namespace
// so two stores in one process do not alias each other.
func memoryName() string {
	return fmt.Sprintf("sealstore-mem-%d", memoryCounter.Add(1))
}
