package sealstore

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// pgUniqueViolation is the PostgreSQL error code for unique_violation.
const pgUniqueViolation = "23505"

// postgresDialect is the client/server backend, using pgx through the
// database/sql adapter so the session layer sees the same pool and
// transaction surface as the embedded backend.
type postgresDialect struct{}

func (postgresDialect) name() string { return "postgres" }

func (postgresDialect) placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (postgresDialect) returningID() string { return " RETURNING id" }

func (postgresDialect) forUpdate() string { return " FOR UPDATE" }

func (postgresDialect) isUniqueViolation(err error) bool {
	var perr *pgconn.PgError
	return errors.As(err, &perr) && perr.Code == pgUniqueViolation
}

func (postgresDialect) ddl() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS config (
			name TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS profiles (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			wrapped_key BYTEA NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS items (
			id BIGSERIAL PRIMARY KEY,
			profile_id TEXT NOT NULL REFERENCES profiles (id) ON DELETE CASCADE,
			category BYTEA NOT NULL,
			name BYTEA NOT NULL,
			value BYTEA NOT NULL,
			expiry BIGINT,
			UNIQUE (profile_id, category, name)
		)`,
		`CREATE TABLE IF NOT EXISTS items_tags (
			item_id BIGINT NOT NULL REFERENCES items (id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			value BYTEA NOT NULL,
			plaintext INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS ix_items_tags_lookup ON items_tags (name, value)`,
		`CREATE INDEX IF NOT EXISTS ix_items_tags_item ON items_tags (item_id)`,
	}
}

func openPostgres(uri string, cfg *config) (*sql.DB, dialect, error) {
	db, err := sql.Open("pgx", uri)
	if err != nil {
		return nil, nil, backendErr("open postgres", err)
	}
	if cfg.maxConns > 0 {
		db.SetMaxOpenConns(cfg.maxConns)
	}
	return db, postgresDialect{}, nil
}
