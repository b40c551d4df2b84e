package sealstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// dialect is the only point where the two supported SQL engines differ.
// Everything above it compiles statements once and never branches on
// backend identity.
type dialect interface {
	name() string
	// placeholder renders the n-th (1-based) bind parameter.
	placeholder(n int) string
	// ddl returns the schema statements, idempotent per engine.
	ddl() []string
	// returningID is appended to the item INSERT when the engine delivers
	// generated keys via RETURNING instead of LastInsertId.
	returningID() string
	// forUpdate is appended to a fetch when the caller asked to lock the
	// row. Empty where the engine's transactions are already exclusive.
	forUpdate() string
	isUniqueViolation(err error) bool
}

// dbConn abstracts the statement-execution surface the session layer needs.
// Both *sql.Conn and *sql.Tx satisfy it.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// backend pairs a pooled database handle with its dialect. Connection
// acquisition is the one place the core suspends; it is bounded by
// acquireTimeout and fails with ErrBackend rather than blocking
// indefinitely.
type backend struct {
	db             *sql.DB
	d              dialect
	acquireTimeout time.Duration
}

// openBackend dispatches on the connection URI scheme.
func openBackend(uri string, cfg *config) (*backend, error) {
	var (
		db  *sql.DB
		d   dialect
		err error
	)
	switch {
	case strings.HasPrefix(uri, "sqlite://"):
		db, d, err = openSQLite(strings.TrimPrefix(uri, "sqlite://"), cfg)
	case strings.HasPrefix(uri, "postgres://"), strings.HasPrefix(uri, "postgresql://"):
		db, d, err = openPostgres(uri, cfg)
	default:
		return nil, inputErr("unsupported connection URI scheme")
	}
	if err != nil {
		return nil, err
	}
	return &backend{db: db, d: d, acquireTimeout: cfg.acquireTimeout}, nil
}

// acquireConn checks a connection out of the pool, waiting at most
// acquireTimeout for capacity.
func (b *backend) acquireConn(ctx context.Context) (*sql.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, b.acquireTimeout)
	defer cancel()
	conn, err := b.db.Conn(acquireCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, backendErr("acquire connection", errors.New("pool acquisition timed out"))
		}
		return nil, backendErr("acquire connection", err)
	}
	return conn, nil
}

// initSchema applies the dialect's DDL.
func (b *backend) initSchema(ctx context.Context) error {
	for _, stmt := range b.d.ddl() {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return backendErr("create schema", err)
		}
	}
	return nil
}

// mutationErr maps a driver error from a write, surfacing unique-key
// violations as ErrDuplicate.
func (b *backend) mutationErr(op string, err error) error {
	if b.d.isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicate, op)
	}
	return backendErr(op, err)
}

func (b *backend) close() error {
	if err := b.db.Close(); err != nil {
		return backendErr("close", err)
	}
	return nil
}
