package sealstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// sessionState tracks the lifecycle:
// open -> {committed, rolled back} -> closed.
type sessionState uint8

const (
	stateOpen sessionState = iota
	stateCommitted
	stateRolledBack
	stateClosed
)

// Session is a scoped handle over one backend connection, bound to one
// profile.
//
// A Session from Store.Session runs each mutation in its own short
// transaction (an entry and its tag rows are still written atomically). A
// Session from Store.Transaction buffers every mutation in one backend
// transaction: nothing is visible to other sessions until Commit, the
// session observes its own writes immediately, and releasing it without
// Commit rolls everything back. Guarantees across sessions are the
// backend's isolation level; a failed Commit is never retried.
//
// Sessions are not safe for concurrent use by multiple goroutines.
type Session struct {
	store         *Store
	profile       *profile
	conn          *sql.Conn
	tx            *sql.Tx
	transactional bool

	mu    sync.Mutex
	state sessionState
}

func (s *Store) newSession(ctx context.Context, profileName string, transactional bool) (*Session, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	p, err := s.resolveProfile(profileName)
	if err != nil {
		return nil, err
	}
	conn, err := s.backend.acquireConn(ctx)
	if err != nil {
		return nil, err
	}
	sess := &Session{store: s, profile: p, conn: conn, transactional: transactional}
	if transactional {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			conn.Close()
			return nil, backendErr("begin transaction", err)
		}
		sess.tx = tx
	}
	return sess, nil
}

// Profile returns the name of the profile this session is bound to.
func (s *Session) Profile() string {
	return s.profile.name
}

// q is the statement surface reads run against: the buffered transaction
// when there is one, otherwise the connection itself.
func (s *Session) q() dbConn {
	if s.tx != nil {
		return s.tx
	}
	return s.conn
}

// mutate runs fn atomically. Transactional sessions use the buffered
// transaction; otherwise each mutation gets its own short transaction so an
// entry and its tag rows are never observable half-written.
func (s *Session) mutate(ctx context.Context, fn func(c dbConn) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return backendErr("begin transaction", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return backendErr("commit", err)
	}
	return nil
}

// checkOpen validates session state and the category argument for
// user-facing operations.
func (s *Session) checkOpen(category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateOpen {
		return ErrSessionClosed
	}
	if strings.HasPrefix(category, reservedCategoryPrefix) {
		return inputErr("reserved category")
	}
	return nil
}

// fail routes an operation error, closing the session on cryptographic
// failure so no further operations run with suspect key material.
func (s *Session) fail(err error) error {
	if errors.Is(err, ErrEncryption) {
		s.Close()
	}
	return err
}

// Insert writes a new entry. It fails with ErrDuplicate if (category, name)
// already exists in the profile.
func (s *Session) Insert(ctx context.Context, e *Entry) error {
	if err := s.checkOpen(entryCategory(e)); err != nil {
		return err
	}
	return s.insertEntry(ctx, e)
}

// Replace upserts an entry: an existing (category, name) row is replaced
// atomically together with its tag rows, otherwise the entry is inserted.
func (s *Session) Replace(ctx context.Context, e *Entry) error {
	if err := s.checkOpen(entryCategory(e)); err != nil {
		return err
	}
	return s.replaceEntry(ctx, e)
}

// Remove deletes an entry and its tag rows. Missing entries fail with
// ErrNotFound.
func (s *Session) Remove(ctx context.Context, category, name string) error {
	if err := s.checkOpen(category); err != nil {
		return err
	}
	return s.removeEntry(ctx, category, name)
}

// RemoveAll deletes every entry in the category matching the filter,
// returning how many were removed. A nil filter matches the whole category.
func (s *Session) RemoveAll(ctx context.Context, category string, filter *TagFilter) (int64, error) {
	if err := s.checkOpen(category); err != nil {
		return 0, err
	}
	return s.removeAllEntries(ctx, category, filter)
}

// Fetch returns the entry at (category, name), or ErrNotFound. Entries past
// their expiry are treated as absent. With forUpdate the row is locked for
// the rest of the transaction on backends that support it.
func (s *Session) Fetch(ctx context.Context, category, name string, forUpdate bool) (*Entry, error) {
	if err := s.checkOpen(category); err != nil {
		return nil, err
	}
	return s.fetchEntry(ctx, category, name, forUpdate)
}

// FetchAll returns entries matching the category and filter in insertion
// order. A negative limit means no limit; category may be empty to scan all
// categories, in which case the filter may reference plaintext tags only.
func (s *Session) FetchAll(ctx context.Context, category string, filter *TagFilter, limit, offset int64) ([]*Entry, error) {
	if err := s.checkOpen(category); err != nil {
		return nil, err
	}
	return s.fetchAllEntries(ctx, category, filter, limit, offset)
}

// Count returns the number of entries matching the category and filter.
func (s *Session) Count(ctx context.Context, category string, filter *TagFilter) (int64, error) {
	if err := s.checkOpen(category); err != nil {
		return 0, err
	}
	return s.countEntries(ctx, category, filter)
}

// Commit flushes a buffered transaction atomically and closes the session.
// On a non-transactional session, whose mutations are already committed, it
// just closes. Commit errors are surfaced, never retried: the outcome of a
// failed commit is ambiguous and the caller must re-derive intent.
func (s *Session) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateOpen {
		return ErrSessionClosed
	}
	if s.tx != nil {
		if err := s.tx.Commit(); err != nil {
			s.state = stateRolledBack
			s.releaseLocked()
			return backendErr("commit", err)
		}
	}
	s.state = stateCommitted
	s.releaseLocked()
	return nil
}

// Rollback discards buffered mutations and closes the session.
func (s *Session) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateOpen {
		return ErrSessionClosed
	}
	if s.tx != nil {
		s.tx.Rollback()
	}
	s.state = stateRolledBack
	s.releaseLocked()
	return nil
}

// Close releases the session. Abandoning a transactional session without
// Commit is equivalent to Rollback: no partial state is left committed.
// Close is idempotent and safe on every exit path.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateClosed {
		return nil
	}
	if s.state == stateOpen {
		if s.tx != nil {
			s.tx.Rollback()
		}
		s.state = stateRolledBack
	}
	s.releaseLocked()
	s.state = stateClosed
	return nil
}

func (s *Session) releaseLocked() {
	s.tx = nil
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func entryCategory(e *Entry) string {
	if e == nil {
		return ""
	}
	return e.Category
}

// nowUnix is the expiry comparison point, overridable in tests.
var nowUnix = func() int64 { return time.Now().Unix() }

func expiryParam(expiry time.Time) any {
	if expiry.IsZero() {
		return nil
	}
	return expiry.Unix()
}

func expiryFromColumn(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.Unix(v.Int64, 0).UTC()
}

// notExpired renders the standard expiry predicate for reads.
func notExpired(qb *queryBuilder) string {
	return fmt.Sprintf("(i.expiry IS NULL OR i.expiry > %s)", qb.bind(nowUnix()))
}

func (s *Session) insertEntry(ctx context.Context, e *Entry) error {
	row, tags, err := encryptEntry(s.profile.cipher, s.profile.id, e, s.store.cfg)
	if err != nil {
		return s.fail(err)
	}
	return s.mutate(ctx, func(c dbConn) error {
		id, err := s.insertRow(ctx, c, row)
		if err != nil {
			return err
		}
		return s.insertTags(ctx, c, id, tags)
	})
}

func (s *Session) insertRow(ctx context.Context, c dbConn, row *encryptedRow) (int64, error) {
	qb := &queryBuilder{d: s.store.backend.d}
	query := fmt.Sprintf(
		"INSERT INTO items (profile_id, category, name, value, expiry) VALUES (%s, %s, %s, %s, %s)",
		qb.bind(s.profile.id), qb.bind(row.category), qb.bind(row.name),
		qb.bind(row.payload), qb.bind(expiryParam(row.expiry)))

	if ret := s.store.backend.d.returningID(); ret != "" {
		var id int64
		if err := c.QueryRowContext(ctx, query+ret, qb.args...).Scan(&id); err != nil {
			return 0, s.store.backend.mutationErr("insert entry", err)
		}
		return id, nil
	}
	res, err := c.ExecContext(ctx, query, qb.args...)
	if err != nil {
		return 0, s.store.backend.mutationErr("insert entry", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, backendErr("insert entry", err)
	}
	return id, nil
}

func (s *Session) insertTags(ctx context.Context, c dbConn, itemID int64, tags []tagRow) error {
	for _, t := range tags {
		qb := &queryBuilder{d: s.store.backend.d}
		flag := 0
		if t.plaintext {
			flag = 1
		}
		query := fmt.Sprintf(
			"INSERT INTO items_tags (item_id, name, value, plaintext) VALUES (%s, %s, %s, %s)",
			qb.bind(itemID), qb.bind(t.name), qb.bind(t.value), qb.bind(flag))
		if _, err := c.ExecContext(ctx, query, qb.args...); err != nil {
			return backendErr("insert tag", err)
		}
	}
	return nil
}

func (s *Session) replaceEntry(ctx context.Context, e *Entry) error {
	row, tags, err := encryptEntry(s.profile.cipher, s.profile.id, e, s.store.cfg)
	if err != nil {
		return s.fail(err)
	}
	return s.mutate(ctx, func(c dbConn) error {
		qb := &queryBuilder{d: s.store.backend.d}
		query := fmt.Sprintf(
			"SELECT id FROM items WHERE profile_id = %s AND category = %s AND name = %s",
			qb.bind(s.profile.id), qb.bind(row.category), qb.bind(row.name))
		var id int64
		err := c.QueryRowContext(ctx, query, qb.args...).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			newID, err := s.insertRow(ctx, c, row)
			if err != nil {
				return err
			}
			return s.insertTags(ctx, c, newID, tags)
		case err != nil:
			return backendErr("replace entry", err)
		}

		qb = &queryBuilder{d: s.store.backend.d}
		update := fmt.Sprintf("UPDATE items SET value = %s, expiry = %s WHERE id = %s",
			qb.bind(row.payload), qb.bind(expiryParam(row.expiry)), qb.bind(id))
		if _, err := c.ExecContext(ctx, update, qb.args...); err != nil {
			return backendErr("replace entry", err)
		}
		qb = &queryBuilder{d: s.store.backend.d}
		clearTags := fmt.Sprintf("DELETE FROM items_tags WHERE item_id = %s", qb.bind(id))
		if _, err := c.ExecContext(ctx, clearTags, qb.args...); err != nil {
			return backendErr("replace tags", err)
		}
		return s.insertTags(ctx, c, id, tags)
	})
}

func (s *Session) removeEntry(ctx context.Context, category, name string) error {
	encCategory, err := s.profile.cipher.sealDeterministic([]byte(category))
	if err != nil {
		return s.fail(err)
	}
	encName, err := s.profile.cipher.sealDeterministic([]byte(name))
	if err != nil {
		return s.fail(err)
	}
	return s.mutate(ctx, func(c dbConn) error {
		qb := &queryBuilder{d: s.store.backend.d}
		query := fmt.Sprintf(
			"DELETE FROM items WHERE profile_id = %s AND category = %s AND name = %s",
			qb.bind(s.profile.id), qb.bind(encCategory), qb.bind(encName))
		res, err := c.ExecContext(ctx, query, qb.args...)
		if err != nil {
			return backendErr("remove entry", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return backendErr("remove entry", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: entry %q/%q", ErrNotFound, category, name)
		}
		return nil
	})
}

func (s *Session) removeAllEntries(ctx context.Context, category string, filter *TagFilter) (int64, error) {
	var removed int64
	err := s.mutate(ctx, func(c dbConn) error {
		qb := &queryBuilder{d: s.store.backend.d}
		where, err := s.whereClause(qb, category, filter, false)
		if err != nil {
			return err
		}
		query := fmt.Sprintf("DELETE FROM items WHERE id IN (SELECT i.id FROM items i WHERE %s)", where)
		res, err := c.ExecContext(ctx, query, qb.args...)
		if err != nil {
			return backendErr("remove entries", err)
		}
		removed, err = res.RowsAffected()
		if err != nil {
			return backendErr("remove entries", err)
		}
		return nil
	})
	if err != nil {
		return 0, s.fail(err)
	}
	return removed, nil
}

// whereClause renders the shared predicate: profile, optional category,
// expiry, and compiled tag filter.
func (s *Session) whereClause(qb *queryBuilder, category string, filter *TagFilter, withExpiry bool) (string, error) {
	parts := []string{fmt.Sprintf("i.profile_id = %s", qb.bind(s.profile.id))}
	if category != "" {
		encCategory, err := s.profile.cipher.sealDeterministic([]byte(category))
		if err != nil {
			return "", err
		}
		parts = append(parts, fmt.Sprintf("i.category = %s", qb.bind(encCategory)))
	}
	if withExpiry {
		parts = append(parts, notExpired(qb))
	}
	pred, err := compileFilter(s.profile.cipher, s.store.cfg, category, filter, qb)
	if err != nil {
		return "", err
	}
	if pred != "" {
		parts = append(parts, pred)
	}
	return strings.Join(parts, " AND "), nil
}

func (s *Session) fetchEntry(ctx context.Context, category, name string, forUpdate bool) (*Entry, error) {
	encCategory, err := s.profile.cipher.sealDeterministic([]byte(category))
	if err != nil {
		return nil, s.fail(err)
	}
	encName, err := s.profile.cipher.sealDeterministic([]byte(name))
	if err != nil {
		return nil, s.fail(err)
	}
	qb := &queryBuilder{d: s.store.backend.d}
	query := fmt.Sprintf(
		"SELECT i.value, i.expiry FROM items i WHERE i.profile_id = %s AND i.category = %s AND i.name = %s AND %s",
		qb.bind(s.profile.id), qb.bind(encCategory), qb.bind(encName), notExpired(qb))
	if forUpdate && s.tx != nil {
		query += s.store.backend.d.forUpdate()
	}

	var (
		payload []byte
		expiry  sql.NullInt64
	)
	err = s.q().QueryRowContext(ctx, query, qb.args...).Scan(&payload, &expiry)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("%w: entry %q/%q", ErrNotFound, category, name)
	case err != nil:
		return nil, backendErr("fetch entry", err)
	}

	entry, err := decryptEntry(s.profile.cipher, s.profile.id, &encryptedRow{
		category: encCategory,
		name:     encName,
		payload:  payload,
		expiry:   expiryFromColumn(expiry),
	})
	if err != nil {
		return nil, s.fail(err)
	}
	return entry, nil
}

func (s *Session) fetchAllEntries(ctx context.Context, category string, filter *TagFilter, limit, offset int64) ([]*Entry, error) {
	qb := &queryBuilder{d: s.store.backend.d}
	where, err := s.whereClause(qb, category, filter, true)
	if err != nil {
		return nil, s.fail(err)
	}
	query := fmt.Sprintf(
		"SELECT i.category, i.name, i.value, i.expiry FROM items i WHERE %s ORDER BY i.id%s",
		where, limitClause(qb, limit, offset))

	rows, err := s.q().QueryContext(ctx, query, qb.args...)
	if err != nil {
		return nil, backendErr("fetch entries", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var (
			row    encryptedRow
			expiry sql.NullInt64
		)
		if err := rows.Scan(&row.category, &row.name, &row.payload, &expiry); err != nil {
			return nil, backendErr("fetch entries", err)
		}
		row.expiry = expiryFromColumn(expiry)
		entry, err := decryptEntry(s.profile.cipher, s.profile.id, &row)
		if err != nil {
			return nil, s.fail(err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, backendErr("fetch entries", err)
	}
	return out, nil
}

func (s *Session) countEntries(ctx context.Context, category string, filter *TagFilter) (int64, error) {
	qb := &queryBuilder{d: s.store.backend.d}
	where, err := s.whereClause(qb, category, filter, true)
	if err != nil {
		return 0, s.fail(err)
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM items i WHERE %s", where)
	var n int64
	if err := s.q().QueryRowContext(ctx, query, qb.args...).Scan(&n); err != nil {
		return 0, backendErr("count entries", err)
	}
	return n, nil
}

// limitClause renders LIMIT/OFFSET. A negative limit means unlimited, which
// still needs an explicit huge LIMIT when an offset is present because
// neither engine accepts a bare OFFSET.
func limitClause(qb *queryBuilder, limit, offset int64) string {
	if limit < 0 && offset <= 0 {
		return ""
	}
	if limit < 0 {
		limit = 1 << 62
	}
	clause := fmt.Sprintf(" LIMIT %s", qb.bind(limit))
	if offset > 0 {
		clause += fmt.Sprintf(" OFFSET %s", qb.bind(offset))
	}
	return clause
}
