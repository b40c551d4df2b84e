package sealstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Scan is a read-only cursor over entries matching a category and tag
// filter, outside any session. Rows are fetched and decrypted lazily in
// insertion order. A Scan is finite and not restartable once consumed.
//
//	scan, err := store.Scan(ctx, "", "credential", filter, -1, 0)
//	if err != nil { ... }
//	defer scan.Close()
//	for scan.Next() {
//	    entry := scan.Entry()
//	    ...
//	}
//	if err := scan.Err(); err != nil { ... }
type Scan struct {
	conn    *sql.Conn
	rows    *sql.Rows
	cipher  *profileCipher
	profile string
	cur     *Entry
	err     error
}

// Scan opens a cursor on the named profile (default when empty). A negative
// limit means no limit.
func (s *Store) Scan(ctx context.Context, profileName, category string, filter *TagFilter, limit, offset int64) (*Scan, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	p, err := s.resolveProfile(profileName)
	if err != nil {
		return nil, err
	}

	qb := &queryBuilder{d: s.backend.d}
	parts := []string{fmt.Sprintf("i.profile_id = %s", qb.bind(p.id))}
	if category != "" {
		encCategory, err := p.cipher.sealDeterministic([]byte(category))
		if err != nil {
			return nil, err
		}
		parts = append(parts, fmt.Sprintf("i.category = %s", qb.bind(encCategory)))
	}
	parts = append(parts, notExpired(qb))
	pred, err := compileFilter(p.cipher, s.cfg, category, filter, qb)
	if err != nil {
		return nil, err
	}
	if pred != "" {
		parts = append(parts, pred)
	}
	query := fmt.Sprintf(
		"SELECT i.category, i.name, i.value, i.expiry FROM items i WHERE %s ORDER BY i.id%s",
		strings.Join(parts, " AND "), limitClause(qb, limit, offset))

	conn, err := s.backend.acquireConn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx, query, qb.args...)
	if err != nil {
		conn.Close()
		return nil, backendErr("scan", err)
	}
	return &Scan{conn: conn, rows: rows, cipher: p.cipher, profile: p.id}, nil
}

// Next advances to the next entry, reporting false at the end of the result
// set or on error.
func (sc *Scan) Next() bool {
	if sc.err != nil || sc.rows == nil {
		return false
	}
	if !sc.rows.Next() {
		sc.err = sc.rows.Err()
		if sc.err != nil {
			sc.err = backendErr("scan", sc.err)
		}
		return false
	}
	var (
		row    encryptedRow
		expiry sql.NullInt64
	)
	if err := sc.rows.Scan(&row.category, &row.name, &row.payload, &expiry); err != nil {
		sc.err = backendErr("scan", err)
		return false
	}
	row.expiry = expiryFromColumn(expiry)
	entry, err := decryptEntry(sc.cipher, sc.profile, &row)
	if err != nil {
		sc.err = err
		return false
	}
	sc.cur = entry
	return true
}

// Entry returns the entry at the cursor, valid after a true Next.
func (sc *Scan) Entry() *Entry {
	return sc.cur
}

// Err returns the first error encountered while scanning.
func (sc *Scan) Err() error {
	return sc.err
}

// Close releases the cursor's connection. Safe to call more than once.
func (sc *Scan) Close() error {
	var err error
	if sc.rows != nil {
		err = sc.rows.Close()
		sc.rows = nil
	}
	if sc.conn != nil {
		sc.conn.Close()
		sc.conn = nil
	}
	if err != nil {
		return backendErr("scan close", err)
	}
	return nil
}

// FetchAll drains the remainder of the cursor and closes it.
func (sc *Scan) FetchAll() ([]*Entry, error) {
	defer sc.Close()
	var out []*Entry
	for sc.Next() {
		out = append(out, sc.Entry())
	}
	return out, sc.Err()
}
