package sealstore

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Config table row names.
const (
	confVersion        = "version"
	confKdf            = "kdf"
	confKdfSalt        = "kdf_salt"
	confKdfMemory      = "kdf_memory"
	confKdfTime        = "kdf_time"
	confKdfParallelism = "kdf_parallelism"
	confDefaultProfile = "default_profile"

	storeFormatVersion = "1"
	defaultProfileName = "default"
)

// Store is an open encrypted store over one backend database. It is safe
// for concurrent use; cryptographic work stays synchronous inside each
// operation, and backend I/O is the only point where callers block.
type Store struct {
	backend  *backend
	cfg      *config
	profiles *profileRegistry

	mu          sync.Mutex // guards key and defaultName against rekey races
	key         storeKey
	defaultName string

	closed atomic.Bool
}

// Open opens the store at the connection URI, provisioning the schema and
// default profile on first use. Exactly one key-material option is
// required. Reopening with wrong key material fails with ErrEncryption
// before any entry is readable.
func Open(uri string, opts ...Option) (*Store, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	b, err := openBackend(uri, cfg)
	if err != nil {
		return nil, err
	}
	ctx := context.Background()
	if err := b.initSchema(ctx); err != nil {
		b.close()
		return nil, err
	}

	s := &Store{backend: b, cfg: cfg, profiles: newProfileRegistry()}
	conf, err := s.loadConfig(ctx)
	if err != nil {
		b.close()
		return nil, err
	}
	if len(conf) == 0 {
		err = s.provision(ctx)
	} else {
		err = s.openExisting(ctx, conf)
	}
	if err != nil {
		b.close()
		return nil, err
	}
	return s, nil
}

func (s *Store) loadConfig(ctx context.Context) (map[string]string, error) {
	rows, err := s.backend.db.QueryContext(ctx, "SELECT name, value FROM config")
	if err != nil {
		return nil, backendErr("load config", err)
	}
	defer rows.Close()
	conf := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, backendErr("load config", err)
		}
		conf[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, backendErr("load config", err)
	}
	return conf, nil
}

// resolveStoreKey turns configured key material into the store key,
// deriving from the passphrase when salt and params are given.
func resolveStoreKey(cfg *config, salt []byte, params Argon2Params) (storeKey, error) {
	switch {
	case len(cfg.passphrase) > 0:
		return deriveStoreKey(cfg.passphrase, salt, params)
	case len(cfg.rawKey) > 0:
		return storeKeyFromSeed(cfg.rawKey)
	default:
		raw, err := cfg.keyProvider.StoreKey()
		if err != nil {
			return storeKey{}, fmt.Errorf("%w: key provider: %v", ErrKeyDerivation, err)
		}
		defer zero(raw)
		return storeKeyFromSeed(raw)
	}
}

// provision initializes a fresh store: persists the KDF configuration,
// creates the default profile with a new wrapped key, all in one
// transaction.
func (s *Store) provision(ctx context.Context) error {
	method := s.cfg.kdfMethod()
	var salt []byte
	if method == KdfArgon2id {
		var err error
		if salt, err = newKdfSalt(); err != nil {
			return err
		}
	}
	key, err := resolveStoreKey(s.cfg, salt, s.cfg.argon2)
	if err != nil {
		return err
	}

	name := s.cfg.profileName
	if name == "" {
		name = defaultProfileName
	}
	master, err := generateProfileKey()
	if err != nil {
		return err
	}
	defer zero(master)
	wrapped, err := wrapProfileKey(key, master)
	if err != nil {
		return err
	}
	cipher, err := newProfileCipher(master)
	if err != nil {
		return err
	}
	p := &profile{id: uuid.NewString(), name: name, cipher: cipher, master: append([]byte(nil), master...)}

	conf := map[string]string{
		confVersion:        storeFormatVersion,
		confKdf:            string(method),
		confDefaultProfile: name,
	}
	if method == KdfArgon2id {
		conf[confKdfSalt] = hex.EncodeToString(salt)
		conf[confKdfMemory] = strconv.FormatUint(uint64(s.cfg.argon2.Memory), 10)
		conf[confKdfTime] = strconv.FormatUint(uint64(s.cfg.argon2.Time), 10)
		conf[confKdfParallelism] = strconv.FormatUint(uint64(s.cfg.argon2.Parallelism), 10)
	}

	tx, err := s.backend.db.BeginTx(ctx, nil)
	if err != nil {
		return backendErr("provision", err)
	}
	defer tx.Rollback()
	for name, value := range conf {
		qb := &queryBuilder{d: s.backend.d}
		query := fmt.Sprintf("INSERT INTO config (name, value) VALUES (%s, %s)",
			qb.bind(name), qb.bind(value))
		if _, err := tx.ExecContext(ctx, query, qb.args...); err != nil {
			return backendErr("provision config", err)
		}
	}
	if err := insertProfileRow(ctx, tx, s.backend, p.id, p.name, wrapped); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return backendErr("provision", err)
	}

	s.key = key
	s.defaultName = name
	s.profiles.put(p)
	return nil
}

// openExisting re-derives the store key from the persisted KDF
// configuration and unwraps every profile key. An authentication failure on
// unwrap is the wrong-passphrase signal and surfaces as ErrEncryption.
func (s *Store) openExisting(ctx context.Context, conf map[string]string) error {
	method := KdfMethod(conf[confKdf])
	if method != s.cfg.kdfMethod() {
		return inputErr("key material does not match the store's derivation method")
	}
	var (
		salt   []byte
		params Argon2Params
	)
	if method == KdfArgon2id {
		var err error
		if salt, err = hex.DecodeString(conf[confKdfSalt]); err != nil {
			return ErrKeyDerivation
		}
		mem, err1 := strconv.ParseUint(conf[confKdfMemory], 10, 32)
		t, err2 := strconv.ParseUint(conf[confKdfTime], 10, 32)
		par, err3 := strconv.ParseUint(conf[confKdfParallelism], 10, 8)
		if err1 != nil || err2 != nil || err3 != nil {
			return ErrKeyDerivation
		}
		params = Argon2Params{Memory: uint32(mem), Time: uint32(t), Parallelism: uint8(par)}
	}
	key, err := resolveStoreKey(s.cfg, salt, params)
	if err != nil {
		return err
	}

	rows, err := s.backend.db.QueryContext(ctx, "SELECT id, name, wrapped_key FROM profiles")
	if err != nil {
		return backendErr("load profiles", err)
	}
	defer rows.Close()
	var loaded []*profile
	for rows.Next() {
		var (
			id, name string
			wrapped  []byte
		)
		if err := rows.Scan(&id, &name, &wrapped); err != nil {
			return backendErr("load profiles", err)
		}
		master, err := unwrapProfileKey(key, wrapped)
		if err != nil {
			return err
		}
		cipher, err := newProfileCipher(master)
		if err != nil {
			zero(master)
			return err
		}
		loaded = append(loaded, &profile{id: id, name: name, cipher: cipher, master: master})
	}
	if err := rows.Err(); err != nil {
		return backendErr("load profiles", err)
	}

	defaultName := conf[confDefaultProfile]
	found := false
	for _, p := range loaded {
		if p.name == defaultName {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: default profile %q", ErrNotFound, defaultName)
	}

	s.key = key
	s.defaultName = defaultName
	s.profiles.replaceAll(loaded)
	return nil
}

// Session opens a session on the named profile (default when empty). Each
// mutation commits in its own short transaction.
func (s *Store) Session(ctx context.Context, profileName string) (*Session, error) {
	return s.newSession(ctx, profileName, false)
}

// Transaction opens a session whose mutations buffer in one backend
// transaction until Commit. Releasing it without Commit rolls back.
func (s *Store) Transaction(ctx context.Context, profileName string) (*Session, error) {
	return s.newSession(ctx, profileName, true)
}

func (s *Store) resolveProfile(name string) (*profile, error) {
	if name == "" {
		s.mu.Lock()
		name = s.defaultName
		s.mu.Unlock()
	}
	p := s.profiles.get(name)
	if p == nil {
		return nil, fmt.Errorf("%w: profile %q", ErrNotFound, name)
	}
	return p, nil
}

// CreateProfile adds a new profile with a fresh key. An empty name draws a
// random one. Returns the profile name, or ErrDuplicate if it exists.
func (s *Store) CreateProfile(ctx context.Context, name string) (string, error) {
	if s.closed.Load() {
		return "", ErrStoreClosed
	}
	if name == "" {
		name = uuid.NewString()
	}
	master, err := generateProfileKey()
	if err != nil {
		return "", err
	}
	cipher, err := newProfileCipher(master)
	if err != nil {
		zero(master)
		return "", err
	}

	// The wrap and the insert stay under the store lock: a rekey committing
	// between them would persist this profile wrapped under a key that is no
	// longer the store key, leaving the store unopenable.
	s.mu.Lock()
	defer s.mu.Unlock()
	wrapped, err := wrapProfileKey(s.key, master)
	if err != nil {
		zero(master)
		return "", err
	}
	p := &profile{id: uuid.NewString(), name: name, cipher: cipher, master: master}
	if err := insertProfileRow(ctx, s.backend.db, s.backend, p.id, p.name, wrapped); err != nil {
		return "", err
	}
	s.profiles.put(p)
	return name, nil
}

func insertProfileRow(ctx context.Context, c dbConn, b *backend, id, name string, wrapped []byte) error {
	qb := &queryBuilder{d: b.d}
	query := fmt.Sprintf("INSERT INTO profiles (id, name, wrapped_key) VALUES (%s, %s, %s)",
		qb.bind(id), qb.bind(name), qb.bind(wrapped))
	if _, err := c.ExecContext(ctx, query, qb.args...); err != nil {
		return b.mutationErr("create profile", err)
	}
	return nil
}

// RemoveProfile deletes a profile and every entry in it. Removing the
// default profile is rejected with ErrInput.
func (s *Store) RemoveProfile(ctx context.Context, name string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	s.mu.Lock()
	isDefault := name == s.defaultName
	s.mu.Unlock()
	if isDefault {
		return inputErr("cannot remove the default profile")
	}
	qb := &queryBuilder{d: s.backend.d}
	query := fmt.Sprintf("DELETE FROM profiles WHERE name = %s", qb.bind(name))
	res, err := s.backend.db.ExecContext(ctx, query, qb.args...)
	if err != nil {
		return backendErr("remove profile", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return backendErr("remove profile", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: profile %q", ErrNotFound, name)
	}
	s.profiles.remove(name)
	return nil
}

// ListProfiles returns the known profile names.
func (s *Store) ListProfiles() []string {
	ps := s.profiles.all()
	names := make([]string, 0, len(ps))
	for _, p := range ps {
		names = append(names, p.name)
	}
	return names
}

// DefaultProfile returns the name of the default profile.
func (s *Store) DefaultProfile() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.defaultName
}

// SetDefaultProfile designates an existing profile as the default.
func (s *Store) SetDefaultProfile(ctx context.Context, name string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if s.profiles.get(name) == nil {
		return fmt.Errorf("%w: profile %q", ErrNotFound, name)
	}
	if err := s.setConfig(ctx, s.backend.db, confDefaultProfile, name); err != nil {
		return err
	}
	s.mu.Lock()
	s.defaultName = name
	s.mu.Unlock()
	return nil
}

func (s *Store) setConfig(ctx context.Context, c dbConn, name, value string) error {
	qb := &queryBuilder{d: s.backend.d}
	query := fmt.Sprintf("UPDATE config SET value = %s WHERE name = %s",
		qb.bind(value), qb.bind(name))
	res, err := c.ExecContext(ctx, query, qb.args...)
	if err != nil {
		return backendErr("update config", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		qb = &queryBuilder{d: s.backend.d}
		insert := fmt.Sprintf("INSERT INTO config (name, value) VALUES (%s, %s)",
			qb.bind(name), qb.bind(value))
		if _, err := c.ExecContext(ctx, insert, qb.args...); err != nil {
			return backendErr("update config", err)
		}
	}
	return nil
}

// Rekey rotates the store key: every profile key is re-wrapped under key
// material from the given options and the KDF configuration is updated, all
// in one transaction. Entry rows are untouched; profile keys, and therefore
// all data, stay decryptable under the new store key and become
// undecryptable under the old one.
func (s *Store) Rekey(ctx context.Context, opts ...Option) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	nc := defaultConfig()
	for _, opt := range opts {
		opt(nc)
	}
	if err := nc.validate(); err != nil {
		return err
	}

	method := nc.kdfMethod()
	var salt []byte
	if method == KdfArgon2id {
		var err error
		if salt, err = newKdfSalt(); err != nil {
			return err
		}
	}
	newKey, err := resolveStoreKey(nc, salt, nc.argon2)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.backend.db.BeginTx(ctx, nil)
	if err != nil {
		return backendErr("rekey", err)
	}
	defer tx.Rollback()

	for _, p := range s.profiles.all() {
		wrapped, err := wrapProfileKey(newKey, p.master)
		if err != nil {
			return err
		}
		qb := &queryBuilder{d: s.backend.d}
		query := fmt.Sprintf("UPDATE profiles SET wrapped_key = %s WHERE id = %s",
			qb.bind(wrapped), qb.bind(p.id))
		if _, err := tx.ExecContext(ctx, query, qb.args...); err != nil {
			return backendErr("rekey profile", err)
		}
	}

	conf := map[string]string{
		confKdf:            string(method),
		confKdfSalt:        hex.EncodeToString(salt),
		confKdfMemory:      strconv.FormatUint(uint64(nc.argon2.Memory), 10),
		confKdfTime:        strconv.FormatUint(uint64(nc.argon2.Time), 10),
		confKdfParallelism: strconv.FormatUint(uint64(nc.argon2.Parallelism), 10),
	}
	for name, value := range conf {
		if err := s.setConfig(ctx, tx, name, value); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return backendErr("rekey", err)
	}

	s.key = newKey
	// Keep the key-material source for subsequent profile creation.
	s.cfg.passphrase = nc.passphrase
	s.cfg.rawKey = nc.rawKey
	s.cfg.keyProvider = nc.keyProvider
	s.cfg.argon2 = nc.argon2
	return nil
}

// PruneExpired removes entries past their expiry across all profiles,
// returning how many were removed. Expired entries are already invisible to
// reads; this reclaims their rows.
func (s *Store) PruneExpired(ctx context.Context) (int64, error) {
	if s.closed.Load() {
		return 0, ErrStoreClosed
	}
	qb := &queryBuilder{d: s.backend.d}
	query := fmt.Sprintf("DELETE FROM items WHERE expiry IS NOT NULL AND expiry <= %s",
		qb.bind(nowUnix()))
	res, err := s.backend.db.ExecContext(ctx, query, qb.args...)
	if err != nil {
		return 0, backendErr("prune expired", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, backendErr("prune expired", err)
	}
	return n, nil
}

// Close releases the backend pool and wipes cached key material. Open
// sessions become unusable.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	err := s.backend.close()
	for _, p := range s.profiles.all() {
		p.cipher.zeroKeys()
		zero(p.master)
	}
	s.mu.Lock()
	s.key = storeKey{}
	s.mu.Unlock()
	return err
}
