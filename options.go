package sealstore

import "time"

const (
	defaultAcquireTimeout = 30 * time.Second
	defaultMaxConns       = 8
)

// config holds store configuration assembled from Options.
type config struct {
	passphrase  []byte
	rawKey      []byte
	keyProvider KeyProvider
	argon2      Argon2Params

	profileName string

	indexWidth int
	normalizer Normalizer

	compressionThreshold int
	compressionDisabled  bool

	maxConns       int
	acquireTimeout time.Duration
}

func defaultConfig() *config {
	return &config{
		argon2:               DefaultArgon2Params,
		indexWidth:           DefaultIndexWidth,
		normalizer:           NormalizeNone,
		compressionThreshold: defaultCompressionThreshold,
		maxConns:             defaultMaxConns,
		acquireTimeout:       defaultAcquireTimeout,
	}
}

func (c *config) validate() error {
	sources := 0
	if len(c.passphrase) > 0 {
		sources++
	}
	if len(c.rawKey) > 0 {
		sources++
	}
	if c.keyProvider != nil {
		sources++
	}
	if sources == 0 {
		return inputErr("no key material: use WithPassphrase, WithRawKey, or WithKeyProvider")
	}
	if sources > 1 {
		return inputErr("conflicting key material options")
	}
	if c.indexWidth < MinIndexWidth || c.indexWidth > MaxIndexWidth {
		return inputErr("index width out of range")
	}
	if c.acquireTimeout <= 0 {
		return inputErr("acquire timeout must be positive")
	}
	return nil
}

// kdfMethod reports how the store key is obtained from this configuration.
func (c *config) kdfMethod() KdfMethod {
	if len(c.passphrase) > 0 {
		return KdfArgon2id
	}
	return KdfRaw
}

// Option configures a Store at open time.
type Option func(*config)

// WithPassphrase derives the store key from a passphrase with Argon2id.
// The salt and cost parameters are persisted in the store so the key can be
// re-derived on reopen.
func WithPassphrase(passphrase string) Option {
	return func(c *config) {
		c.passphrase = []byte(passphrase)
	}
}

// WithRawKey supplies the 32-byte store key directly, skipping passphrase
// derivation. The key is copied; the caller may zero the original.
func WithRawKey(key []byte) Option {
	return func(c *config) {
		c.rawKey = make([]byte, len(key))
		copy(c.rawKey, key)
	}
}

// WithKeyProvider sources the raw store key from an external key management
// system at open time.
func WithKeyProvider(p KeyProvider) Option {
	return func(c *config) {
		c.keyProvider = p
	}
}

// WithArgon2Params overrides the passphrase derivation cost. Only consulted
// when the store is first provisioned or rekeyed; reopening uses the
// persisted parameters.
func WithArgon2Params(p Argon2Params) Option {
	return func(c *config) {
		c.argon2 = p
	}
}

// WithProfile names the default profile created when the store is first
// provisioned.
func WithProfile(name string) Option {
	return func(c *config) {
		c.profileName = name
	}
}

// WithIndexWidth sets the blind index token width in bytes (8..32).
// Shorter tokens shrink the index and raise the equality false-positive
// rate, resolved by decrypting candidates; longer tokens the opposite.
// Changing the width on an existing store breaks lookups of previously
// written encrypted tags.
func WithIndexWidth(bytes int) Option {
	return func(c *config) {
		c.indexWidth = bytes
	}
}

// WithTagNormalizer canonicalizes encrypted tag values before indexing,
// enabling e.g. case-insensitive equality search. Must match between write
// and query.
func WithTagNormalizer(n Normalizer) Option {
	return func(c *config) {
		c.normalizer = n
	}
}

// WithCompressionThreshold sets the minimum payload size in bytes before
// zstd compression is attempted. Default 1024.
func WithCompressionThreshold(bytes int) Option {
	return func(c *config) {
		c.compressionThreshold = bytes
	}
}

// WithCompressionDisabled disables payload compression entirely.
func WithCompressionDisabled() Option {
	return func(c *config) {
		c.compressionDisabled = true
	}
}

// WithMaxConns bounds the backend connection pool.
func WithMaxConns(n int) Option {
	return func(c *config) {
		c.maxConns = n
	}
}

// WithAcquireTimeout bounds how long a session waits for a pooled
// connection before failing with ErrBackend. Default 30s.
func WithAcquireTimeout(d time.Duration) Option {
	return func(c *config) {
		c.acquireTimeout = d
	}
}
