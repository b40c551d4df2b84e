package sealstore

import (
	"context"
	"encoding/json"
)

// Stored key entries live in a reserved category so they share the entry
// encryption, tag indexing, and transaction machinery without colliding
// with user categories.
const (
	reservedCategoryPrefix = "$"
	keyCategory            = "$key"

	tagKeyAlg        = "alg"
	tagKeyThumbprint = "thumb"
)

// StoredKey is a key entry fetched from the store, with its lookup tags.
type StoredKey struct {
	Name string
	Key  *KeyEntry
	Tags []Tag
}

// InsertKey stores a key entry under the given name. The key's algorithm
// and thumbprint are attached as blind-indexed tags so keys can be fetched
// by either without decryption. Fails with ErrDuplicate if the name is
// taken.
func (s *Session) InsertKey(ctx context.Context, name string, k *KeyEntry, tags ...Tag) error {
	entry, err := s.keyEntryRecord(name, k, tags)
	if err != nil {
		return err
	}
	if err := s.checkOpen(""); err != nil {
		return err
	}
	return s.insertEntry(ctx, entry)
}

// FetchKey returns the named key entry, or ErrNotFound.
func (s *Session) FetchKey(ctx context.Context, name string) (*StoredKey, error) {
	if err := s.checkOpen(""); err != nil {
		return nil, err
	}
	entry, err := s.fetchEntry(ctx, keyCategory, name, false)
	if err != nil {
		return nil, err
	}
	return storedKeyFromEntry(entry)
}

// UpdateKey replaces the metadata and user tags of a stored key, keeping
// its key material.
func (s *Session) UpdateKey(ctx context.Context, name, metadata string, tags ...Tag) error {
	if err := s.checkOpen(""); err != nil {
		return err
	}
	existing, err := s.fetchEntry(ctx, keyCategory, name, false)
	if err != nil {
		return err
	}
	stored, err := storedKeyFromEntry(existing)
	if err != nil {
		return err
	}
	stored.Key.Metadata = metadata
	entry, err := s.keyEntryRecord(name, stored.Key, tags)
	if err != nil {
		return err
	}
	return s.replaceEntry(ctx, entry)
}

// RemoveKey deletes a stored key entry.
func (s *Session) RemoveKey(ctx context.Context, name string) error {
	if err := s.checkOpen(""); err != nil {
		return err
	}
	return s.removeEntry(ctx, keyCategory, name)
}

// FetchAllKeys returns stored keys, optionally filtered by algorithm,
// thumbprint, and a tag filter over user tags. A negative limit means no
// limit.
func (s *Session) FetchAllKeys(ctx context.Context, alg KeyAlg, thumbprint string, filter *TagFilter, limit int64) ([]*StoredKey, error) {
	if err := s.checkOpen(""); err != nil {
		return nil, err
	}
	var clauses []*TagFilter
	if alg != "" {
		clauses = append(clauses, Eq(tagKeyAlg, string(alg)))
	}
	if thumbprint != "" {
		clauses = append(clauses, Eq(tagKeyThumbprint, thumbprint))
	}
	if filter != nil {
		clauses = append(clauses, filter)
	}
	var combined *TagFilter
	if len(clauses) > 0 {
		combined = And(clauses...)
	}
	entries, err := s.fetchAllEntries(ctx, keyCategory, combined, limit, 0)
	if err != nil {
		return nil, err
	}
	out := make([]*StoredKey, 0, len(entries))
	for _, e := range entries {
		sk, err := storedKeyFromEntry(e)
		if err != nil {
			return nil, err
		}
		out = append(out, sk)
	}
	return out, nil
}

// keyEntryRecord builds the entry persisted for a key, attaching the
// reserved lookup tags.
func (s *Session) keyEntryRecord(name string, k *KeyEntry, userTags []Tag) (*Entry, error) {
	if name == "" {
		return nil, inputErr("empty key name")
	}
	if k == nil || len(k.Secret) == 0 {
		return nil, inputErr("empty key entry")
	}
	for _, t := range userTags {
		if t.Name == tagKeyAlg || t.Name == tagKeyThumbprint {
			return nil, inputErr("reserved key tag name")
		}
	}
	value, err := json.Marshal(k)
	if err != nil {
		return nil, inputErr("key entry not encodable")
	}
	tags := make([]Tag, 0, len(userTags)+2)
	tags = append(tags,
		Tag{Name: tagKeyAlg, Value: string(k.Alg)},
		Tag{Name: tagKeyThumbprint, Value: k.Thumbprint()},
	)
	tags = append(tags, userTags...)
	return &Entry{Category: keyCategory, Name: name, Value: value, Tags: tags}, nil
}

func storedKeyFromEntry(e *Entry) (*StoredKey, error) {
	var k KeyEntry
	if err := json.Unmarshal(e.Value, &k); err != nil {
		return nil, ErrInvalidFormat
	}
	userTags := make([]Tag, 0, len(e.Tags))
	for _, t := range e.Tags {
		if t.Name == tagKeyAlg || t.Name == tagKeyThumbprint {
			continue
		}
		userTags = append(userTags, t)
	}
	return &StoredKey{Name: e.Name, Key: &k, Tags: userTags}, nil
}
