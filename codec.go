package sealstore

import (
	"encoding/json"
	"time"
)

// encryptedRow is the persisted form of an entry: every column the backend
// sees. Category and name are sealed deterministically so exact-match fetch
// and the per-profile uniqueness constraint operate on ciphertext; the
// payload is sealed with a random nonce and bound to the profile and
// category through associated data.
type encryptedRow struct {
	category []byte
	name     []byte
	payload  []byte
	expiry   time.Time
}

// tagRow is one search row in items_tags. For a blind-indexed tag, value
// holds the one-way token; the recoverable copy lives only inside the
// encrypted payload. For a plaintext tag, value holds the tag value
// verbatim.
type tagRow struct {
	name      string
	value     []byte
	plaintext bool
}

// entryPayload is the JSON structure sealed into the items.value column.
// Tags ride inside it so blind-indexed tag values can be recovered on read
// without ever being stored in a reversible form in items_tags.
type entryPayload struct {
	Value []byte `json:"v"`
	Tags  []Tag  `json:"t,omitempty"`
}

// valueAAD binds a sealed payload to its profile and category, so a row
// cannot be replayed under a different profile or relabeled to a different
// category without failing authentication.
func valueAAD(profileID, category string) []byte {
	aad := make([]byte, 0, len(profileID)+1+len(category))
	aad = append(aad, profileID...)
	aad = append(aad, 0)
	aad = append(aad, category...)
	return aad
}

// encryptEntry transforms an entry into its persisted row plus search rows
// under the profile's cipher.
func encryptEntry(pc *profileCipher, profileID string, e *Entry, cfg *config) (*encryptedRow, []tagRow, error) {
	if err := e.validate(); err != nil {
		return nil, nil, err
	}

	encCategory, err := pc.sealDeterministic([]byte(e.Category))
	if err != nil {
		return nil, nil, err
	}
	encName, err := pc.sealDeterministic([]byte(e.Name))
	if err != nil {
		return nil, nil, err
	}

	plain, err := json.Marshal(entryPayload{Value: e.Value, Tags: e.Tags})
	if err != nil {
		return nil, nil, inputErr("entry not encodable")
	}
	compressed, flag := maybeCompress(plain, cfg.compressionThreshold, cfg.compressionDisabled)
	payload, err := pc.seal(compressed, valueAAD(profileID, e.Category), flag)
	if err != nil {
		return nil, nil, err
	}

	tags := make([]tagRow, 0, len(e.Tags))
	for _, t := range e.Tags {
		if t.Plaintext() {
			tags = append(tags, tagRow{name: t.Name, value: []byte(t.Value), plaintext: true})
			continue
		}
		token := pc.blindIndex(e.Category, t.Name, t.Value, cfg.indexWidth, cfg.normalizer)
		tags = append(tags, tagRow{name: t.Name, value: token})
	}

	return &encryptedRow{
		category: encCategory,
		name:     encName,
		payload:  payload,
		expiry:   e.Expiry,
	}, tags, nil
}

// decryptEntry is the exact inverse of encryptEntry. Any authentication
// failure surfaces as ErrEncryption with no partial result.
func decryptEntry(pc *profileCipher, profileID string, row *encryptedRow) (*Entry, error) {
	category, _, err := pc.open(row.category, nil)
	if err != nil {
		return nil, err
	}
	name, _, err := pc.open(row.name, nil)
	if err != nil {
		return nil, err
	}
	compressed, flag, err := pc.open(row.payload, valueAAD(profileID, string(category)))
	if err != nil {
		return nil, err
	}
	plain, err := decompress(compressed, flag)
	if err != nil {
		return nil, err
	}
	var payload entryPayload
	if err := json.Unmarshal(plain, &payload); err != nil {
		return nil, ErrInvalidFormat
	}
	return &Entry{
		Category: string(category),
		Name:     string(name),
		Value:    payload.Value,
		Tags:     payload.Tags,
		Expiry:   row.expiry,
	}, nil
}
