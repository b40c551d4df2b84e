package sealstore

import (
	"strings"
	"time"
)

// Tag is a searchable attribute attached to an entry.
//
// A name beginning with "~" marks a plaintext tag: it is stored unencrypted,
// which reveals it to anyone with storage access but enables ordering
// predicates. Any other name marks a blind-indexed tag: only a keyed one-way
// token reaches storage, and the tag supports equality and membership
// predicates only. The full tag (name and value) always round-trips through
// the entry's encrypted payload regardless of kind.
type Tag struct {
	Name  string
	Value string
}

// Plaintext reports whether the tag is stored unencrypted.
func (t Tag) Plaintext() bool {
	return strings.HasPrefix(t.Name, "~")
}

// Entry is a named record within a category. (Category, Name) is unique
// within a profile. Value is opaque to the store. A zero Expiry means the
// entry never expires; an entry past its expiry is treated as absent on
// read.
type Entry struct {
	Category string
	Name     string
	Value    []byte
	Tags     []Tag
	Expiry   time.Time
}

// Tag returns the value of the named tag and whether it is present.
func (e *Entry) Tag(name string) (string, bool) {
	for _, t := range e.Tags {
		if t.Name == name {
			return t.Value, true
		}
	}
	return "", false
}

func (e *Entry) validate() error {
	if e == nil {
		return inputErr("nil entry")
	}
	if e.Category == "" {
		return inputErr("empty category")
	}
	if e.Name == "" {
		return inputErr("empty name")
	}
	for _, t := range e.Tags {
		if t.Name == "" || t.Name == "~" {
			return inputErr("empty tag name")
		}
	}
	return nil
}
