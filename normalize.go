package sealstore

import "strings"

// Normalizer canonicalizes a tag value before its blind index token is
// computed, enabling case- or whitespace-insensitive equality search on
// encrypted tags.
//
// The same normalizer must be in effect on both write and query; mixing
// normalizers breaks lookups. Normalization applies to the search token
// only, the stored tag value is preserved verbatim.
type Normalizer func(string) string

// NormalizeNone is the identity normalizer: exact, case-sensitive match.
// This is the default.
var NormalizeNone Normalizer = func(s string) string {
	return s
}

// NormalizeTrim trims leading and trailing whitespace, preserving case.
var NormalizeTrim Normalizer = func(s string) string {
	return strings.TrimSpace(s)
}

// NormalizeLower lowercases without trimming.
var NormalizeLower Normalizer = func(s string) string {
	return strings.ToLower(s)
}

// NormalizeFold lowercases and trims, for case-insensitive identifiers.
var NormalizeFold Normalizer = func(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
