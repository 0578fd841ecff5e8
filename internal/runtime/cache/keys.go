package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Key is the content fingerprint of a normalized text block: the hex-encoded
// SHA-256 of Normalize(text). Two texts that normalize identically always map
// to the same Key.
type Key string

// Normalize collapses every run of whitespace to a single space and trims the
// result. It is total and idempotent, so derived keys are stable across
// repeated normalization.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// DeriveKey fingerprints the normalized form of text. It never fails; the
// empty string normalizes to the empty string and hashes deterministically.
func DeriveKey(text string) Key {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return Key(hex.EncodeToString(sum[:]))
}

// CompositeKey folds the active ruleset version into the store key. A version
// bump changes what key is looked up, so every prior entry becomes unreachable
// without any scan-and-delete pass.
func CompositeKey(namespace, version string, key Key) string {
	return namespace + ":" + version + ":" + string(key)
}
