// Package sanitize maps arbitrary user-chosen secret names onto the
// vault's constrained identifier alphabet.
//
// Key Vault secret names must be 1-127 characters drawn from
// [A-Za-z0-9-]. Names that already comply pass through unchanged so
// listings stay human-readable. Anything else is rewritten
// deterministically: runs of disallowed characters become a single
// hyphen, and names that still cannot fit fall back to a truncated
// SHA-256 digest with a recognizable marker prefix. The original name
// is never recoverable from the identifier; it is preserved verbatim in
// the original_name tag and read back from there.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// MaxNameLength is the vault-enforced identifier length ceiling.
	MaxNameLength = 127

	// hashPrefix marks identifiers derived from a digest so hashed
	// names are recognizable in listings.
	hashPrefix = "h-"

	// hashBytes of the SHA-256 digest are kept: 32 hex characters,
	// 34 with the prefix, comfortably under the ceiling.
	hashBytes = 16
)

// IsValid reports whether name already satisfies the vault's naming
// rules and can be used as an identifier unchanged.
func IsValid(name string) bool {
	if name == "" || len(name) > MaxNameLength {
		return false
	}
	for i := 0; i < len(name); i++ {
		if !allowed(name[i]) {
			return false
		}
	}
	return true
}

func allowed(c byte) bool {
	return c == '-' ||
		c >= '0' && c <= '9' ||
		c >= 'a' && c <= 'z' ||
		c >= 'A' && c <= 'Z'
}

// Sanitize converts a user-chosen name into a vault-compliant
// identifier. It is total and deterministic: the same input always
// yields the same identifier, so repeated writes to the same logical
// name target the same vault item. Empty names must be rejected by the
// caller before sanitization.
func Sanitize(name string) string {
	if IsValid(name) {
		return name
	}

	var b strings.Builder
	b.Grow(len(name))
	hyphen := false
	for i := 0; i < len(name); i++ {
		c := name[i]
		if allowed(c) && c != '-' {
			b.WriteByte(c)
			hyphen = false
			continue
		}
		// Disallowed characters and literal hyphens both act as
		// separators; consecutive separators collapse to one.
		if !hyphen && b.Len() > 0 {
			b.WriteByte('-')
			hyphen = true
		}
	}
	out := strings.TrimRight(b.String(), "-")

	if out == "" || len(out) > MaxNameLength {
		return hashName(name)
	}
	return out
}

// hashName derives a fixed-width identifier from the original name for
// inputs that cannot be sanitized in place.
func hashName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hashPrefix + hex.EncodeToString(sum[:hashBytes])
}

// IsHashed reports whether an identifier was produced by the digest
// fallback rather than in-place rewriting.
func IsHashed(backendID string) bool {
	return strings.HasPrefix(backendID, hashPrefix) && len(backendID) == len(hashPrefix)+2*hashBytes
}

// Info describes the outcome of sanitizing a name, for display to
// operators before a write.
type Info struct {
	Original  string
	Sanitized string
	Modified  bool
	Hashed    bool
}

// Describe reports how a name would be stored.
func Describe(name string) Info {
	s := Sanitize(name)
	return Info{
		Original:  name,
		Sanitized: s,
		Modified:  s != name,
		Hashed:    IsHashed(s),
	}
}
