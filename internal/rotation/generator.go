// Package rotation generates replacement secret values.
package rotation

import (
	"crypto/rand"
	"fmt"

	kverrors "github.com/kvstash/kvstash/internal/errors"
)

// Generator produces a new secret value for rotation. Implementations
// must be safe for concurrent use.
type Generator interface {
	Generate() ([]byte, error)
}

const (
	alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	symbols      = "!@#$%^&*()-_=+"

	// DefaultLength balances entropy against systems that cap
	// credential length.
	DefaultLength = 32

	minLength = 8
	maxLength = 256
)

// Random generates uniformly distributed values from a fixed charset
// using crypto/rand.
type Random struct {
	length  int
	charset string
}

// RandomOption configures a Random generator.
type RandomOption func(*Random)

// WithLength sets the generated value length.
func WithLength(n int) RandomOption {
	return func(r *Random) { r.length = n }
}

// WithSymbols widens the charset with punctuation.
func WithSymbols() RandomOption {
	return func(r *Random) { r.charset = alphanumeric + symbols }
}

// NewRandom creates a generator for alphanumeric values of
// DefaultLength unless configured otherwise.
func NewRandom(opts ...RandomOption) (*Random, error) {
	r := &Random{length: DefaultLength, charset: alphanumeric}
	for _, opt := range opts {
		opt(r)
	}
	if r.length < minLength || r.length > maxLength {
		return nil, kverrors.ValidationError{
			Field:   "length",
			Message: fmt.Sprintf("generated value length must be between %d and %d, got %d", minLength, maxLength, r.length),
		}
	}
	return r, nil
}

// Generate returns a fresh random value. The caller owns the bytes and
// should wipe them once stored.
func (r *Random) Generate() ([]byte, error) {
	out := make([]byte, r.length)
	// Rejection sampling keeps the charset distribution uniform.
	limit := 256 - 256%len(r.charset)
	buf := make([]byte, r.length*2)
	filled := 0
	for filled < r.length {
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("reading random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out[filled] = r.charset[int(b)%len(r.charset)]
			filled++
			if filled == r.length {
				break
			}
		}
	}
	return out, nil
}
