package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Minimum secret lengths accepted at startup.
const (
	MinSaltLen       = 8
	MinSigningKeyLen = 32
)

var (
	// ErrSaltTooShort indicates the configured hash salt is too short.
	ErrSaltTooShort = fmt.Errorf("hash salt must be at least %d bytes", MinSaltLen)
	// ErrSigningKeyTooShort indicates the configured signing key is too short.
	ErrSigningKeyTooShort = fmt.Errorf("signing key must be at least %d bytes", MinSigningKeyLen)
	// ErrInvalidTTL indicates a non-positive default token lifetime.
	ErrInvalidTTL = errors.New("default token ttl must be positive")
)

// Secrets carries the process-wide secret material. It is built once at
// startup and handed to NewHasher and NewTokenService; nothing in this
// package reads secrets from the environment.
type Secrets struct {
	HashSalt   []byte
	SigningKey []byte
	DefaultTTL time.Duration
}

// Validate checks that every secret is present and long enough.
func (s Secrets) Validate() error {
	if len(s.HashSalt) < MinSaltLen {
		return ErrSaltTooShort
	}
	if len(s.SigningKey) < MinSigningKeyLen {
		return ErrSigningKeyTooShort
	}
	if s.DefaultTTL <= 0 {
		return ErrInvalidTTL
	}
	return nil
}

// GenerateSecret returns byteLen random bytes, hex encoded.
// Used by the genkeys command to bootstrap HASH_SALT and SECRET_KEY.
func GenerateSecret(byteLen int) (string, error) {
	if byteLen <= 0 {
		return "", fmt.Errorf("invalid secret length %d", byteLen)
	}

	buf := make([]byte, byteLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
