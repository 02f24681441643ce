// Package auth provides credential hashing, token issuance and verification.
package auth

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters (OWASP 2024 recommended minimum).
const (
	argon2Time    = 3
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4
	argon2KeyLen  = 32
)

// legacyDigestLen is the hex length of digests written by the previous
// md5(plaintext + salt) scheme.
const legacyDigestLen = 32

var (
	// ErrInvalidHash indicates the hash format is invalid.
	ErrInvalidHash = errors.New("invalid hash format")
	// ErrIncompatibleVersion indicates the hash version is not supported.
	ErrIncompatibleVersion = errors.New("incompatible argon2 version")
	// ErrEmptySalt is returned when a hasher is built without a secret salt.
	ErrEmptySalt = errors.New("hash salt must not be empty")
)

// Params controls the Argon2id cost.
type Params struct {
	Time    uint32
	Memory  uint32
	Threads uint8
	KeyLen  uint32
}

// DefaultParams returns the production cost parameters.
func DefaultParams() Params {
	return Params{
		Time:    argon2Time,
		Memory:  argon2Memory,
		Threads: argon2Threads,
		KeyLen:  argon2KeyLen,
	}
}

// Hasher derives deterministic password digests from a plaintext and the
// process-wide secret salt. The salt is never embedded in the digest.
//
// Digest format: $argon2id$v=19$m=65536,t=3,p=4$<hash>
type Hasher struct {
	salt        []byte
	params      Params
	allowLegacy bool
}

// HasherOption configures a Hasher.
type HasherOption func(*Hasher)

// WithParams overrides the Argon2id cost parameters.
func WithParams(p Params) HasherOption {
	return func(h *Hasher) {
		h.params = p
	}
}

// WithLegacyDigests makes Compare accept md5 hex digests produced by the
// previous implementation. Hash never produces them.
func WithLegacyDigests(enabled bool) HasherOption {
	return func(h *Hasher) {
		h.allowLegacy = enabled
	}
}

// NewHasher creates a Hasher bound to the given secret salt.
func NewHasher(salt []byte, opts ...HasherOption) (*Hasher, error) {
	if len(salt) == 0 {
		return nil, ErrEmptySalt
	}

	h := &Hasher{
		salt:   append([]byte(nil), salt...),
		params: DefaultParams(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Hash returns the digest of plaintext. Identical input always produces an
// identical digest.
func (h *Hasher) Hash(plaintext string) string {
	key := h.derive(plaintext, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s",
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Threads,
		base64.RawStdEncoding.EncodeToString(key),
	)
}

// Compare reports whether candidate hashes to storedDigest.
// Malformed digests never match.
func (h *Hasher) Compare(storedDigest, candidate string) bool {
	if h.allowLegacy && isLegacyDigest(storedDigest) {
		computed := h.legacyDigest(candidate)
		return subtle.ConstantTimeCompare([]byte(computed), []byte(strings.ToLower(storedDigest))) == 1
	}

	p, expected, err := parseDigest(storedDigest)
	if err != nil {
		return false
	}

	computed := h.derive(candidate, p.Time, p.Memory, p.Threads, uint32(len(expected)))

	// Constant-time comparison to prevent timing attacks
	return subtle.ConstantTimeCompare(computed, expected) == 1
}

// NeedsRehash reports whether storedDigest was produced with a legacy scheme
// or different cost parameters than the hasher currently uses.
func (h *Hasher) NeedsRehash(storedDigest string) bool {
	if isLegacyDigest(storedDigest) {
		return true
	}
	p, expected, err := parseDigest(storedDigest)
	if err != nil {
		return true
	}
	return p.Time != h.params.Time ||
		p.Memory != h.params.Memory ||
		p.Threads != h.params.Threads ||
		uint32(len(expected)) != h.params.KeyLen
}

func (h *Hasher) derive(plaintext string, time, memory uint32, threads uint8, keyLen uint32) []byte {
	return argon2.IDKey([]byte(plaintext), h.salt, time, memory, threads, keyLen)
}

func (h *Hasher) legacyDigest(plaintext string) string {
	sum := md5.Sum(append([]byte(plaintext), h.salt...))
	return hex.EncodeToString(sum[:])
}

// parseDigest splits a digest into its cost parameters and raw key.
func parseDigest(digest string) (Params, []byte, error) {
	parts := strings.Split(digest, "$")
	if len(parts) != 5 {
		return Params{}, nil, ErrInvalidHash
	}

	if parts[1] != "argon2id" {
		return Params{}, nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return Params{}, nil, ErrInvalidHash
	}
	if version != argon2.Version {
		return Params{}, nil, ErrIncompatibleVersion
	}

	var p Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Threads); err != nil {
		return Params{}, nil, ErrInvalidHash
	}
	if p.Time == 0 || p.Threads == 0 {
		return Params{}, nil, ErrInvalidHash
	}

	key, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(key) == 0 {
		return Params{}, nil, ErrInvalidHash
	}
	p.KeyLen = uint32(len(key))

	return p, key, nil
}

func isLegacyDigest(digest string) bool {
	if len(digest) != legacyDigestLen {
		return false
	}
	_, err := hex.DecodeString(digest)
	return err == nil
}
