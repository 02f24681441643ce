package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// Token verification errors. Callers branch on these with errors.Is.
var (
	ErrTokenExpired = errors.New("token has expired")
	ErrTokenInvalid = errors.New("token is invalid")
)

// Registered claim names added by the token service.
const (
	ClaimExpiresAt = "exp"
	ClaimIssuedAt  = "iat"
	ClaimTokenID   = "jti"
)

// Subject claim names embedded at login.
const (
	ClaimUserID  = "id"
	ClaimEmail   = "email"
	ClaimName    = "name"
	ClaimSurname = "surname"
)

// Claims is the decoded payload of a token: string keys mapped to
// primitive JSON values. Numbers decode as float64.
type Claims map[string]any

// UserID returns the numeric id claim.
func (c Claims) UserID() (int64, bool) {
	switch v := c[ClaimUserID].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	}
	return 0, false
}

// Email returns the email claim, or "".
func (c Claims) Email() string {
	s, _ := c[ClaimEmail].(string)
	return s
}

// ExpiresAt returns the expiration claim.
func (c Claims) ExpiresAt() (time.Time, bool) {
	switch v := c[ClaimExpiresAt].(type) {
	case float64:
		return time.Unix(int64(v), 0), true
	case int64:
		return time.Unix(v, 0), true
	}
	return time.Time{}, false
}

// TokenService issues and verifies HS256 signed tokens.
type TokenService struct {
	key        []byte
	defaultTTL time.Duration
	now        func() time.Time
}

// TokenOption configures a TokenService.
type TokenOption func(*TokenService)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		s.now = now
	}
}

// NewTokenService creates a TokenService signing with key.
func NewTokenService(key []byte, defaultTTL time.Duration, opts ...TokenOption) (*TokenService, error) {
	if len(key) == 0 {
		return nil, errors.New("signing key must not be empty")
	}

	s := &TokenService{
		key:        append([]byte(nil), key...),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// DefaultTTL returns the configured lifetime for login tokens.
func (s *TokenService) DefaultTTL() time.Duration {
	return s.defaultTTL
}

// Issue signs claims with an absolute expiration of now+ttl. A negative ttl
// yields a token that is already expired. The input map is not modified.
func (s *TokenService) Issue(claims map[string]any, ttl time.Duration) (string, error) {
	now := s.now()

	payload := make(jwt.MapClaims, len(claims)+3)
	for k, v := range claims {
		payload[k] = v
	}
	payload[ClaimExpiresAt] = now.Add(ttl).Unix()
	payload[ClaimIssuedAt] = now.Unix()
	payload[ClaimTokenID] = ulid.Make().String()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, payload)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// IssueMinutes is Issue with the lifetime given in minutes.
func (s *TokenService) IssueMinutes(claims map[string]any, ttlMinutes int) (string, error) {
	return s.Issue(claims, time.Duration(ttlMinutes)*time.Minute)
}

// Verify checks the signature and expiry of token and returns its claims.
// It fails with ErrTokenExpired when the expiry has passed and with
// ErrTokenInvalid for every other defect.
func (s *TokenService) Verify(token string) (Claims, error) {
	parsed, err := jwt.Parse(token,
		func(t *jwt.Token) (any, error) {
			return s.key, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}

	return Claims(mapClaims), nil
}
