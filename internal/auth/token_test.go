package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

func newTestTokenService(t *testing.T, opts ...TokenOption) *TokenService {
	t.Helper()
	s, err := NewTokenService(testSigningKey, 30*time.Minute, opts...)
	if err != nil {
		t.Fatalf("NewTokenService failed: %v", err)
	}
	return s
}

func TestNewTokenService_EmptyKey(t *testing.T) {
	t.Parallel()

	if _, err := NewTokenService(nil, time.Minute); err == nil {
		t.Error("Expected error for empty signing key")
	}
}

func TestIssueVerify_RoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestTokenService(t)
	claims := map[string]any{
		"email":   "john@example.com",
		"name":    "John",
		"surname": "Smith",
	}

	token, err := s.IssueMinutes(claims, 1)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	got, err := s.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	for k, v := range claims {
		if got[k] != v {
			t.Errorf("claim %q = %v, want %v", k, got[k], v)
		}
	}
	if _, ok := got.ExpiresAt(); !ok {
		t.Error("Verified claims should carry an expiration")
	}
	if got[ClaimTokenID] == "" {
		t.Error("Verified claims should carry a token id")
	}

	// Input map must not be mutated
	if _, ok := claims[ClaimExpiresAt]; ok {
		t.Error("Issue should not modify the input claims")
	}
}

func TestIssue_ExpirationIsAbsolute(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newTestTokenService(t, WithClock(func() time.Time { return now }))

	token, err := s.Issue(map[string]any{"id": 7}, 15*time.Minute)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	claims, err := s.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	exp, _ := claims.ExpiresAt()
	if !exp.Equal(now.Add(15 * time.Minute)) {
		t.Errorf("exp = %v, want %v", exp, now.Add(15*time.Minute))
	}

	id, ok := claims.UserID()
	if !ok || id != 7 {
		t.Errorf("UserID() = %d, %v; want 7, true", id, ok)
	}
}

func TestVerify_Expired(t *testing.T) {
	t.Parallel()

	s := newTestTokenService(t)

	token, err := s.IssueMinutes(map[string]any{"email": "a@b.com"}, -1)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	_, err = s.Verify(token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Verify error = %v, want ErrTokenExpired", err)
	}
	if errors.Is(err, ErrTokenInvalid) {
		t.Error("Expired token must not be reported as invalid")
	}
}

func TestVerify_ExpiresWithClock(t *testing.T) {
	t.Parallel()

	now := time.Now()
	s := newTestTokenService(t, WithClock(func() time.Time { return now }))

	token, err := s.Issue(map[string]any{"email": "a@b.com"}, time.Minute)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	later := newTestTokenService(t, WithClock(func() time.Time { return now.Add(2 * time.Minute) }))
	if _, err := later.Verify(token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Verify error = %v, want ErrTokenExpired", err)
	}
}

func TestVerify_Invalid(t *testing.T) {
	t.Parallel()

	s := newTestTokenService(t)
	valid, err := s.IssueMinutes(map[string]any{"email": "a@b.com"}, 5)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	other, err := NewTokenService([]byte("another-key-another-key-another-k"), time.Minute)
	if err != nil {
		t.Fatalf("NewTokenService failed: %v", err)
	}
	foreign, _ := other.IssueMinutes(map[string]any{"email": "a@b.com"}, 5)

	parts := strings.Split(valid, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"email": "a@b.com"})
	noExpToken, _ := noExp.SignedString(testSigningKey)

	hs512 := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"email": "a@b.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	hs512Token, _ := hs512.SignedString(testSigningKey)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"email": "a@b.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	noneToken, _ := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "garbage-token-string"},
		{"empty", ""},
		{"wrong key", foreign},
		{"tampered payload", tampered},
		{"missing exp", noExpToken},
		{"other algorithm", hs512Token},
		{"alg none", noneToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := s.Verify(tt.token)
			if !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("Verify(%s) error = %v, want ErrTokenInvalid", tt.name, err)
			}
		})
	}
}
