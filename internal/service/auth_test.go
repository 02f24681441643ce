package service

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera/tessera/internal/audit"
	"github.com/tessera/tessera/internal/auth"
	"github.com/tessera/tessera/internal/metrics"
	"github.com/tessera/tessera/internal/model"
)

var testSigningKey = []byte(strings.Repeat("k", auth.MinSigningKeyLen))

type authFixture struct {
	users  *UserService
	auth   *AuthService
	repo   *memoryRepo
	rec    *metrics.InMemoryRecorder
	tokens *auth.TokenService
}

func newAuthFixture(t *testing.T, hasherOpts ...auth.HasherOption) *authFixture {
	t.Helper()
	repo := newMemoryRepo()
	rec := metrics.NewInMemory()
	hasher := newTestHasher(t, hasherOpts...)
	tokens, err := auth.NewTokenService(testSigningKey, 30*time.Minute)
	require.NoError(t, err)

	return &authFixture{
		users:  NewUserService(repo, hasher, rec, nil),
		auth:   NewAuthService(repo, hasher, tokens, rec, nil),
		repo:   repo,
		rec:    rec,
		tokens: tokens,
	}
}

func TestLogin_Success(t *testing.T) {
	t.Parallel()
	f := newAuthFixture(t)
	alice := createAlice(t, f.users)

	resp, err := f.auth.Login(context.Background(), "Alice@Example.com", "secret1")
	require.NoError(t, err)

	assert.Equal(t, TokenType, resp.TokenType)
	assert.Equal(t, 30*time.Minute, resp.ExpiresIn)
	assert.NotEmpty(t, resp.AccessToken)

	claims, err := f.tokens.Verify(resp.AccessToken)
	require.NoError(t, err)
	id, ok := claims.UserID()
	require.True(t, ok)
	assert.Equal(t, alice.ID, id)
	assert.Equal(t, "alice@example.com", claims.Email())
	assert.Equal(t, "Alice", claims[auth.ClaimName])
	assert.Equal(t, "Smith", claims[auth.ClaimSurname])
	assert.NotContains(t, claims, "password")
	assert.Equal(t, uint64(1), f.rec.Snapshot().LoginsSucceeded)
}

func TestLogin_IndistinguishableFailures(t *testing.T) {
	t.Parallel()
	f := newAuthFixture(t)
	createAlice(t, f.users)

	_, wrongPassword := f.auth.Login(context.Background(), "alice@example.com", "wrongpw")
	_, unknownEmail := f.auth.Login(context.Background(), "unknown@example.com", "anypw")

	require.ErrorIs(t, wrongPassword, ErrInvalidCredentials)
	require.ErrorIs(t, unknownEmail, ErrInvalidCredentials)
	assert.Equal(t, wrongPassword.Error(), unknownEmail.Error())
	assert.Equal(t, uint64(2), f.rec.Snapshot().LoginsFailed)
}

func TestLogin_FailureLogsAreIdentical(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	repo := newMemoryRepo()
	hasher := newTestHasher(t)
	tokens, err := auth.NewTokenService(testSigningKey, 30*time.Minute)
	require.NoError(t, err)
	createAlice(t, NewUserService(repo, hasher, nil, nil))
	svc := NewAuthService(repo, hasher, tokens, nil, logger)

	logLine := func(email, password string) map[string]any {
		buf.Reset()
		_, err := svc.Login(context.Background(), email, password)
		require.ErrorIs(t, err, ErrInvalidCredentials)

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), buf.String())
		delete(entry, slog.TimeKey)
		return entry
	}

	wrongPassword := logLine("alice@example.com", "wrongpw")
	unknownEmail := logLine("nobody@example.com", "wrongpw")

	assert.Equal(t, "login_failed", wrongPassword[slog.MessageKey])
	assert.Equal(t, wrongPassword, unknownEmail)
	assert.NotContains(t, wrongPassword, "user_id")
}

func TestLogin_UpgradesLegacyDigest(t *testing.T) {
	t.Parallel()
	f := newAuthFixture(t, auth.WithLegacyDigests(true))

	sum := md5.Sum([]byte("secret1" + string(testSalt)))
	legacy := &model.User{
		Email:        "old@example.com",
		PasswordHash: hex.EncodeToString(sum[:]),
		Name:         "Older",
		Surname:      "Timer",
	}
	require.NoError(t, f.repo.Insert(context.Background(), legacy))

	_, err := f.auth.Login(context.Background(), "old@example.com", "secret1")
	require.NoError(t, err)

	stored := f.repo.stored(t, legacy.ID)
	assert.True(t, strings.HasPrefix(stored.PasswordHash, "$argon2id$"))
	assert.True(t, f.auth.hasher.Compare(stored.PasswordHash, "secret1"))

	// The upgraded digest keeps working.
	_, err = f.auth.Login(context.Background(), "old@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, 1, f.repo.updateCount())
}

func TestLogin_LegacyDigestRejectedWhenDisabled(t *testing.T) {
	t.Parallel()
	f := newAuthFixture(t)

	sum := md5.Sum([]byte("secret1" + string(testSalt)))
	legacy := &model.User{
		Email:        "old@example.com",
		PasswordHash: hex.EncodeToString(sum[:]),
		Name:         "Older",
		Surname:      "Timer",
	}
	require.NoError(t, f.repo.Insert(context.Background(), legacy))

	_, err := f.auth.Login(context.Background(), "old@example.com", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()
	f := newAuthFixture(t)
	createAlice(t, f.users)

	resp, err := f.auth.Login(context.Background(), "alice@example.com", "secret1")
	require.NoError(t, err)

	claims, err := f.auth.Authenticate(context.Background(), resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", claims.Email())
	assert.Equal(t, uint64(1), f.rec.Snapshot().TokensValid)
}

func TestAuthenticate_Failures(t *testing.T) {
	t.Parallel()
	f := newAuthFixture(t)

	expired, err := f.tokens.Issue(map[string]any{"id": 1}, -time.Minute)
	require.NoError(t, err)

	_, err = f.auth.Authenticate(context.Background(), expired)
	assert.ErrorIs(t, err, ErrTokenExpired)

	_, err = f.auth.Authenticate(context.Background(), "garbage-token-string")
	assert.ErrorIs(t, err, ErrTokenInvalid)

	snap := f.rec.Snapshot()
	assert.Equal(t, uint64(1), snap.TokensExpired)
	assert.Equal(t, uint64(1), snap.TokensInvalid)
}

func TestAuditEvents(t *testing.T) {
	t.Parallel()
	f := newAuthFixture(t)
	events := &recordingEvents{}
	f.users.WithEvents(events)
	f.auth.WithEvents(events)

	ctx := audit.WithClient(context.Background(), "203.0.113.7")
	alice := createAlice(t, f.users)

	_, err := f.auth.Login(ctx, "alice@example.com", "secret1")
	require.NoError(t, err)
	_, err = f.auth.Login(ctx, "alice@example.com", "wrongpw")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.users.ChangePassword(ctx, ChangePasswordInput{UserID: alice.ID, OldPassword: "secret1", NewPassword: "newpass"})
	require.NoError(t, err)

	assert.Equal(t, []string{
		audit.TypeUserCreated,
		audit.TypeLoginSucceeded,
		audit.TypeLoginFailed,
		audit.TypePasswordChanged,
	}, events.types())

	for _, e := range events.events {
		require.NoError(t, e.Validate())
	}
	failed := events.events[2]
	assert.Zero(t, failed.UserID, "failed logins must not reveal the account")
	assert.NotEmpty(t, failed.ClientHash)
}
