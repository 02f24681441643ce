package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tessera/tessera/internal/audit"
	"github.com/tessera/tessera/internal/auth"
	"github.com/tessera/tessera/internal/metrics"
	"github.com/tessera/tessera/internal/model"
	"github.com/tessera/tessera/internal/repository"
)

// TokenType is reported alongside every issued access token.
const TokenType = "bearer"

// dummyPassword is hashed when the email is unknown so both failure paths
// do the same amount of work.
const dummyPassword = "tessera-dummy-password"

// TokenIssuer issues and verifies access tokens.
type TokenIssuer interface {
	Issue(claims map[string]any, ttl time.Duration) (string, error)
	Verify(token string) (auth.Claims, error)
	DefaultTTL() time.Duration
}

// TokenResponse is the result of a successful login.
type TokenResponse struct {
	AccessToken string
	TokenType   string
	ExpiresIn   time.Duration
	ExpiresAt   time.Time
}

// AuthService handles login and token authentication.
type AuthService struct {
	repo      UserRepository
	hasher    PasswordHasher
	tokens    TokenIssuer
	metrics   metrics.Recorder
	logger    *slog.Logger
	events    EventPublisher
	dummyHash string
	now       func() time.Time
}

// NewAuthService creates a new AuthService.
func NewAuthService(repo UserRepository, hasher PasswordHasher, tokens TokenIssuer, recorder metrics.Recorder, logger *slog.Logger) *AuthService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		repo:      repo,
		hasher:    hasher,
		tokens:    tokens,
		metrics:   recorder,
		logger:    logger,
		events:    noopEvents{},
		dummyHash: hasher.Hash(dummyPassword),
		now:       time.Now,
	}
}

// WithEvents sets the audit event publisher and returns s.
func (s *AuthService) WithEvents(p EventPublisher) *AuthService {
	if p != nil {
		s.events = p
	}
	return s
}

// Login checks credentials and issues an access token. An unknown email and
// a wrong password both fail with ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, email, password string) (*TokenResponse, error) {
	user, err := s.repo.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			return nil, fmt.Errorf("failed to look up user: %w", err)
		}
		s.hasher.Compare(s.dummyHash, password)
		s.loginFailed(ctx)
		return nil, ErrInvalidCredentials
	}

	if !s.hasher.Compare(user.PasswordHash, password) {
		s.loginFailed(ctx)
		return nil, ErrInvalidCredentials
	}

	if s.hasher.NeedsRehash(user.PasswordHash) {
		s.upgradeDigest(ctx, user, password)
	}

	ttl := s.tokens.DefaultTTL()
	issuedAt := s.now()
	token, err := s.tokens.Issue(user.PublicClaims(), ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	s.metrics.IncLoginSucceeded()
	s.logger.Info("login_succeeded", "user_id", user.ID)
	s.events.PublishAsync(audit.NewEvent(ctx, audit.TypeLoginSucceeded, user.ID))

	return &TokenResponse{
		AccessToken: token,
		TokenType:   TokenType,
		ExpiresIn:   ttl,
		ExpiresAt:   issuedAt.Add(ttl),
	}, nil
}

// Authenticate verifies token and returns its claims.
func (s *AuthService) Authenticate(ctx context.Context, token string) (auth.Claims, error) {
	claims, err := s.tokens.Verify(token)
	switch {
	case err == nil:
		s.metrics.IncTokenVerified(metrics.OutcomeValid)
		return claims, nil
	case errors.Is(err, auth.ErrTokenExpired):
		s.metrics.IncTokenVerified(metrics.OutcomeExpired)
		return nil, ErrTokenExpired
	default:
		s.metrics.IncTokenVerified(metrics.OutcomeInvalid)
		s.logger.Debug("token_rejected", "error", err)
		return nil, ErrTokenInvalid
	}
}

// loginFailed records a rejected login. Unknown emails and wrong passwords
// produce identical logs, metrics and events.
func (s *AuthService) loginFailed(ctx context.Context) {
	s.metrics.IncLoginFailed()
	s.logger.Warn("login_failed", "reason", "invalid_credentials")
	s.events.PublishAsync(audit.NewEvent(ctx, audit.TypeLoginFailed, 0))
}

// upgradeDigest rewrites a legacy or outdated digest after a successful
// login. Failures are logged and never fail the login.
func (s *AuthService) upgradeDigest(ctx context.Context, user *model.User, password string) {
	previous := user.PasswordHash
	user.PasswordHash = s.hasher.Hash(password)
	if err := s.repo.Update(ctx, user); err != nil {
		user.PasswordHash = previous
		s.logger.Warn("rehash_failed", "user_id", user.ID, "error", err)
		return
	}
	s.logger.Info("password_rehashed", "user_id", user.ID)
}
