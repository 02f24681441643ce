package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tessera/tessera/internal/audit"
	"github.com/tessera/tessera/internal/metrics"
	"github.com/tessera/tessera/internal/model"
	"github.com/tessera/tessera/internal/repository"
)

// UserRepository is the persistence port used by the services.
// Insert must fail with repository.ErrEmailExists when the email is taken and
// lookups must fail with repository.ErrUserNotFound when nothing matches.
type UserRepository interface {
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByID(ctx context.Context, id int64) (*model.User, error)
	Insert(ctx context.Context, user *model.User) error
	Update(ctx context.Context, user *model.User) error
	ListAll(ctx context.Context) ([]*model.User, error)
}

// EventPublisher receives audit events. Publishing never blocks or fails
// the calling operation.
type EventPublisher interface {
	PublishAsync(event audit.Event)
}

type noopEvents struct{}

func (noopEvents) PublishAsync(audit.Event) {}

// PasswordHasher derives and checks password digests.
type PasswordHasher interface {
	Hash(plaintext string) string
	Compare(storedDigest, candidate string) bool
	NeedsRehash(storedDigest string) bool
}

// UserService handles user management.
type UserService struct {
	repo    UserRepository
	hasher  PasswordHasher
	metrics metrics.Recorder
	logger  *slog.Logger
	events  EventPublisher
}

// NewUserService creates a new UserService.
func NewUserService(repo UserRepository, hasher PasswordHasher, recorder metrics.Recorder, logger *slog.Logger) *UserService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UserService{
		repo:    repo,
		hasher:  hasher,
		metrics: recorder,
		logger:  logger,
		events:  noopEvents{},
	}
}

// WithEvents sets the audit event publisher and returns s.
func (s *UserService) WithEvents(p EventPublisher) *UserService {
	if p != nil {
		s.events = p
	}
	return s
}

// CreateUserInput defines input for creating a user.
type CreateUserInput struct {
	Email    string
	Password string
	Name     string
	Surname  string
}

// ChangePasswordInput defines input for changing a password.
type ChangePasswordInput struct {
	UserID      int64
	OldPassword string
	NewPassword string
}

// CreateUser registers a new user with a hashed password.
// The lookup by email only short-circuits the common case; the storage
// constraint decides races between concurrent registrations.
func (s *UserService) CreateUser(ctx context.Context, input CreateUserInput) (*model.User, error) {
	email := NormalizeEmail(input.Email)

	if _, err := s.repo.FindByEmail(ctx, email); err == nil {
		return nil, ErrEmailExists
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}

	user := &model.User{
		Email:        email,
		PasswordHash: s.hash(input.Password),
		Name:         input.Name,
		Surname:      input.Surname,
	}

	if err := s.repo.Insert(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.metrics.IncUserCreated()
	s.logger.Info("user_created", "user_id", user.ID)
	s.events.PublishAsync(audit.NewEvent(ctx, audit.TypeUserCreated, user.ID))

	return user, nil
}

// ChangePassword replaces a user's password after checking the old one.
// The stored digest is untouched on mismatch.
func (s *UserService) ChangePassword(ctx context.Context, input ChangePasswordInput) (*model.User, error) {
	user, err := s.getUser(ctx, input.UserID)
	if err != nil {
		return nil, err
	}

	if !s.hasher.Compare(user.PasswordHash, input.OldPassword) {
		s.logger.Warn("password_change_rejected", "user_id", user.ID, "reason", "mismatch")
		return nil, ErrPasswordMismatch
	}

	previous := user.PasswordHash
	user.PasswordHash = s.hash(input.NewPassword)

	if err := s.repo.Update(ctx, user); err != nil {
		user.PasswordHash = previous
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to change password: %w", err)
	}

	s.metrics.IncPasswordChanged()
	s.logger.Info("password_changed", "user_id", user.ID)
	s.events.PublishAsync(audit.NewEvent(ctx, audit.TypePasswordChanged, user.ID))

	return user, nil
}

// GetAllUsers returns every user ordered by id.
func (s *UserService) GetAllUsers(ctx context.Context) ([]*model.User, error) {
	users, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	if users == nil {
		users = []*model.User{}
	}
	return users, nil
}

// GetUserByID returns a single user.
func (s *UserService) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return s.getUser(ctx, id)
}

// UpdateUser applies the set fields of patch. An empty patch returns the
// user unchanged without a write.
func (s *UserService) UpdateUser(ctx context.Context, id int64, patch model.UserPatch) (*model.User, error) {
	user, err := s.getUser(ctx, id)
	if err != nil {
		return nil, err
	}

	if !patch.Apply(user) {
		return user, nil
	}

	if err := s.repo.Update(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	s.metrics.IncUserUpdated()
	s.logger.Info("user_updated", "user_id", user.ID)

	return user, nil
}

func (s *UserService) getUser(ctx context.Context, id int64) (*model.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (s *UserService) hash(plaintext string) string {
	start := time.Now()
	digest := s.hasher.Hash(plaintext)
	s.metrics.ObserveHashDuration(time.Since(start))
	return digest
}

// NormalizeEmail trims surrounding whitespace and lower-cases the address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
