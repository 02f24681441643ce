package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tessera/tessera/internal/audit"
	"github.com/tessera/tessera/internal/auth"
	"github.com/tessera/tessera/internal/model"
	"github.com/tessera/tessera/internal/repository"
)

// memoryRepo is an in-memory UserRepository with the same uniqueness
// guarantee as the real stores.
type memoryRepo struct {
	mu      sync.Mutex
	nextID  int64
	byID    map[int64]model.User
	updates int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{byID: make(map[int64]model.User)}
}

func (r *memoryRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if u.Email == email {
			out := u
			return &out, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (r *memoryRepo) FindByID(_ context.Context, id int64) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return &u, nil
}

func (r *memoryRepo) Insert(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if u.Email == user.Email {
			return repository.ErrEmailExists
		}
	}
	r.nextID++
	now := time.Now().UTC()
	user.ID = r.nextID
	user.CreatedAt = now
	user.UpdatedAt = now
	r.byID[user.ID] = *user
	return nil
}

func (r *memoryRepo) Update(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[user.ID]; !ok {
		return repository.ErrUserNotFound
	}
	user.UpdatedAt = time.Now().UTC()
	r.byID[user.ID] = *user
	r.updates++
	return nil
}

func (r *memoryRepo) ListAll(_ context.Context) ([]*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	users := make([]*model.User, 0, len(r.byID))
	for _, u := range r.byID {
		out := u
		users = append(users, &out)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (r *memoryRepo) stored(t *testing.T, id int64) model.User {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	require.True(t, ok, "user %d not stored", id)
	return u
}

func (r *memoryRepo) updateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates
}

var testSalt = []byte("test-salt-value")

func newTestHasher(t *testing.T, opts ...auth.HasherOption) *auth.Hasher {
	t.Helper()
	opts = append([]auth.HasherOption{auth.WithParams(auth.Params{
		Time:    1,
		Memory:  8 * 1024,
		Threads: 1,
		KeyLen:  32,
	})}, opts...)
	h, err := auth.NewHasher(testSalt, opts...)
	require.NoError(t, err)
	return h
}

// recordingEvents captures published audit events.
type recordingEvents struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingEvents) PublishAsync(e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
