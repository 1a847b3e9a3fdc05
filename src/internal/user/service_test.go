package user

import (
	"context"
	"testing"
	"time"

	"sso-session-svc/src/internal/cache"
	"sso-session-svc/src/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"
)

type fakeRepository struct {
	users     map[string]*User
	lastLogin map[string]time.Time
	err       error
}

func newFakeRepository(users ...*User) *fakeRepository {
	r := &fakeRepository{users: map[string]*User{}, lastLogin: map[string]time.Time{}}
	for _, u := range users {
		r.users[u.ID.Hex()] = u
	}
	return r
}

func (r *fakeRepository) GetByEmail(_ context.Context, email string) (*User, error) {
	if r.err != nil {
		return nil, r.err
	}
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, models.ErrRecordNotFound
}

func (r *fakeRepository) GetByID(_ context.Context, userID string) (*User, error) {
	if r.err != nil {
		return nil, r.err
	}
	u, ok := r.users[userID]
	if !ok {
		return nil, models.ErrRecordNotFound
	}
	return u, nil
}

func (r *fakeRepository) UpdateLastLogin(_ context.Context, userID string, at time.Time) error {
	if _, ok := r.users[userID]; !ok {
		return models.ErrRecordNotFound
	}
	r.lastLogin[userID] = at
	return nil
}

func newUser(t *testing.T, email, password string) *User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return &User{
		ID:           primitive.NewObjectID(),
		Email:        email,
		PasswordHash: string(hash),
		Role:         RoleUser,
		Status:       StatusActive,
	}
}

func TestService_FindByEmailNormalizes(t *testing.T) {
	alice := newUser(t, "alice@example.com", "secret")
	svc := NewUserService(newFakeRepository(alice), nil)

	got, err := svc.FindByEmail(context.Background(), "  Alice@Example.com ")
	require.NoError(t, err)
	require.Equal(t, alice.ID, got.ID)

	_, err = svc.FindByEmail(context.Background(), "bob@example.com")
	require.ErrorIs(t, err, models.ErrRecordNotFound)

	_, err = svc.FindByEmail(context.Background(), "   ")
	require.ErrorIs(t, err, models.ErrRecordNotFound)
}

func TestService_VerifyPassword(t *testing.T) {
	alice := newUser(t, "alice@example.com", "secret")
	svc := NewUserService(newFakeRepository(alice), nil)

	require.True(t, svc.VerifyPassword(alice, "secret"))
	require.False(t, svc.VerifyPassword(alice, "Secret"))
	require.False(t, svc.VerifyPassword(&User{}, "secret"))
	require.False(t, svc.VerifyPassword(nil, "secret"))

	cost, err := bcrypt.Cost(placeholderHash())
	require.NoError(t, err)
	require.Equal(t, bcrypt.DefaultCost, cost)
}

func TestService_RecordLogin(t *testing.T) {
	alice := newUser(t, "alice@example.com", "secret")
	repo := newFakeRepository(alice)
	svc := NewUserService(repo, nil)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, svc.RecordLogin(context.Background(), alice.ID.Hex(), at))
	require.Equal(t, at, repo.lastLogin[alice.ID.Hex()])
}

func TestUser_StatusHelpers(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	u := &User{Status: StatusActive}
	require.True(t, u.IsActive())
	require.False(t, u.IsLockedAt(now))

	u.DeletedAt = &past
	require.False(t, u.IsActive())

	locked := &User{IsLocked: true}
	require.True(t, locked.IsLockedAt(now))
	require.Zero(t, locked.LockRemaining(now))
	locked.LockedUntil = &future
	require.True(t, locked.IsLockedAt(now))
	require.Equal(t, time.Minute, locked.LockRemaining(now))
	locked.LockedUntil = &past
	require.False(t, locked.IsLockedAt(now))
	require.Zero(t, locked.LockRemaining(now))
}

func TestUser_Owner(t *testing.T) {
	u := newUser(t, "alice@example.com", "secret")
	u.Permissions = []string{"sessions:read"}

	owner := u.Owner()
	require.Equal(t, u.ID.Hex(), owner.UserID)
	require.Equal(t, "alice@example.com", owner.Email)
	require.Equal(t, RoleUser, owner.Role)
	require.Equal(t, []string{"sessions:read"}, owner.Permissions)
}

func TestService_GetProfileUsesCache(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	alice := newUser(t, "alice@example.com", "secret")
	repo := newFakeRepository(alice)
	svc := NewUserService(repo, cache.NewCacheService(client, time.Minute))

	profile, err := svc.GetProfile(ctx, alice.ID.Hex())
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", profile.Email)
	require.True(t, mr.Exists(profileKeyPrefix+alice.ID.Hex()))

	// Served from cache even after the record changes underneath.
	alice.Email = "changed@example.com"
	profile, err = svc.GetProfile(ctx, alice.ID.Hex())
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", profile.Email)
	require.Equal(t, alice.ID, profile.ID)

	require.NoError(t, svc.RecordLogin(ctx, alice.ID.Hex(), time.Now()))
	require.False(t, mr.Exists(profileKeyPrefix+alice.ID.Hex()))

	profile, err = svc.GetProfile(ctx, alice.ID.Hex())
	require.NoError(t, err)
	require.Equal(t, "changed@example.com", profile.Email)
}

func TestService_GetProfileFallsBackWhenCacheDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	alice := newUser(t, "alice@example.com", "secret")
	svc := NewUserService(newFakeRepository(alice), cache.NewCacheService(client, time.Minute))

	profile, err := svc.GetProfile(context.Background(), alice.ID.Hex())
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", profile.Email)
}
