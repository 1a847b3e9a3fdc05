package auth

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sso-session-svc/src/internal/cache"
	"sso-session-svc/src/internal/events"
	"sso-session-svc/src/internal/guard"
	"sso-session-svc/src/internal/models"
	"sso-session-svc/src/internal/session"
	"sso-session-svc/src/internal/token"
	"sso-session-svc/src/internal/user"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"
)

const (
	testPassword = "correct horse battery staple"
	testUA       = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15"
)

type userStore struct {
	mu    sync.Mutex
	users map[string]*user.User
}

func (s *userStore) GetByEmail(_ context.Context, email string) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, models.ErrRecordNotFound
}

func (s *userStore) GetByID(_ context.Context, userID string) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		return u, nil
	}
	return nil, models.ErrRecordNotFound
}

func (s *userStore) UpdateLastLogin(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return models.ErrRecordNotFound
	}
	u.LastLoginAt = &at
	return nil
}

type attemptLog struct {
	mu       sync.Mutex
	attempts []models.LoginAttempt
}

func (l *attemptLog) Append(_ context.Context, attempt models.LoginAttempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts = append(l.attempts, attempt)
	return nil
}

func (l *attemptLog) reasons() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.attempts))
	for _, a := range l.attempts {
		if a.Success {
			out = append(out, "success")
			continue
		}
		out = append(out, a.FailureReason)
	}
	return out
}

type fixture struct {
	mr       *miniredis.Miniredis
	users    *userStore
	audit    *attemptLog
	bus      *events.MemoryBus
	sessions session.Repository
	tokens   token.Service
	verifier *countingUserService
	service  Service
	base     time.Time
	cfg      Config
}

// countingUserService counts password comparisons, including the ones run
// for unknown accounts.
type countingUserService struct {
	user.Service
	verifications atomic.Int32
}

func (c *countingUserService) VerifyPassword(u *user.User, plaintext string) bool {
	c.verifications.Add(1)
	return c.Service.VerifyPassword(u, plaintext)
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mr.SetTime(base)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	bus := events.NewMemoryBus("test-instance")
	t.Cleanup(func() { _ = bus.Close() })

	users := &userStore{users: map[string]*user.User{}}
	audit := &attemptLog{}

	verifier := &countingUserService{Service: user.NewUserService(users, cache.NewCacheService(client, time.Minute))}
	sessions := session.NewSessionRepository(client, bus, time.Hour)
	tokens := token.NewTokenService(client, token.Config{
		Secret:     "test-secret",
		Issuer:     "sso-session-svc",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
	})
	guardService := guard.NewGuardService(client, audit, guard.Config{
		Window:             15 * time.Minute,
		MaxAccountFailures: 5,
		MaxAddressAttempts: 20,
		LockoutDuration:    30 * time.Minute,
	})

	return &fixture{
		mr:       mr,
		users:    users,
		audit:    audit,
		bus:      bus,
		sessions: sessions,
		tokens:   tokens,
		verifier: verifier,
		service:  NewAuthService(verifier, guardService, sessions, session.NewEnforcer(sessions), tokens, cfg),
		base:     base,
		cfg:      cfg,
	}
}

func (f *fixture) addUser(t *testing.T, email string, mutate ...func(*user.User)) *user.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	u := &user.User{
		ID:              primitive.NewObjectID(),
		Email:           email,
		PasswordHash:    string(hash),
		Role:            user.RoleUser,
		Permissions:     []string{"profile:read"},
		Status:          user.StatusActive,
		IsEmailVerified: true,
	}
	for _, m := range mutate {
		m(u)
	}

	f.users.mu.Lock()
	f.users.users[u.ID.Hex()] = u
	f.users.mu.Unlock()
	return u
}

func (f *fixture) advance(d time.Duration) {
	f.base = f.base.Add(d)
	f.mr.SetTime(f.base)
}

func loginReq(email, password, address string) LoginRequest {
	return LoginRequest{
		Email:    email,
		Password: password,
		Meta:     models.SessionMetadata{UserAgent: testUA, Address: address},
	}
}
