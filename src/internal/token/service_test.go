package token

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sso-session-svc/src/internal/models"
	"sso-session-svc/src/internal/security"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{
	Secret:     "test-secret",
	Issuer:     "sso-session-svc",
	AccessTTL:  15 * time.Minute,
	RefreshTTL: 7 * 24 * time.Hour,
}

const iphoneUA = "Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1"

type fixture struct {
	mr      *miniredis.Miniredis
	service *service
	base    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mr.SetTime(base)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	return &fixture{
		mr:      mr,
		service: NewTokenService(client, testConfig).(*service),
		base:    base,
	}
}

func testOwner() models.SessionOwner {
	return models.SessionOwner{
		UserID:      "user-1",
		Email:       "alice@example.com",
		Role:        "admin",
		Status:      "active",
		Permissions: []string{"sessions:read", "sessions:write"},
	}
}

func (f *fixture) issue(t *testing.T) *models.TokenPair {
	t.Helper()
	pair, err := f.service.Issue(context.Background(), testOwner(), "session-1", models.SessionMetadata{UserAgent: iphoneUA, Address: "10.0.0.1"})
	require.NoError(t, err)
	return pair
}

func TestIssue_CreatesFamilyAndTokens(t *testing.T) {
	f := newFixture(t)
	pair := f.issue(t)

	require.NotEmpty(t, pair.AccessToken)
	require.Len(t, pair.RefreshToken, 43)
	require.Equal(t, int64(900), pair.ExpiresIn)
	require.Equal(t, int64(7*24*3600), pair.RefreshExpiresIn)
	require.Equal(t, "session-1", pair.SessionID)

	fingerprint := security.FingerprintToken(pair.RefreshToken)
	require.True(t, f.mr.Exists(refreshTokenKeyPrefix+fingerprint))
	require.False(t, f.mr.Exists(refreshTokenKeyPrefix+pair.RefreshToken))
	require.Equal(t, "mobile", f.mr.HGet(refreshTokenKeyPrefix+fingerprint, "device_type"))
	require.Equal(t, testConfig.RefreshTTL, f.mr.TTL(refreshTokenKeyPrefix+fingerprint))

	family, err := f.service.Family(context.Background(), pair.FamilyID)
	require.NoError(t, err)
	require.Equal(t, "user-1", family.UserID)
	require.Equal(t, "session-1", family.SessionID)
	require.Equal(t, models.FamilyActive, family.Status)
	require.Equal(t, []string{"sessions:read", "sessions:write"}, family.Permissions)
	require.Equal(t, f.base, family.CreatedAt)

	families, err := f.mr.Members(userFamiliesPrefix + "user-1")
	require.NoError(t, err)
	require.Equal(t, []string{pair.FamilyID}, families)
}

func TestIssue_AccessTokenClaims(t *testing.T) {
	f := newFixture(t)
	pair := f.issue(t)

	claims, err := f.service.VerifyAccessToken(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID)
	require.Equal(t, "session-1", claims.SessionID)
	require.Equal(t, "alice@example.com", claims.Email)
	require.Equal(t, "admin", claims.Role)
	require.Equal(t, []string{"sessions:read", "sessions:write"}, claims.Permissions)
	require.Equal(t, "access", claims.TokenType)
	require.NotEmpty(t, claims.ID)
	require.Equal(t, testConfig.AccessTTL, claims.ExpiresAt.Sub(claims.IssuedAt.Time))
}

func TestRotate_ReturnsFreshPair(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.issue(t)

	second, err := f.service.Rotate(ctx, first.RefreshToken, models.SessionMetadata{Address: "10.0.0.2"})
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)
	require.NotEqual(t, first.AccessToken, second.AccessToken)
	require.Equal(t, first.FamilyID, second.FamilyID)
	require.Equal(t, "session-1", second.SessionID)

	claims, err := f.service.VerifyAccessToken(second.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "admin", claims.Role)
	require.Equal(t, []string{"sessions:read", "sessions:write"}, claims.Permissions)

	family, err := f.service.Family(ctx, first.FamilyID)
	require.NoError(t, err)
	require.Equal(t, 1, family.Rotations)

	members, err := f.mr.Members(familyMembersPrefix + first.FamilyID)
	require.NoError(t, err)
	require.Len(t, members, 2)

	third, err := f.service.Rotate(ctx, second.RefreshToken, models.SessionMetadata{})
	require.NoError(t, err)
	require.Equal(t, first.FamilyID, third.FamilyID)
}

func TestRotate_ReplayRevokesFamily(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.issue(t)

	second, err := f.service.Rotate(ctx, first.RefreshToken, models.SessionMetadata{})
	require.NoError(t, err)

	_, err = f.service.Rotate(ctx, first.RefreshToken, models.SessionMetadata{})
	require.ErrorIs(t, err, models.ErrTokenReuseDetected)

	family, err := f.service.Family(ctx, first.FamilyID)
	require.NoError(t, err)
	require.Equal(t, models.FamilyRevoked, family.Status)
	require.Equal(t, RevokeReasonReuse, family.RevokedReason)

	// The legitimate holder's current token is burned as well.
	_, err = f.service.Rotate(ctx, second.RefreshToken, models.SessionMetadata{})
	require.ErrorIs(t, err, models.ErrTokenInvalid)

	_, err = f.service.Rotate(ctx, first.RefreshToken, models.SessionMetadata{})
	require.ErrorIs(t, err, models.ErrTokenInvalid)
}

func TestRotate_ConcurrentPresentationsSucceedOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	pair := f.issue(t)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		reuses    int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.Rotate(ctx, pair.RefreshToken, models.SessionMetadata{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, models.ErrTokenReuseDetected):
				reuses++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, successes)
	require.Equal(t, 1, reuses)
}

func TestRotate_UnknownToken(t *testing.T) {
	f := newFixture(t)
	f.issue(t)

	_, err := f.service.Rotate(context.Background(), "not-a-real-token", models.SessionMetadata{})
	require.ErrorIs(t, err, models.ErrTokenInvalid)

	_, err = f.service.Rotate(context.Background(), "", models.SessionMetadata{})
	require.ErrorIs(t, err, models.ErrTokenInvalid)
}

func TestRotate_ExpiredTokenUsesStoreClock(t *testing.T) {
	f := newFixture(t)
	pair := f.issue(t)

	f.mr.SetTime(f.base.Add(testConfig.RefreshTTL))

	_, err := f.service.Rotate(context.Background(), pair.RefreshToken, models.SessionMetadata{})
	require.ErrorIs(t, err, models.ErrTokenInvalid)

	family, err := f.service.Family(context.Background(), pair.FamilyID)
	require.NoError(t, err)
	require.Equal(t, models.FamilyActive, family.Status)
}

func TestRevokeFamily(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	pair := f.issue(t)

	require.NoError(t, f.service.RevokeFamily(ctx, pair.FamilyID, RevokeReasonAdmin))
	require.NoError(t, f.service.RevokeFamily(ctx, pair.FamilyID, RevokeReasonAdmin))
	require.NoError(t, f.service.RevokeFamily(ctx, "missing", RevokeReasonAdmin))
	require.False(t, f.mr.Exists(familyKeyPrefix+"missing"))

	_, err := f.service.Rotate(ctx, pair.RefreshToken, models.SessionMetadata{})
	require.ErrorIs(t, err, models.ErrTokenInvalid)

	family, err := f.service.Family(ctx, pair.FamilyID)
	require.NoError(t, err)
	require.Equal(t, RevokeReasonAdmin, family.RevokedReason)
}

func TestRevokeAllForUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.issue(t)
	second := f.issue(t)

	other, err := f.service.Issue(ctx, models.SessionOwner{UserID: "user-2"}, "session-9", models.SessionMetadata{})
	require.NoError(t, err)

	count, err := f.service.RevokeAllForUser(ctx, "user-1", RevokeReasonLogout)
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.False(t, f.mr.Exists(userFamiliesPrefix+"user-1"))

	for _, pair := range []*models.TokenPair{first, second} {
		_, err := f.service.Rotate(ctx, pair.RefreshToken, models.SessionMetadata{})
		require.ErrorIs(t, err, models.ErrTokenInvalid)
	}

	_, err = f.service.Rotate(ctx, other.RefreshToken, models.SessionMetadata{})
	require.NoError(t, err)

	count, err = f.service.RevokeAllForUser(ctx, "user-1", RevokeReasonLogout)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestRevokeAllForUser_ReachesFamiliesRotatedPastInitialTTL(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	pair := f.issue(t)

	f.mr.FastForward(6 * 24 * time.Hour)
	f.mr.SetTime(f.base.Add(6 * 24 * time.Hour))
	rotated, err := f.service.Rotate(ctx, pair.RefreshToken, models.SessionMetadata{})
	require.NoError(t, err)
	require.Equal(t, testConfig.RefreshTTL, f.mr.TTL(userFamiliesPrefix+"user-1"))

	f.mr.FastForward(2 * 24 * time.Hour)
	f.mr.SetTime(f.base.Add(8 * 24 * time.Hour))
	require.True(t, f.mr.Exists(userFamiliesPrefix+"user-1"))

	count, err := f.service.RevokeAllForUser(ctx, "user-1", RevokeReasonLogout)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	_, err = f.service.Rotate(ctx, rotated.RefreshToken, models.SessionMetadata{})
	require.ErrorIs(t, err, models.ErrTokenInvalid)
}

func TestFamily_Unknown(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Family(context.Background(), "missing")
	require.ErrorIs(t, err, models.ErrTokenInvalid)
}

func TestVerifyAccessToken_Rejections(t *testing.T) {
	f := newFixture(t)
	pair := f.issue(t)

	t.Run("expired", func(t *testing.T) {
		f.service.now = func() time.Time { return time.Now().Add(testConfig.AccessTTL + time.Minute) }
		t.Cleanup(func() { f.service.now = time.Now })

		_, err := f.service.VerifyAccessToken(pair.AccessToken)
		require.ErrorIs(t, err, models.ErrAccessTokenInvalid)
	})

	t.Run("wrong key", func(t *testing.T) {
		other := NewTokenService(nil, Config{Secret: "other", Issuer: testConfig.Issuer, AccessTTL: time.Minute})
		_, err := other.VerifyAccessToken(pair.AccessToken)
		require.ErrorIs(t, err, models.ErrAccessTokenInvalid)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := NewTokenService(nil, Config{Secret: testConfig.Secret, Issuer: "someone-else", AccessTTL: time.Minute})
		_, err := other.VerifyAccessToken(pair.AccessToken)
		require.ErrorIs(t, err, models.ErrAccessTokenInvalid)
	})

	t.Run("wrong type", func(t *testing.T) {
		claims := AccessClaims{
			UserID:    "user-1",
			TokenType: "refresh",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    testConfig.Issuer,
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			},
		}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testConfig.Secret))
		require.NoError(t, err)

		_, err = f.service.VerifyAccessToken(signed)
		require.ErrorIs(t, err, models.ErrAccessTokenInvalid)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := f.service.VerifyAccessToken("not.a.jwt")
		require.ErrorIs(t, err, models.ErrAccessTokenInvalid)
	})
}

func TestStoreUnavailable(t *testing.T) {
	f := newFixture(t)
	pair := f.issue(t)
	f.mr.Close()

	_, err := f.service.Rotate(context.Background(), pair.RefreshToken, models.SessionMetadata{})
	require.ErrorIs(t, err, models.ErrStoreUnavailable)

	_, err = f.service.Issue(context.Background(), testOwner(), "session-2", models.SessionMetadata{})
	require.ErrorIs(t, err, models.ErrStoreUnavailable)
}
