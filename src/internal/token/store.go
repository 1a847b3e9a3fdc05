package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"sso-session-svc/src/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	refreshTokenKeyPrefix = "refresh_token:"
	familyKeyPrefix       = "token_family:"
	familyMembersPrefix   = "token_family_members:"
	userFamiliesPrefix    = "user_token_families:"
)

const (
	rotateRotated = "rotated"
	rotateInvalid = "invalid"
	rotateExpired = "expired"
	rotateRevoked = "revoked"
	rotateReuse   = "reuse"
)

// Revocation reasons stored on the family and used as metric labels.
const (
	RevokeReasonReuse  = "reuse"
	RevokeReasonLogout = "logout"
	RevokeReasonAdmin  = "admin"
)

// rotateScript runs the whole exchange atomically so two concurrent
// presentations of one token can never both succeed.
//
// KEYS[1] presented token, KEYS[2] successor token.
// ARGV: now, family prefix, successor expires_at, ttl seconds, device_type,
// browser, platform, address, members prefix, user families prefix.
// The user's family index is kept alive at least as long as the family so
// revoking by user always reaches a family that can still rotate.
var rotateScript = redis.NewScript(`
local token = redis.call('HMGET', KEYS[1], 'family_id', 'user_id', 'expires_at', 'used')
local family_id = token[1]
if not family_id then
	return {'invalid'}
end
local now = tonumber(ARGV[1])
if (tonumber(token[3]) or 0) <= now then
	return {'expired', family_id}
end

local family_key = ARGV[2] .. family_id
local family = redis.call('HMGET', family_key, 'status', 'session_id', 'email', 'role', 'permissions')
if family[1] ~= 'active' then
	return {'revoked', family_id}
end

if token[4] == '1' then
	redis.call('HSET', family_key, 'status', 'revoked', 'revoked_reason', 'reuse', 'revoked_at', ARGV[1])
	return {'reuse', family_id, token[2]}
end

redis.call('HSET', KEYS[1], 'used', '1', 'used_at', ARGV[1])
redis.call('HSET', KEYS[2],
	'family_id', family_id,
	'user_id', token[2],
	'issued_at', ARGV[1],
	'expires_at', ARGV[3],
	'used', '0',
	'device_type', ARGV[5],
	'browser', ARGV[6],
	'platform', ARGV[7],
	'address', ARGV[8])
redis.call('EXPIRE', KEYS[2], ARGV[4])
redis.call('SADD', ARGV[9] .. family_id, KEYS[2])
redis.call('EXPIRE', ARGV[9] .. family_id, ARGV[4])
redis.call('HINCRBY', family_key, 'rotations', 1)
redis.call('EXPIRE', family_key, ARGV[4])
local user_key = ARGV[10] .. token[2]
redis.call('SADD', user_key, family_id)
if redis.call('TTL', user_key) < tonumber(ARGV[4]) then
	redis.call('EXPIRE', user_key, ARGV[4])
end
return {'rotated', family_id, token[2], family[2] or '', family[3] or '', family[4] or '', family[5] or ''}
`)

// revokeScript flips an existing active family to revoked. Returns 1 when
// this call performed the transition.
var revokeScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status or status == 'revoked' then
	return 0
end
redis.call('HSET', KEYS[1], 'status', 'revoked', 'revoked_reason', ARGV[1], 'revoked_at', ARGV[2])
return 1
`)

type refreshRecord struct {
	Fingerprint string
	FamilyID    string
	UserID      string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Device      *models.DeviceInfo
	Address     string
}

type rotateResult struct {
	Outcome string
	Family  *models.TokenFamily
}

type store struct {
	client *redis.Client
}

func tokenKey(fingerprint string) string {
	return refreshTokenKeyPrefix + fingerprint
}

func familyKey(familyID string) string {
	return familyKeyPrefix + familyID
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
}

func (s *store) createFamily(ctx context.Context, family *models.TokenFamily, first *refreshRecord, ttl time.Duration) error {
	permissions, err := json.Marshal(family.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	fk := familyKey(family.ID)
	tk := tokenKey(first.Fingerprint)
	membersKey := familyMembersPrefix + family.ID
	userKey := userFamiliesPrefix + family.UserID

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, fk,
			"user_id", family.UserID,
			"session_id", family.SessionID,
			"email", family.Email,
			"role", family.Role,
			"permissions", string(permissions),
			"status", models.FamilyActive,
			"created_at", family.CreatedAt.Unix(),
			"rotations", 0,
		)
		pipe.Expire(ctx, fk, ttl)
		pipe.HSet(ctx, tk, recordFields(first)...)
		pipe.Expire(ctx, tk, ttl)
		pipe.SAdd(ctx, membersKey, tk)
		pipe.Expire(ctx, membersKey, ttl)
		pipe.SAdd(ctx, userKey, family.ID)
		pipe.Expire(ctx, userKey, ttl)
		return nil
	})
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"user_id":   family.UserID,
			"family_id": family.ID,
		}).Error("Failed to store token family")
		return unavailable(err)
	}
	return nil
}

func recordFields(r *refreshRecord) []interface{} {
	device := deviceOrEmpty(r.Device)
	return []interface{}{
		"family_id", r.FamilyID,
		"user_id", r.UserID,
		"issued_at", r.IssuedAt.Unix(),
		"expires_at", r.ExpiresAt.Unix(),
		"used", "0",
		"device_type", device.DeviceType,
		"browser", device.Browser,
		"platform", device.Platform,
		"address", r.Address,
	}
}

func deviceOrEmpty(d *models.DeviceInfo) models.DeviceInfo {
	if d == nil {
		return models.DeviceInfo{}
	}
	return *d
}

func (s *store) rotate(ctx context.Context, presentedFingerprint string, next *refreshRecord, ttl time.Duration) (*rotateResult, error) {
	device := deviceOrEmpty(next.Device)
	keys := []string{tokenKey(presentedFingerprint), tokenKey(next.Fingerprint)}
	args := []interface{}{
		next.IssuedAt.Unix(),
		familyKeyPrefix,
		next.ExpiresAt.Unix(),
		int64(ttl / time.Second),
		device.DeviceType,
		device.Browser,
		device.Platform,
		next.Address,
		familyMembersPrefix,
		userFamiliesPrefix,
	}

	raw, err := rotateScript.Run(ctx, s.client, keys, args...).StringSlice()
	if err != nil {
		logrus.WithError(err).Error("Failed to run refresh token rotation")
		return nil, unavailable(err)
	}
	if len(raw) == 0 {
		return nil, unavailable(errors.New("empty rotation result"))
	}

	result := &rotateResult{Outcome: raw[0]}
	if len(raw) > 1 {
		result.Family = &models.TokenFamily{ID: raw[1]}
	}
	if len(raw) > 2 {
		result.Family.UserID = raw[2]
	}
	if raw[0] == rotateRotated && len(raw) == 7 {
		result.Family.SessionID = raw[3]
		result.Family.Email = raw[4]
		result.Family.Role = raw[5]
		result.Family.Permissions = decodePermissions(raw[6])
		result.Family.Status = models.FamilyActive
	}
	return result, nil
}

func decodePermissions(raw string) []string {
	if raw == "" {
		return nil
	}
	var permissions []string
	if err := json.Unmarshal([]byte(raw), &permissions); err != nil {
		logrus.WithError(err).Warn("Failed to unmarshal family permissions")
		return nil
	}
	return permissions
}

func (s *store) revoke(ctx context.Context, familyID, reason string, now time.Time) (bool, error) {
	n, err := revokeScript.Run(ctx, s.client, []string{familyKey(familyID)}, reason, now.Unix()).Int()
	if err != nil {
		logrus.WithError(err).WithField("family_id", familyID).Error("Failed to revoke token family")
		return false, unavailable(err)
	}
	return n == 1, nil
}

func (s *store) userFamilies(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, userFamiliesPrefix+userID).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	return ids, nil
}

func (s *store) dropUserFamilies(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, userFamiliesPrefix+userID).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *store) family(ctx context.Context, familyID string) (*models.TokenFamily, error) {
	fields, err := s.client.HGetAll(ctx, familyKey(familyID)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(fields) == 0 {
		return nil, models.ErrTokenInvalid
	}

	rotations, _ := strconv.Atoi(fields["rotations"])
	createdAt, _ := strconv.ParseInt(fields["created_at"], 10, 64)

	return &models.TokenFamily{
		ID:            familyID,
		UserID:        fields["user_id"],
		SessionID:     fields["session_id"],
		Email:         fields["email"],
		Role:          fields["role"],
		Permissions:   decodePermissions(fields["permissions"]),
		Status:        fields["status"],
		RevokedReason: fields["revoked_reason"],
		Rotations:     rotations,
		CreatedAt:     time.Unix(createdAt, 0).UTC(),
	}, nil
}
