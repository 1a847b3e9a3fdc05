package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sso-session-svc/src/clients"
	"sso-session-svc/src/internal/metrics"
	"sso-session-svc/src/internal/models"
	"sso-session-svc/src/internal/security"
	"sso-session-svc/src/internal/session"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Secret     string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type Service interface {
	Issue(ctx context.Context, owner models.SessionOwner, sessionID string, meta models.SessionMetadata) (*models.TokenPair, error)
	Rotate(ctx context.Context, presented string, meta models.SessionMetadata) (*models.TokenPair, error)
	RevokeFamily(ctx context.Context, familyID, reason string) error
	RevokeAllForUser(ctx context.Context, userID, reason string) (int, error)
	VerifyAccessToken(token string) (*AccessClaims, error)
	Family(ctx context.Context, familyID string) (*models.TokenFamily, error)
}

type service struct {
	client *redis.Client
	store  *store
	signer *signer
	cfg    Config
	now    func() time.Time
}

func NewTokenService(client *redis.Client, cfg Config) Service {
	return &service{
		client: client,
		store:  &store{client: client},
		signer: &signer{secret: []byte(cfg.Secret), issuer: cfg.Issuer, ttl: cfg.AccessTTL},
		cfg:    cfg,
		now:    time.Now,
	}
}

func (s *service) Issue(ctx context.Context, owner models.SessionOwner, sessionID string, meta models.SessionMetadata) (*models.TokenPair, error) {
	now, err := clients.ServerTime(ctx, s.client)
	if err != nil {
		return nil, unavailable(err)
	}

	family := &models.TokenFamily{
		ID:          uuid.NewString(),
		UserID:      owner.UserID,
		SessionID:   sessionID,
		Email:       owner.Email,
		Role:        owner.Role,
		Permissions: owner.Permissions,
		Status:      models.FamilyActive,
		CreatedAt:   now,
	}

	refreshToken, record, err := s.newRefreshToken(family, now, meta)
	if err != nil {
		return nil, err
	}

	if err := s.store.createFamily(ctx, family, record, s.cfg.RefreshTTL); err != nil {
		return nil, err
	}

	pair, err := s.pair(family, refreshToken)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"user_id":    owner.UserID,
		"session_id": sessionID,
		"family_id":  family.ID,
	}).Info("Token family issued")

	return pair, nil
}

func (s *service) Rotate(ctx context.Context, presented string, meta models.SessionMetadata) (*models.TokenPair, error) {
	if presented == "" {
		metrics.TokenRotations.WithLabelValues(rotateInvalid).Inc()
		return nil, models.ErrTokenInvalid
	}

	now, err := clients.ServerTime(ctx, s.client)
	if err != nil {
		return nil, unavailable(err)
	}

	refreshToken, next, err := s.newRefreshToken(&models.TokenFamily{}, now, meta)
	if err != nil {
		return nil, err
	}

	result, err := s.store.rotate(ctx, security.FingerprintToken(presented), next, s.cfg.RefreshTTL)
	if err != nil {
		metrics.TokenRotations.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.TokenRotations.WithLabelValues(result.Outcome).Inc()

	switch result.Outcome {
	case rotateRotated:
	case rotateReuse:
		metrics.FamiliesRevoked.WithLabelValues(RevokeReasonReuse).Inc()
		logrus.WithFields(logrus.Fields{
			"family_id": result.Family.ID,
			"user_id":   result.Family.UserID,
			"address":   meta.Address,
		}).Warn("Refresh token reuse detected, token family revoked")
		return nil, models.ErrTokenReuseDetected
	case rotateInvalid, rotateExpired, rotateRevoked:
		logrus.WithField("outcome", result.Outcome).Debug("Refresh token rejected")
		return nil, models.ErrTokenInvalid
	default:
		return nil, fmt.Errorf("%w: unexpected rotation outcome %q", models.ErrStoreUnavailable, result.Outcome)
	}

	pair, err := s.pair(result.Family, refreshToken)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"family_id":  result.Family.ID,
		"user_id":    result.Family.UserID,
		"session_id": result.Family.SessionID,
	}).Debug("Refresh token rotated")

	return pair, nil
}

func (s *service) RevokeFamily(ctx context.Context, familyID, reason string) error {
	now, err := clients.ServerTime(ctx, s.client)
	if err != nil {
		return unavailable(err)
	}

	revoked, err := s.store.revoke(ctx, familyID, reason, now)
	if err != nil {
		return err
	}
	if revoked {
		metrics.FamiliesRevoked.WithLabelValues(reason).Inc()
		logrus.WithFields(logrus.Fields{
			"family_id": familyID,
			"reason":    reason,
		}).Info("Token family revoked")
	}
	return nil
}

func (s *service) RevokeAllForUser(ctx context.Context, userID, reason string) (int, error) {
	now, err := clients.ServerTime(ctx, s.client)
	if err != nil {
		return 0, unavailable(err)
	}

	ids, err := s.store.userFamilies(ctx, userID)
	if err != nil {
		return 0, err
	}

	count := 0
	var errs []error
	for _, id := range ids {
		revoked, err := s.store.revoke(ctx, id, reason, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if revoked {
			count++
		}
	}
	if len(errs) > 0 {
		return count, errors.Join(errs...)
	}

	if err := s.store.dropUserFamilies(ctx, userID); err != nil {
		return count, err
	}

	if count > 0 {
		metrics.FamiliesRevoked.WithLabelValues(reason).Add(float64(count))
	}
	logrus.WithFields(logrus.Fields{
		"user_id": userID,
		"count":   count,
		"reason":  reason,
	}).Info("Revoked all token families for user")

	return count, nil
}

func (s *service) VerifyAccessToken(token string) (*AccessClaims, error) {
	return s.signer.verify(token, s.now())
}

func (s *service) Family(ctx context.Context, familyID string) (*models.TokenFamily, error) {
	return s.store.family(ctx, familyID)
}

func (s *service) newRefreshToken(family *models.TokenFamily, now time.Time, meta models.SessionMetadata) (string, *refreshRecord, error) {
	value, err := security.GenerateToken(security.TokenSize256)
	if err != nil {
		return "", nil, err
	}

	return value, &refreshRecord{
		Fingerprint: security.FingerprintToken(value),
		FamilyID:    family.ID,
		UserID:      family.UserID,
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.cfg.RefreshTTL),
		Device:      session.ParseDevice(meta.UserAgent),
		Address:     meta.Address,
	}, nil
}

// Access tokens are verified statelessly against each instance's own clock,
// so they are stamped with the local clock too.
func (s *service) pair(family *models.TokenFamily, refreshToken string) (*models.TokenPair, error) {
	accessToken, err := s.signer.sign(family, s.now())
	if err != nil {
		return nil, err
	}

	return &models.TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		ExpiresIn:        int64(s.cfg.AccessTTL / time.Second),
		RefreshExpiresIn: int64(s.cfg.RefreshTTL / time.Second),
		FamilyID:         family.ID,
		SessionID:        family.SessionID,
	}, nil
}
