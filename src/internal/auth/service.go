// Package auth composes the session store, token engine and login guard into
// the login, refresh and logout flows.
package auth

import (
	"context"
	"errors"
	"time"

	"sso-session-svc/src/internal/guard"
	"sso-session-svc/src/internal/metrics"
	"sso-session-svc/src/internal/models"
	"sso-session-svc/src/internal/security"
	"sso-session-svc/src/internal/session"
	"sso-session-svc/src/internal/token"
	"sso-session-svc/src/internal/user"

	"github.com/sirupsen/logrus"
)

// RevokeReasonSessionEnded marks families whose session was removed or
// evicted before the refresh token was presented.
const RevokeReasonSessionEnded = "session_ended"

type Config struct {
	MaxSessions              int
	RequireEmailVerification bool
}

type LoginRequest struct {
	Email    string
	Password string
	Meta     models.SessionMetadata
}

type LoginResult struct {
	User    *user.Profile
	Session *models.Session
	Tokens  *models.TokenPair
	Evicted int
}

type Service interface {
	Login(ctx context.Context, req LoginRequest) (*LoginResult, error)
	Refresh(ctx context.Context, refreshToken string, meta models.SessionMetadata) (*models.TokenPair, error)
	VerifyAccessToken(accessToken string) (*token.AccessClaims, error)
	ValidateSession(ctx context.Context, sessionID string) (*models.Session, error)
	Logout(ctx context.Context, userID, sessionID string) error
	LogoutAll(ctx context.Context, userID string) (int, error)
	TerminateSessions(ctx context.Context, userID string) (int, error)
	ListSessions(ctx context.Context, userID string) ([]*models.Session, error)
	SessionCount(ctx context.Context, userID string) (int, error)
	CheckCapacity(ctx context.Context, userID string) (*models.Capacity, error)
}

type authService struct {
	users    user.Service
	guard    guard.Service
	sessions session.Repository
	enforcer *session.Enforcer
	tokens   token.Service
	cfg      Config
	now      func() time.Time
}

func NewAuthService(users user.Service, guardService guard.Service, sessions session.Repository, enforcer *session.Enforcer, tokens token.Service, cfg Config) Service {
	return &authService{
		users:    users,
		guard:    guardService,
		sessions: sessions,
		enforcer: enforcer,
		tokens:   tokens,
		cfg:      cfg,
		now:      time.Now,
	}
}

func (s *authService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	email := guard.NormalizeEmail(req.Email)
	log := logrus.WithFields(logrus.Fields{
		"email":   email,
		"address": req.Meta.Address,
	})

	decision, err := s.guard.IsLoginAllowed(ctx, email, req.Meta.Address)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, s.reject(ctx, email, req.Meta, string(decision.Reason), decision.Err())
	}

	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrRecordNotFound) {
			s.users.VerifyPassword(nil, req.Password)
			return nil, s.reject(ctx, email, req.Meta, models.ReasonAccountNotFound, models.ErrInvalidCredentials)
		}
		log.WithError(err).Error("Failed to look up user for login")
		return nil, err
	}

	if now := s.now(); u.IsLockedAt(now) {
		locked := models.WithRetryAfter(models.ErrAccountLocked, u.LockRemaining(now))
		return nil, s.reject(ctx, email, req.Meta, models.ReasonAccountLocked, locked)
	}
	if !s.users.VerifyPassword(u, req.Password) {
		return nil, s.reject(ctx, email, req.Meta, models.ReasonInvalidPassword, models.ErrInvalidCredentials)
	}
	if !u.IsActive() {
		return nil, s.reject(ctx, email, req.Meta, models.ReasonAccountInactive, models.ErrAccountInactive)
	}
	if s.cfg.RequireEmailVerification && !u.IsEmailVerified {
		return nil, s.reject(ctx, email, req.Meta, models.ReasonEmailNotVerified, models.ErrEmailNotVerified)
	}

	if err := s.guard.RecordAttempt(ctx, models.LoginAttempt{
		Email:     email,
		Address:   req.Meta.Address,
		UserAgent: req.Meta.UserAgent,
		Success:   true,
	}); err != nil {
		return nil, err
	}

	owner := u.Owner()

	evicted, err := s.enforcer.EnforceLimit(ctx, owner.UserID, s.cfg.MaxSessions)
	if err != nil {
		return nil, err
	}

	sessionID, err := security.NewSessionID()
	if err != nil {
		return nil, err
	}

	sess, err := s.sessions.Create(ctx, owner, sessionID, req.Meta)
	if err != nil {
		return nil, err
	}

	pair, err := s.tokens.Issue(ctx, owner, sessionID, req.Meta)
	if err != nil {
		if rmErr := s.sessions.Remove(ctx, sessionID, owner.UserID); rmErr != nil {
			log.WithError(rmErr).Warn("Failed to roll back session after token issue failure")
		}
		return nil, err
	}

	if err := s.users.RecordLogin(ctx, owner.UserID, s.now()); err != nil {
		log.WithError(err).Warn("Failed to record last login")
	}

	metrics.LoginAttempts.WithLabelValues("success").Inc()
	log.WithFields(logrus.Fields{
		"user_id":    owner.UserID,
		"session_id": sessionID,
		"evicted":    evicted,
	}).Info("User logged in")

	return &LoginResult{
		User:    u.ToProfile(),
		Session: sess,
		Tokens:  pair,
		Evicted: evicted,
	}, nil
}

// reject records the failed attempt before surfacing cause. A guard store
// failure takes precedence so callers see the service is degraded.
func (s *authService) reject(ctx context.Context, email string, meta models.SessionMetadata, reason string, cause error) error {
	metrics.LoginAttempts.WithLabelValues(reason).Inc()
	logrus.WithFields(logrus.Fields{
		"email":   email,
		"address": meta.Address,
		"reason":  reason,
	}).Warn("Login rejected")

	if err := s.guard.RecordAttempt(ctx, models.LoginAttempt{
		Email:         email,
		Address:       meta.Address,
		UserAgent:     meta.UserAgent,
		FailureReason: reason,
	}); err != nil {
		return err
	}
	return cause
}

func (s *authService) Refresh(ctx context.Context, refreshToken string, meta models.SessionMetadata) (*models.TokenPair, error) {
	pair, err := s.tokens.Rotate(ctx, refreshToken, meta)
	if err != nil {
		return nil, err
	}

	if _, err := s.sessions.Validate(ctx, pair.SessionID); err != nil {
		if !errors.Is(err, models.ErrSessionNotFound) {
			return nil, err
		}
		logrus.WithFields(logrus.Fields{
			"family_id":  pair.FamilyID,
			"session_id": pair.SessionID,
		}).Info("Refresh for ended session, revoking token family")
		if err := s.tokens.RevokeFamily(ctx, pair.FamilyID, RevokeReasonSessionEnded); err != nil {
			return nil, err
		}
		return nil, models.ErrTokenInvalid
	}

	if err := s.sessions.Touch(ctx, pair.SessionID); err != nil {
		logrus.WithError(err).WithField("session_id", pair.SessionID).Warn("Failed to touch session on refresh")
	}

	return pair, nil
}

func (s *authService) VerifyAccessToken(accessToken string) (*token.AccessClaims, error) {
	return s.tokens.VerifyAccessToken(accessToken)
}

func (s *authService) ValidateSession(ctx context.Context, sessionID string) (*models.Session, error) {
	return s.sessions.Validate(ctx, sessionID)
}

// Logout revokes every token family of the user and removes the current
// session. Both steps run even if one fails.
func (s *authService) Logout(ctx context.Context, userID, sessionID string) error {
	_, tokenErr := s.tokens.RevokeAllForUser(ctx, userID, token.RevokeReasonLogout)

	var sessionErr error
	if sessionID != "" {
		sessionErr = s.sessions.Remove(ctx, sessionID, userID)
	}

	if err := errors.Join(tokenErr, sessionErr); err != nil {
		logrus.WithError(err).WithField("user_id", userID).Error("Logout incomplete")
		return err
	}

	logrus.WithFields(logrus.Fields{
		"user_id":    userID,
		"session_id": sessionID,
	}).Info("User logged out")
	return nil
}

func (s *authService) LogoutAll(ctx context.Context, userID string) (int, error) {
	return s.endAllSessions(ctx, userID, token.RevokeReasonLogout)
}

// TerminateSessions is LogoutAll on behalf of an administrator; families are
// revoked with the admin reason.
func (s *authService) TerminateSessions(ctx context.Context, userID string) (int, error) {
	return s.endAllSessions(ctx, userID, token.RevokeReasonAdmin)
}

func (s *authService) endAllSessions(ctx context.Context, userID, reason string) (int, error) {
	_, tokenErr := s.tokens.RevokeAllForUser(ctx, userID, reason)
	count, sessionErr := s.sessions.RemoveAll(ctx, userID)

	log := logrus.WithFields(logrus.Fields{
		"user_id": userID,
		"reason":  reason,
	})
	if err := errors.Join(tokenErr, sessionErr); err != nil {
		log.WithError(err).Error("Logout from all devices incomplete")
		return count, err
	}

	log.WithField("count", count).Info("User logged out from all devices")
	return count, nil
}

func (s *authService) ListSessions(ctx context.Context, userID string) ([]*models.Session, error) {
	return s.sessions.ListActive(ctx, userID)
}

func (s *authService) SessionCount(ctx context.Context, userID string) (int, error) {
	return s.sessions.Count(ctx, userID)
}

func (s *authService) CheckCapacity(ctx context.Context, userID string) (*models.Capacity, error) {
	return s.enforcer.CheckCapacity(ctx, userID, s.cfg.MaxSessions)
}
