package user

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"sso-session-svc/src/internal/cache"
	"sso-session-svc/src/internal/models"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

type Service interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, userID string) (*User, error)
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	VerifyPassword(user *User, plaintext string) bool
	RecordLogin(ctx context.Context, userID string, at time.Time) error
}

const profileKeyPrefix = "user_profile:"

// placeholderHash is compared against when there is no stored hash so a
// missing account costs as much as a wrong password.
var placeholderHash = sync.OnceValue(func() []byte {
	hash, err := bcrypt.GenerateFromPassword([]byte("placeholder-password"), bcrypt.DefaultCost)
	if err != nil {
		logrus.WithError(err).Error("Failed to generate placeholder password hash")
	}
	return hash
})

type userService struct {
	userRepository Repository
	profiles       cache.Service
}

// NewUserService builds the service; profiles may be nil to disable caching.
func NewUserService(userRepository Repository, profiles cache.Service) Service {
	return &userService{
		userRepository: userRepository,
		profiles:       profiles,
	}
}

// FindByEmail returns models.ErrRecordNotFound for unknown accounts.
func (s *userService) FindByEmail(ctx context.Context, email string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, models.ErrRecordNotFound
	}

	user, err := s.userRepository.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, models.ErrRecordNotFound) {
			logrus.WithError(err).WithField("email", email).Error("Failed to get user by email")
		}
		return nil, err
	}
	return user, nil
}

func (s *userService) FindByID(ctx context.Context, userID string) (*User, error) {
	return s.userRepository.GetByID(ctx, userID)
}

func (s *userService) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	key := profileKeyPrefix + userID

	if s.profiles != nil {
		var cached Profile
		found, err := s.profiles.Get(ctx, key, &cached)
		if err != nil {
			logrus.WithError(err).WithField("user_id", userID).Warn("Profile cache unavailable, reading database")
		}
		if found {
			return &cached, nil
		}
	}

	user, err := s.userRepository.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	profile := user.ToProfile()

	if s.profiles != nil {
		if err := s.profiles.Set(ctx, key, profile); err != nil {
			logrus.WithError(err).WithField("user_id", userID).Warn("Failed to cache user profile")
		}
	}
	return profile, nil
}

// VerifyPassword accepts a nil user; the comparison still runs so callers can
// spend the same time on unknown accounts.
func (s *userService) VerifyPassword(user *User, plaintext string) bool {
	if user == nil || user.PasswordHash == "" {
		_ = bcrypt.CompareHashAndPassword(placeholderHash(), []byte(plaintext))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(plaintext)) == nil
}

func (s *userService) RecordLogin(ctx context.Context, userID string, at time.Time) error {
	if err := s.userRepository.UpdateLastLogin(ctx, userID, at); err != nil {
		return err
	}
	if s.profiles != nil {
		if err := s.profiles.Delete(ctx, profileKeyPrefix+userID); err != nil {
			logrus.WithError(err).WithField("user_id", userID).Warn("Failed to invalidate cached profile")
		}
	}
	return nil
}
