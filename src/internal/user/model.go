package user

import (
	"time"

	"sso-session-svc/src/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type User struct {
	ID              primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	FirstName       string             `json:"firstName" bson:"first_name"`
	LastName        string             `json:"lastName" bson:"last_name"`
	Email           string             `json:"email" bson:"email"`
	PasswordHash    string             `json:"-" bson:"password_hash"`
	Role            string             `json:"role" bson:"role"`
	Permissions     []string           `json:"permissions,omitempty" bson:"permissions,omitempty"`
	Status          string             `json:"status" bson:"status"`
	IsEmailVerified bool               `json:"isEmailVerified" bson:"is_email_verified"`
	IsLocked        bool               `json:"isLocked" bson:"is_locked"`
	LockedUntil     *time.Time         `json:"lockedUntil,omitempty" bson:"locked_until,omitempty"`
	LastLoginAt     *time.Time         `json:"lastLoginAt,omitempty" bson:"last_login_at,omitempty"`
	CreatedAt       time.Time          `json:"createdAt" bson:"created_at"`
	UpdatedAt       time.Time          `json:"updatedAt" bson:"updated_at"`
	DeletedAt       *time.Time         `json:"deletedAt,omitempty" bson:"deleted_at,omitempty"`
}

type Profile struct {
	ID              primitive.ObjectID `json:"id"`
	FirstName       string             `json:"firstName"`
	LastName        string             `json:"lastName"`
	Email           string             `json:"email"`
	Role            string             `json:"role"`
	Permissions     []string           `json:"permissions,omitempty"`
	Status          string             `json:"status"`
	IsEmailVerified bool               `json:"isEmailVerified"`
	LastLoginAt     *time.Time         `json:"lastLoginAt,omitempty"`
	CreatedAt       time.Time          `json:"createdAt"`
}

// Role constants
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Status constants
const (
	StatusActive    = "active"
	StatusInactive  = "inactive"
	StatusSuspended = "suspended"
)

// ToProfile converts User to Profile
func (u *User) ToProfile() *Profile {
	return &Profile{
		ID:              u.ID,
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		Email:           u.Email,
		Role:            u.Role,
		Permissions:     u.Permissions,
		Status:          u.Status,
		IsEmailVerified: u.IsEmailVerified,
		LastLoginAt:     u.LastLoginAt,
		CreatedAt:       u.CreatedAt,
	}
}

// Owner is the snapshot copied into the session and token family at login.
func (u *User) Owner() models.SessionOwner {
	return models.SessionOwner{
		UserID:      u.ID.Hex(),
		Email:       u.Email,
		Role:        u.Role,
		Status:      u.Status,
		Permissions: u.Permissions,
	}
}

// IsAdmin checks if user is admin
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// IsActive checks if user is active
func (u *User) IsActive() bool {
	return u.Status == StatusActive && u.DeletedAt == nil
}

// IsLockedAt reports an administrative lock. A lock with LockedUntil in the
// past has lapsed.
func (u *User) IsLockedAt(now time.Time) bool {
	if !u.IsLocked {
		return false
	}
	return u.LockedUntil == nil || now.Before(*u.LockedUntil)
}

// LockRemaining is the time left on a timed administrative lock, zero when
// the lock is open-ended or lapsed.
func (u *User) LockRemaining(now time.Time) time.Duration {
	if !u.IsLocked || u.LockedUntil == nil || !now.Before(*u.LockedUntil) {
		return 0
	}
	return u.LockedUntil.Sub(now)
}
