package models

import "time"

// TokenPair is returned on login and on every refresh.
type TokenPair struct {
	AccessToken      string `json:"accessToken"`
	RefreshToken     string `json:"refreshToken"`
	ExpiresIn        int64  `json:"expiresIn"`
	RefreshExpiresIn int64  `json:"refreshExpiresIn"`
	FamilyID         string `json:"-"`
	SessionID        string `json:"-"`
}

// TokenFamily groups every refresh token descended from one login.
type TokenFamily struct {
	ID            string
	UserID        string
	SessionID     string
	Email         string
	Role          string
	Permissions   []string
	Status        string
	RevokedReason string
	Rotations     int
	CreatedAt     time.Time
}

const (
	FamilyActive  = "active"
	FamilyRevoked = "revoked"
)
