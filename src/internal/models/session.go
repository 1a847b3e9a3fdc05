package models

import "time"

// Session is the server-side record of one authenticated device or browser.
type Session struct {
	SessionID    string      `json:"sessionId"`
	UserID       string      `json:"userId"`
	Email        string      `json:"email"`
	Role         string      `json:"role"`
	Status       string      `json:"status"`
	CreatedAt    time.Time   `json:"createdAt"`
	ExpiresAt    time.Time   `json:"expiresAt"`
	LastActivity time.Time   `json:"lastActivity"`
	Device       *DeviceInfo `json:"device,omitempty"`
	Address      string      `json:"address,omitempty"`
}

// DeviceInfo is derived from the User-Agent header when one was supplied.
type DeviceInfo struct {
	DeviceType string `json:"deviceType"`
	Browser    string `json:"browser"`
	Platform   string `json:"platform"`
}

const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceBot     = "bot"
	DeviceUnknown = "unknown"
)

// SessionMetadata carries request details from the transport layer.
type SessionMetadata struct {
	UserAgent string
	Address   string
}

// SessionOwner is the user snapshot copied into sessions and token families.
type SessionOwner struct {
	UserID      string
	Email       string
	Role        string
	Status      string
	Permissions []string
}

// Capacity is the result of a concurrent-session check.
type Capacity struct {
	Allowed      bool `json:"allowed"`
	CurrentCount int  `json:"currentCount"`
	Max          int  `json:"max"`
}
