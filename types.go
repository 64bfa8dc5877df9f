package goRotate

import (
	"time"

	"github.com/MrEthical07/goRotate/store"
)

// LoginRequest opens a new family. Credentials must already be verified by the caller.
type LoginRequest struct {
	UserID string
	Role   string
	// DeviceID falls back to the id attached with WithDeviceID when empty.
	DeviceID string
}

// TokenPair is the result of Login and Refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time

	FamilyID   string
	Generation uint64
}

// AccessResult is the verified content of an access token.
type AccessResult struct {
	UserID    string
	Role      string
	SessionID string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// SweepResult reports what one sweep pass removed.
type SweepResult = store.SweepResult
