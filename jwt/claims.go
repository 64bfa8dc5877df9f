package jwt

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// TokenType is the value of the "type" claim.
type TokenType string

const (
	TypeAccess  TokenType = "access"
	TypeRefresh TokenType = "refresh"
)

// AccessClaims is the decoded access-token payload.
//
// Subject carries the user id and ID carries the jti.
type AccessClaims struct {
	Role      string    `json:"role"`
	Type      TokenType `json:"type"`
	SessionID string    `json:"sid"`
	Nonce     string    `json:"nonce"`
	jwt.RegisteredClaims
}

// UserID returns the sub claim.
func (c AccessClaims) UserID() string { return c.Subject }

// Validate is invoked by the parser after the registered-claim checks.
func (c AccessClaims) Validate() error {
	if c.Type != TypeAccess {
		return ErrWrongType
	}
	if c.Subject == "" || c.SessionID == "" || c.ID == "" {
		return fmt.Errorf("%w: missing required access claim", ErrMalformed)
	}
	return nil
}

// RefreshClaims is the decoded refresh-token payload.
type RefreshClaims struct {
	DeviceID    string    `json:"deviceId"`
	FamilyID    string    `json:"familyId"`
	TokenID     string    `json:"tokenId"`
	Generation  uint64    `json:"generation"`
	Type        TokenType `json:"type"`
	Fingerprint string    `json:"fingerprint"`
	Nonce       string    `json:"nonce"`
	jwt.RegisteredClaims
}

// UserID returns the sub claim.
func (c RefreshClaims) UserID() string { return c.Subject }

// Validate is invoked by the parser after the registered-claim checks.
func (c RefreshClaims) Validate() error {
	if c.Type != TypeRefresh {
		return ErrWrongType
	}
	if c.Subject == "" || c.DeviceID == "" || c.FamilyID == "" || c.TokenID == "" || c.Fingerprint == "" {
		return fmt.Errorf("%w: missing required refresh claim", ErrMalformed)
	}
	return nil
}
