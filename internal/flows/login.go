package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goRotate/jwt"
	"github.com/MrEthical07/goRotate/store"
)

// LoginFailureKind classifies login flow failures for root-level mapping.
type LoginFailureKind int

const (
	LoginFailureNone LoginFailureKind = iota
	LoginFailureInvalidRequest
	LoginFailureIssue
	LoginFailureStore
)

var errMissingIdentity = errors.New("user id and device id are required")

// LoginRequest is the flow-local login input. Credentials were already verified.
type LoginRequest struct {
	UserID   string
	Role     string
	DeviceID string
}

// LoginResult carries either the issued pair or failure metadata.
type LoginResult struct {
	Failure LoginFailureKind
	Err     error

	FamilyID string
	TokenID  string

	AccessToken   string
	RefreshToken  string
	AccessClaims  jwt.AccessClaims
	RefreshClaims jwt.RefreshClaims
}

type LoginStore interface {
	CreateFamily(ctx context.Context, f store.Family) error
	Put(ctx context.Context, r store.RefreshRecord) error
	Revoker
}

// LoginDeps captures login flow dependencies.
type LoginDeps struct {
	Now         func() time.Time
	NewID       func() string
	Tokens      Issuer
	Fingerprint Fingerprinter
	Store       LoginStore
}

// RunLogin creates a family at generation 0 and issues its first token pair.
func RunLogin(ctx context.Context, req LoginRequest, deps LoginDeps) LoginResult {
	req.UserID = strings.TrimSpace(req.UserID)
	req.DeviceID = strings.TrimSpace(req.DeviceID)
	if req.UserID == "" || req.DeviceID == "" {
		return LoginResult{Failure: LoginFailureInvalidRequest, Err: errMissingIdentity}
	}

	now := deps.Now()
	familyID := deps.NewID()
	tokenID := deps.NewID()

	refresh, refreshClaims, err := deps.Tokens.IssueRefresh(jwt.RefreshSpec{
		UserID:      req.UserID,
		DeviceID:    req.DeviceID,
		FamilyID:    familyID,
		TokenID:     tokenID,
		Generation:  0,
		Fingerprint: deps.Fingerprint.Fingerprint(req.UserID, req.DeviceID, familyID),
	})
	if err != nil {
		return LoginResult{Failure: LoginFailureIssue, Err: err, FamilyID: familyID}
	}
	access, accessClaims, err := deps.Tokens.IssueAccess(req.UserID, req.Role, familyID)
	if err != nil {
		return LoginResult{Failure: LoginFailureIssue, Err: err, FamilyID: familyID}
	}

	if err := deps.Store.CreateFamily(ctx, store.Family{
		FamilyID:  familyID,
		UserID:    req.UserID,
		DeviceID:  req.DeviceID,
		Role:      req.Role,
		CreatedAt: now,
	}); err != nil {
		return LoginResult{Failure: LoginFailureStore, Err: err, FamilyID: familyID}
	}

	if err := deps.Store.Put(ctx, store.RefreshRecord{
		TokenID:     tokenID,
		UserID:      req.UserID,
		DeviceID:    req.DeviceID,
		FamilyID:    familyID,
		Generation:  0,
		CreatedAt:   now,
		Fingerprint: refreshClaims.Fingerprint,
	}); err != nil {
		// The family has no redeemable token; mark it dead so nothing can attach to it.
		if rerr := revoke(ctx, deps.Store, familyID, now); rerr != nil {
			err = errors.Join(err, fmt.Errorf("revoke orphaned family: %w", rerr))
		}
		return LoginResult{Failure: LoginFailureStore, Err: err, FamilyID: familyID}
	}

	return LoginResult{
		FamilyID:      familyID,
		TokenID:       tokenID,
		AccessToken:   access,
		RefreshToken:  refresh,
		AccessClaims:  accessClaims,
		RefreshClaims: refreshClaims,
	}
}
