package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goRotate/internal/keylock"
	"github.com/MrEthical07/goRotate/jwt"
	"github.com/MrEthical07/goRotate/store"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureInvalidToken
	RefreshFailureUnknownToken
	RefreshFailureFamilyRevoked
	RefreshFailureReuse
	RefreshFailureFingerprint
	RefreshFailureClaimsMismatch
	RefreshFailureGeneration
	RefreshFailureDeviceBinding
	RefreshFailureRotateRace
	RefreshFailureIssue
	RefreshFailureStore
)

// RefreshResult carries either the issued token pair or failure metadata.
type RefreshResult struct {
	Failure RefreshFailureKind
	Err     error

	FamilyID   string
	TokenID    string
	UserID     string
	DeviceID   string
	Role       string
	Generation uint64

	// NewGeneration is the family generation after a successful rotation.
	NewGeneration uint64
	// GenerationDrift is claims.generation minus the ledger generation when it was
	// non-zero but inside tolerance.
	GenerationDrift int64
	// ConsumedAt is when the replayed token was first redeemed.
	ConsumedAt time.Time
	// Revoked is set when this call revoked the family.
	Revoked   bool
	RevokeErr error
	// DeviceMismatch is set when the request device differs from the token device.
	DeviceMismatch bool

	AccessToken   string
	RefreshToken  string
	AccessClaims  jwt.AccessClaims
	RefreshClaims jwt.RefreshClaims
}

type RefreshStore interface {
	Get(ctx context.Context, tokenID string) (store.RefreshRecord, error)
	GetFamily(ctx context.Context, familyID string) (store.Family, error)
	Rotate(ctx context.Context, req store.RotateRequest) (uint64, error)
	Revoker
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	Now          func() time.Time
	NewID        func() string
	ParseRefresh func(string) (*jwt.RefreshClaims, error)
	Tokens       Issuer
	Fingerprint  Fingerprinter
	Store        RefreshStore
	Locks        *keylock.Striped

	GenerationTolerance uint64

	DeviceIDFromContext  func(context.Context) string
	DetectDeviceChange   bool
	EnforceDeviceBinding bool
}

var (
	errFingerprintMismatch = errors.New("fingerprint mismatch")
	errClaimsMismatch      = errors.New("token claims disagree with stored record")
	errDeviceMismatch      = errors.New("request device differs from token device")
)

// RunRefresh validates a presented refresh token, detects reuse and rotates the family.
//
// The read-check-commit sequence runs under the family's stripe lock, and the commit
// itself is a store-level compare-and-swap, so two redemptions of one token cannot both
// succeed even across processes sharing a backend.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	claims, err := deps.ParseRefresh(refreshToken)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureInvalidToken, Err: err}
	}

	res := RefreshResult{
		FamilyID:   claims.FamilyID,
		TokenID:    claims.TokenID,
		UserID:     claims.UserID(),
		DeviceID:   claims.DeviceID,
		Generation: claims.Generation,
	}

	if deps.Locks != nil {
		unlock := deps.Locks.Lock(claims.FamilyID)
		defer unlock()
	}

	fail := func(kind RefreshFailureKind, err error, revokeFamily bool) RefreshResult {
		res.Failure = kind
		res.Err = err
		if revokeFamily {
			res.Revoked = true
			res.RevokeErr = revoke(ctx, deps.Store, claims.FamilyID, deps.Now())
		}
		return res
	}

	record, err := deps.Store.Get(ctx, claims.TokenID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// A validly signed token we never stored: treat as tampering.
			return fail(RefreshFailureUnknownToken, err, true)
		}
		return fail(RefreshFailureStore, err, false)
	}

	family, err := deps.Store.GetFamily(ctx, claims.FamilyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fail(RefreshFailureFamilyRevoked, err, false)
		}
		return fail(RefreshFailureStore, err, false)
	}
	res.Role = family.Role

	if record.Consumed {
		res.ConsumedAt = record.LastUsedAt
		return fail(RefreshFailureReuse, store.ErrAlreadyConsumed, !family.Revoked)
	}
	if family.Revoked || record.Revoked {
		return fail(RefreshFailureFamilyRevoked, store.ErrFamilyRevoked, false)
	}

	if !deps.Fingerprint.Verify(claims.Fingerprint, claims.UserID(), claims.DeviceID, claims.FamilyID) {
		return fail(RefreshFailureFingerprint, errFingerprintMismatch, true)
	}
	if record.FamilyID != claims.FamilyID ||
		record.UserID != claims.UserID() ||
		record.DeviceID != claims.DeviceID ||
		record.Generation != claims.Generation ||
		record.Fingerprint != claims.Fingerprint ||
		family.UserID != claims.UserID() {
		return fail(RefreshFailureClaimsMismatch, errClaimsMismatch, true)
	}

	if claims.Generation != family.CurrentGeneration {
		drift := int64(claims.Generation) - int64(family.CurrentGeneration)
		if absDrift(drift) > deps.GenerationTolerance {
			return fail(RefreshFailureGeneration, store.ErrGenerationConflict, true)
		}
		res.GenerationDrift = drift
	}

	if deps.DeviceIDFromContext != nil && (deps.DetectDeviceChange || deps.EnforceDeviceBinding) {
		if current := deps.DeviceIDFromContext(ctx); current != "" && current != claims.DeviceID {
			res.DeviceMismatch = true
			if deps.EnforceDeviceBinding {
				return fail(RefreshFailureDeviceBinding, errDeviceMismatch, true)
			}
		}
	}

	// Sign before committing so a signing failure never leaves a consumed token
	// without a successor.
	now := deps.Now()
	nextGen := family.CurrentGeneration + 1
	nextID := deps.NewID()
	refresh, refreshClaims, err := deps.Tokens.IssueRefresh(jwt.RefreshSpec{
		UserID:      claims.UserID(),
		DeviceID:    claims.DeviceID,
		FamilyID:    claims.FamilyID,
		TokenID:     nextID,
		Generation:  nextGen,
		Fingerprint: claims.Fingerprint,
	})
	if err != nil {
		return fail(RefreshFailureIssue, err, false)
	}
	access, accessClaims, err := deps.Tokens.IssueAccess(claims.UserID(), family.Role, claims.FamilyID)
	if err != nil {
		return fail(RefreshFailureIssue, err, false)
	}

	gen, err := deps.Store.Rotate(ctx, store.RotateRequest{
		FamilyID:           claims.FamilyID,
		TokenID:            claims.TokenID,
		ExpectedGeneration: family.CurrentGeneration,
		At:                 now,
		Next: store.RefreshRecord{
			TokenID:     nextID,
			UserID:      claims.UserID(),
			DeviceID:    claims.DeviceID,
			FamilyID:    claims.FamilyID,
			Generation:  nextGen,
			CreatedAt:   now,
			Fingerprint: claims.Fingerprint,
		},
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrAlreadyConsumed), errors.Is(err, store.ErrGenerationConflict):
			// Another redemption of this family committed between our read and our CAS.
			return fail(RefreshFailureRotateRace, err, true)
		case errors.Is(err, store.ErrFamilyRevoked), errors.Is(err, store.ErrNotFound):
			return fail(RefreshFailureFamilyRevoked, err, false)
		default:
			return fail(RefreshFailureStore, err, false)
		}
	}

	res.NewGeneration = gen
	res.AccessToken = access
	res.RefreshToken = refresh
	res.AccessClaims = accessClaims
	res.RefreshClaims = refreshClaims
	return res
}

func absDrift(d int64) uint64 {
	if d < 0 {
		return uint64(-d)
	}
	return uint64(d)
}
