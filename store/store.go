package store

import (
	"context"
	"time"
)

// Ledger owns family state.
type Ledger interface {
	// CreateFamily inserts a non-revoked family. Returns ErrDuplicate if the id exists.
	CreateFamily(ctx context.Context, f Family) error
	GetFamily(ctx context.Context, familyID string) (Family, error)
	// AdvanceGeneration increments CurrentGeneration (and MaxGeneration when exceeded)
	// and returns the new value. Returns ErrFamilyRevoked on a revoked family.
	AdvanceGeneration(ctx context.Context, familyID string) (uint64, error)
	// RevokeFamily marks the family and every record in it revoked. Idempotent;
	// an unknown family is not an error.
	RevokeFamily(ctx context.Context, familyID string, at time.Time) error
	// ListFamilies returns the ids of all families owned by userID, revoked or not.
	ListFamilies(ctx context.Context, userID string) ([]string, error)
}

// TokenStore owns refresh-token records.
type TokenStore interface {
	Put(ctx context.Context, r RefreshRecord) error
	Get(ctx context.Context, tokenID string) (RefreshRecord, error)
	// MarkConsumed flips Consumed exactly once. A second call returns ErrAlreadyConsumed.
	MarkConsumed(ctx context.Context, tokenID, rotatedTo string, at time.Time) error
	// SweepOlderThan deletes records whose LastActivity is before cutoff, then families
	// created before cutoff that have no records left.
	SweepOlderThan(ctx context.Context, cutoff time.Time) (SweepResult, error)
}

// Rotator performs the refresh commit as one atomic compare-and-swap.
type Rotator interface {
	// Rotate marks req.TokenID consumed (pointing at req.Next), advances the family from
	// ExpectedGeneration to ExpectedGeneration+1 and stores req.Next. Either all of it
	// happens or none of it does.
	//
	// Errors: ErrNotFound, ErrFamilyRevoked, ErrAlreadyConsumed, ErrGenerationConflict,
	// ErrInvalidRotation, ErrUnavailable.
	Rotate(ctx context.Context, req RotateRequest) (uint64, error)
}

// Backend is everything the engine needs from persistence.
type Backend interface {
	Ledger
	TokenStore
	Rotator
	Ping(ctx context.Context) (time.Duration, error)
}
