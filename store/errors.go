package store

import "errors"

var (
	// ErrNotFound is returned when a family or record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrAlreadyConsumed is the reuse signal: the record was redeemed before.
	ErrAlreadyConsumed = errors.New("store: refresh token already consumed")
	// ErrFamilyRevoked is returned when the family (or the record, via cascade) is revoked.
	ErrFamilyRevoked = errors.New("store: family revoked")
	// ErrGenerationConflict is returned by Rotate when the family moved past the expected generation.
	ErrGenerationConflict = errors.New("store: generation conflict")
	// ErrDuplicate is returned when inserting an id that already exists.
	ErrDuplicate = errors.New("store: duplicate id")
	// ErrInvalidRotation is returned when a RotateRequest is internally inconsistent.
	ErrInvalidRotation = errors.New("store: invalid rotate request")
	// ErrUnavailable wraps transport and driver failures.
	ErrUnavailable = errors.New("store: backend unavailable")
)
