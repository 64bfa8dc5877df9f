package goRotate

import "errors"

var (
	// ErrInvalidToken covers malformed, expired, wrongly typed and tampered tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrFamilyRevoked is returned when the token's family is revoked or gone.
	ErrFamilyRevoked = errors.New("token family revoked")
	// ErrReuseDetected is returned when an already consumed refresh token is presented.
	// The family is revoked before the error is returned.
	ErrReuseDetected = errors.New("refresh token reuse detected")
	// ErrGenerationMismatch is returned when the token generation is outside tolerance.
	ErrGenerationMismatch = errors.New("refresh token generation mismatch")
	// ErrTokenNotFound marks a validly signed refresh token with no stored record.
	// Callers see it wrapped together with ErrFamilyRevoked.
	ErrTokenNotFound = errors.New("refresh token not found")
	// ErrDeviceBindingRejected is returned in enforce mode when the request device differs
	// from the device the family was issued to.
	ErrDeviceBindingRejected = errors.New("device binding rejected")
	// ErrInvalidRequest is returned for missing user or device identifiers.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrTokenIssuance is returned when signing fails.
	ErrTokenIssuance = errors.New("token issuance failed")
	// ErrStoreUnavailable wraps backend failures. No partial rotation state is left behind.
	ErrStoreUnavailable = errors.New("token store unavailable")
	// ErrEngineNotReady is returned by a zero or partially built Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)
