package store

import "time"

// Family is one rotation chain, created by a login.
type Family struct {
	FamilyID string
	UserID   string
	DeviceID string
	Role     string

	CreatedAt time.Time

	// CurrentGeneration is the generation expected from the next valid refresh.
	CurrentGeneration uint64
	// MaxGeneration is the highest generation ever issued. Never decreases.
	MaxGeneration uint64

	Revoked   bool
	RevokedAt time.Time
}

// RefreshRecord is the server-side state of one issued refresh token.
//
// After Put only Consumed, RotatedTo, LastUsedAt and Revoked change, each at most once.
type RefreshRecord struct {
	TokenID    string
	UserID     string
	DeviceID   string
	FamilyID   string
	Generation uint64

	CreatedAt  time.Time
	LastUsedAt time.Time

	Consumed    bool
	RotatedTo   string
	Fingerprint string
	Revoked     bool
}

// LastActivity is LastUsedAt when set, otherwise CreatedAt.
func (r RefreshRecord) LastActivity() time.Time {
	if r.LastUsedAt.IsZero() {
		return r.CreatedAt
	}
	return r.LastUsedAt
}

// RotateRequest is the input to Rotator.Rotate.
type RotateRequest struct {
	FamilyID           string
	TokenID            string
	ExpectedGeneration uint64
	Next               RefreshRecord
	At                 time.Time
}

// Validate checks that Next is the direct successor of TokenID within FamilyID.
func (r RotateRequest) Validate() error {
	switch {
	case r.FamilyID == "" || r.TokenID == "" || r.Next.TokenID == "":
		return ErrInvalidRotation
	case r.Next.TokenID == r.TokenID:
		return ErrInvalidRotation
	case r.Next.FamilyID != r.FamilyID:
		return ErrInvalidRotation
	case r.Next.Generation != r.ExpectedGeneration+1:
		return ErrInvalidRotation
	case r.Next.Consumed || r.Next.Revoked:
		return ErrInvalidRotation
	}
	return nil
}

// SweepResult reports what one sweep pass removed.
type SweepResult struct {
	Records  int
	Families int
}
