package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goRotate/jwt"
	"github.com/MrEthical07/goRotate/store"
)

type RevokeStore interface {
	Revoker
	ListFamilies(ctx context.Context, userID string) ([]string, error)
	GetFamily(ctx context.Context, familyID string) (store.Family, error)
}

// RevokeDeps captures logout and revoke-all dependencies.
type RevokeDeps struct {
	Now                       func() time.Time
	ParseRefreshForRevocation func(string) (*jwt.RefreshClaims, error)
	Store                     RevokeStore
}

// LogoutResult reports what a logout did. Err is informational; callers answer success
// regardless.
type LogoutResult struct {
	Err      error
	FamilyID string
	UserID   string
	TokenID  string
}

// RunLogout revokes the family of refreshToken without reuse or generation checks.
// An expired token still identifies its family and is accepted.
func RunLogout(ctx context.Context, refreshToken string, deps RevokeDeps) LogoutResult {
	claims, err := deps.ParseRefreshForRevocation(refreshToken)
	if err != nil {
		return LogoutResult{Err: err}
	}
	return LogoutResult{
		Err:      revoke(ctx, deps.Store, claims.FamilyID, deps.Now()),
		FamilyID: claims.FamilyID,
		UserID:   claims.UserID(),
		TokenID:  claims.TokenID,
	}
}

// RunRevokeAll revokes every live family owned by userID and returns how many it
// revoked. Families already revoked or swept are skipped and not counted. It keeps going
// past individual failures and reports them joined.
func RunRevokeAll(ctx context.Context, userID string, deps RevokeDeps) (int, error) {
	ids, err := deps.Store.ListFamilies(ctx, userID)
	if err != nil {
		return 0, err
	}
	now := deps.Now()
	var (
		revoked int
		errs    []error
	)
	for _, id := range ids {
		family, err := deps.Store.GetFamily(ctx, id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			continue
		case err != nil:
			errs = append(errs, err)
			continue
		case family.Revoked:
			continue
		}
		if err := revoke(ctx, deps.Store, id, now); err != nil {
			errs = append(errs, err)
			continue
		}
		revoked++
	}
	return revoked, errors.Join(errs...)
}
