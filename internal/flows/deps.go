package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/goRotate/jwt"
)

// Deps groups flow dependency sets. Root engine builds this once and delegates
// request methods to the matching flow implementation.
type Deps struct {
	Login    LoginDeps
	Refresh  RefreshDeps
	Revoke   RevokeDeps
	Validate ValidateDeps
}

// Issuer is the token-signing surface shared by login and refresh.
type Issuer interface {
	IssueAccess(userID, role, sessionID string) (string, jwt.AccessClaims, error)
	IssueRefresh(spec jwt.RefreshSpec) (string, jwt.RefreshClaims, error)
}

// Fingerprinter computes and checks the family fingerprint.
type Fingerprinter interface {
	Fingerprint(userID, deviceID, familyID string) string
	Verify(fingerprint, userID, deviceID, familyID string) bool
}

// Revoker is the ledger subset every flow that can fail closed needs.
type Revoker interface {
	RevokeFamily(ctx context.Context, familyID string, at time.Time) error
}

// revoke detaches from ctx cancellation: a client that hangs up must not be able to
// abort a revocation the engine already decided on.
func revoke(ctx context.Context, r Revoker, familyID string, at time.Time) error {
	return r.RevokeFamily(context.WithoutCancel(ctx), familyID, at)
}
