package flows

import "github.com/MrEthical07/goRotate/jwt"

// ValidateDeps captures stateless access-token validation dependencies.
type ValidateDeps struct {
	ParseAccess func(string) (*jwt.AccessClaims, error)
}

// RunValidate verifies an access token without touching storage.
func RunValidate(tokenStr string, deps ValidateDeps) (*jwt.AccessClaims, error) {
	return deps.ParseAccess(tokenStr)
}
