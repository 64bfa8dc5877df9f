package flows

import "context"

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Refresh.ParseRefresh != nil && s.deps.Validate.ParseAccess != nil
}

func (s Service) Login(ctx context.Context, req LoginRequest) LoginResult {
	return RunLogin(ctx, req, s.deps.Login)
}

func (s Service) Refresh(ctx context.Context, refreshToken string) RefreshResult {
	return RunRefresh(ctx, refreshToken, s.deps.Refresh)
}

func (s Service) Logout(ctx context.Context, refreshToken string) LogoutResult {
	return RunLogout(ctx, refreshToken, s.deps.Revoke)
}

func (s Service) RevokeAll(ctx context.Context, userID string) (int, error) {
	return RunRevokeAll(ctx, userID, s.deps.Revoke)
}

func (s Service) RevokeFamily(ctx context.Context, familyID string) error {
	return revoke(ctx, s.deps.Revoke.Store, familyID, s.deps.Revoke.Now())
}
