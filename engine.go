package goRotate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/MrEthical07/goRotate/internal/audit"
	"github.com/MrEthical07/goRotate/internal/flows"
	"github.com/MrEthical07/goRotate/jwt"
	"github.com/MrEthical07/goRotate/store"
)

// Engine issues, rotates and revokes token families. Build one with [Builder].
type Engine struct {
	config  Config
	backend store.Backend
	codec   *jwt.Codec
	flows   flows.Service
	audit   *audit.Dispatcher
	metrics *Metrics
	sweeper *Sweeper
	log     zerolog.Logger
	now     func() time.Time
}

// Close stops the background sweeper and drains the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.sweeper != nil {
		e.sweeper.Stop()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports audit events discarded because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the current counters and histograms.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil && e.flows.Initialized()
}

// Login opens a new family at generation 0 and returns its first token pair.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*TokenPair, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if strings.TrimSpace(req.DeviceID) == "" {
		req.DeviceID = deviceIDFromContext(ctx)
	}

	res := e.flows.Login(ctx, flows.LoginRequest{
		UserID:   req.UserID,
		Role:     req.Role,
		DeviceID: req.DeviceID,
	})

	var err error
	switch res.Failure {
	case flows.LoginFailureNone:
	case flows.LoginFailureInvalidRequest:
		err = ErrInvalidRequest
	case flows.LoginFailureIssue:
		err = fmt.Errorf("%w: %v", ErrTokenIssuance, res.Err)
	default:
		e.metricInc(MetricStoreUnavailable)
		err = fmt.Errorf("%w: %v", ErrStoreUnavailable, res.Err)
	}
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.log.Warn().Err(res.Err).Str("user_id", req.UserID).Str("family_id", res.FamilyID).Msg("login failed")
		e.emitAudit(ctx, auditEventLoginFailure, false, auditFields{userID: req.UserID, familyID: res.FamilyID, deviceID: req.DeviceID}, err, nil)
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.metricInc(MetricFamilyCreated)
	e.emitAudit(ctx, auditEventLoginSuccess, true, auditFields{
		userID:   req.UserID,
		familyID: res.FamilyID,
		tokenID:  res.TokenID,
		deviceID: req.DeviceID,
	}, nil, nil)

	return &TokenPair{
		AccessToken:      res.AccessToken,
		RefreshToken:     res.RefreshToken,
		AccessExpiresAt:  res.AccessClaims.ExpiresAt.Time,
		RefreshExpiresAt: res.RefreshClaims.ExpiresAt.Time,
		FamilyID:         res.FamilyID,
		Generation:       0,
	}, nil
}

// Refresh redeems refreshToken for a new pair one generation higher.
//
// Any sign of theft revokes the whole family before the error is returned: replay of a
// consumed token (ErrReuseDetected), a token with no stored record (ErrFamilyRevoked
// wrapping ErrTokenNotFound), a forged fingerprint (ErrInvalidToken), a generation
// outside tolerance (ErrGenerationMismatch) or a device change in enforce mode
// (ErrDeviceBindingRejected). Backend failures return ErrStoreUnavailable and leave
// no partial rotation.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricRefreshLatency, time.Since(start)) }()
	}

	res := e.flows.Refresh(ctx, refreshToken)
	fields := auditFields{
		userID:     res.UserID,
		familyID:   res.FamilyID,
		tokenID:    res.TokenID,
		generation: res.Generation,
		deviceID:   res.DeviceID,
	}

	if res.Revoked {
		if res.RevokeErr != nil {
			e.metricInc(MetricRevokeFailure)
			e.log.Error().Err(res.RevokeErr).Str("family_id", res.FamilyID).Msg("family revocation failed")
		} else {
			e.metricInc(MetricFamilyRevoked)
		}
	}

	if res.Failure != flows.RefreshFailureNone {
		e.metricInc(MetricRefreshFailure)
		return nil, e.refreshFailure(ctx, res, fields)
	}

	if res.GenerationDrift != 0 {
		e.metricInc(MetricGenerationDrift)
		e.log.Warn().
			Str("family_id", res.FamilyID).
			Str("token_id", res.TokenID).
			Uint64("generation", res.Generation).
			Int64("drift", res.GenerationDrift).
			Msg("refresh generation drift within tolerance")
	}
	if res.DeviceMismatch {
		e.metricInc(MetricDeviceAnomaly)
		e.log.Warn().
			Str("family_id", res.FamilyID).
			Str("token_device", res.DeviceID).
			Str("request_device", deviceIDFromContext(ctx)).
			Msg("refresh from a different device")
		e.emitAudit(ctx, auditEventDeviceAnomaly, true, fields, nil, func() map[string]string {
			return map[string]string{"request_device_id": deviceIDFromContext(ctx)}
		})
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, auditFields{
		userID:     res.UserID,
		familyID:   res.FamilyID,
		tokenID:    res.RefreshClaims.TokenID,
		generation: res.NewGeneration,
		deviceID:   res.DeviceID,
	}, nil, func() map[string]string {
		return map[string]string{"rotated_from": res.TokenID}
	})

	return &TokenPair{
		AccessToken:      res.AccessToken,
		RefreshToken:     res.RefreshToken,
		AccessExpiresAt:  res.AccessClaims.ExpiresAt.Time,
		RefreshExpiresAt: res.RefreshClaims.ExpiresAt.Time,
		FamilyID:         res.FamilyID,
		Generation:       res.NewGeneration,
	}, nil
}

func (e *Engine) refreshFailure(ctx context.Context, res flows.RefreshResult, fields auditFields) error {
	logEvent := func(msg string) {
		e.log.Warn().
			Err(res.Err).
			Str("user_id", res.UserID).
			Str("family_id", res.FamilyID).
			Str("token_id", res.TokenID).
			Uint64("generation", res.Generation).
			Str("ip", clientIPFromContext(ctx)).
			Msg(msg)
	}

	switch res.Failure {
	case flows.RefreshFailureInvalidToken:
		e.emitAudit(ctx, auditEventRefreshInvalid, false, fields, ErrInvalidToken, nil)
		return ErrInvalidToken

	case flows.RefreshFailureUnknownToken:
		e.metricInc(MetricRefreshUnknownToken)
		logEvent("refresh token has no stored record")
		e.emitAudit(ctx, auditEventRefreshUnknownToken, false, fields, ErrTokenNotFound, alarm)
		return fmt.Errorf("%w: %w", ErrFamilyRevoked, ErrTokenNotFound)

	case flows.RefreshFailureFamilyRevoked:
		e.emitAudit(ctx, auditEventRefreshRevokedFamily, false, fields, ErrFamilyRevoked, nil)
		return ErrFamilyRevoked

	case flows.RefreshFailureReuse:
		e.metricInc(MetricRefreshReuseDetected)
		e.log.Warn().
			Str("user_id", res.UserID).
			Str("family_id", res.FamilyID).
			Str("token_id", res.TokenID).
			Uint64("generation", res.Generation).
			Time("consumed_at", res.ConsumedAt).
			Str("ip", clientIPFromContext(ctx)).
			Str("user_agent", userAgentFromContext(ctx)).
			Msg("refresh token reuse detected, family revoked")
		e.emitAudit(ctx, auditEventRefreshReuseDetected, false, fields, ErrReuseDetected, func() map[string]string {
			return map[string]string{
				"severity":    "alarm",
				"consumed_at": res.ConsumedAt.UTC().Format(time.RFC3339Nano),
			}
		})
		return ErrReuseDetected

	case flows.RefreshFailureRotateRace:
		e.metricInc(MetricRefreshReuseDetected)
		e.metricInc(MetricRefreshRaceLost)
		logEvent("concurrent redemption of one family, family revoked")
		e.emitAudit(ctx, auditEventRefreshReuseDetected, false, fields, ErrReuseDetected, func() map[string]string {
			return map[string]string{"severity": "alarm", "reason": "concurrent_redemption"}
		})
		return ErrReuseDetected

	case flows.RefreshFailureFingerprint, flows.RefreshFailureClaimsMismatch:
		e.metricInc(MetricFingerprintMismatch)
		logEvent("refresh token binding mismatch, family revoked")
		e.emitAudit(ctx, auditEventRefreshFingerprint, false, fields, ErrInvalidToken, alarm)
		return ErrInvalidToken

	case flows.RefreshFailureGeneration:
		e.metricInc(MetricGenerationMismatch)
		logEvent("refresh generation outside tolerance, family revoked")
		e.emitAudit(ctx, auditEventRefreshGeneration, false, fields, ErrGenerationMismatch, alarm)
		return ErrGenerationMismatch

	case flows.RefreshFailureDeviceBinding:
		e.metricInc(MetricDeviceRejected)
		logEvent("refresh from a different device rejected, family revoked")
		e.emitAudit(ctx, auditEventDeviceBindingRejected, false, fields, ErrDeviceBindingRejected, func() map[string]string {
			return map[string]string{"request_device_id": deviceIDFromContext(ctx)}
		})
		return ErrDeviceBindingRejected

	case flows.RefreshFailureIssue:
		e.log.Error().Err(res.Err).Str("family_id", res.FamilyID).Msg("token issuance failed")
		e.emitAudit(ctx, auditEventRefreshInvalid, false, fields, ErrTokenIssuance, nil)
		return fmt.Errorf("%w: %v", ErrTokenIssuance, res.Err)

	default:
		e.metricInc(MetricStoreUnavailable)
		e.log.Error().Err(res.Err).Str("family_id", res.FamilyID).Msg("token store unavailable")
		e.emitAudit(ctx, auditEventRefreshInvalid, false, fields, ErrStoreUnavailable, nil)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, res.Err)
	}
}

// Logout revokes the family of refreshToken. Expired tokens are accepted; the signature
// is still required. Logging out an already revoked family succeeds. The returned error
// is informational: HTTP callers answer success regardless.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	res := e.flows.Logout(ctx, refreshToken)
	fields := auditFields{userID: res.UserID, familyID: res.FamilyID, tokenID: res.TokenID}
	if res.FamilyID == "" {
		e.emitAudit(ctx, auditEventLogout, false, fields, ErrInvalidToken, nil)
		return ErrInvalidToken
	}
	if res.Err != nil {
		e.metricInc(MetricRevokeFailure)
		e.log.Error().Err(res.Err).Str("family_id", res.FamilyID).Msg("logout revocation failed")
		e.emitAudit(ctx, auditEventLogout, false, fields, ErrStoreUnavailable, nil)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, res.Err)
	}

	e.metricInc(MetricLogout)
	e.metricInc(MetricFamilyRevoked)
	e.emitAudit(ctx, auditEventLogout, true, fields, nil, nil)
	return nil
}

// RevokeAllSessionsForUser revokes every family owned by userID and returns how many
// were revoked. Partial failures are returned joined under ErrStoreUnavailable.
func (e *Engine) RevokeAllSessionsForUser(ctx context.Context, userID string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	if strings.TrimSpace(userID) == "" {
		return 0, ErrInvalidRequest
	}

	n, err := e.flows.RevokeAll(ctx, userID)
	e.metrics.Add(MetricFamilyRevoked, uint64(n))
	if err != nil {
		e.metricInc(MetricRevokeFailure)
		e.log.Error().Err(err).Str("user_id", userID).Int("revoked", n).Msg("revoke all sessions incomplete")
		e.emitAudit(ctx, auditEventLogoutAll, false, auditFields{userID: userID}, ErrStoreUnavailable, nil)
		return n, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, auditFields{userID: userID}, nil, func() map[string]string {
		return map[string]string{"revoked": fmt.Sprint(n)}
	})
	return n, nil
}

// RevokeFamily revokes one family by id. Unknown ids are not an error.
func (e *Engine) RevokeFamily(ctx context.Context, familyID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := e.flows.RevokeFamily(ctx, familyID); err != nil {
		e.metricInc(MetricRevokeFailure)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.metricInc(MetricFamilyRevoked)
	e.emitAudit(ctx, auditEventFamilyRevoked, true, auditFields{familyID: familyID}, nil, nil)
	return nil
}

// ValidateAccess verifies an access token by signature and claims only. It performs no
// storage lookup, so a revoked family's access tokens stay valid until they expire.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (*AccessResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricValidateLatency, time.Since(start)) }()
	}

	claims, err := flows.RunValidate(accessToken, flows.ValidateDeps{ParseAccess: e.codec.ParseAccess})
	if err != nil {
		return nil, ErrInvalidToken
	}
	return &AccessResult{
		UserID:    claims.UserID(),
		Role:      claims.Role,
		SessionID: claims.SessionID,
		TokenID:   claims.ID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Sweep deletes records with no activity for maxAge and the families they leave empty.
func (e *Engine) Sweep(ctx context.Context, maxAge time.Duration) (SweepResult, error) {
	if !e.ready() {
		return SweepResult{}, ErrEngineNotReady
	}
	if maxAge < e.config.JWT.RefreshTTL {
		return SweepResult{}, fmt.Errorf("%w: sweep age %s is shorter than refresh ttl %s", ErrInvalidRequest, maxAge, e.config.JWT.RefreshTTL)
	}

	cutoff := e.now().Add(-maxAge)
	res, err := e.backend.SweepOlderThan(ctx, cutoff)
	e.metricInc(MetricSweepRuns)
	e.metrics.Add(MetricSweptRecords, uint64(res.Records))
	e.metrics.Add(MetricSweptFamilies, uint64(res.Families))
	if err != nil {
		e.metricInc(MetricStoreUnavailable)
		e.log.Error().Err(err).Time("cutoff", cutoff).Msg("sweep failed")
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return res, err
		}
		return res, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.log.Debug().
		Time("cutoff", cutoff).
		Int("records", res.Records).
		Int("families", res.Families).
		Msg("sweep complete")
	return res, nil
}

// Ping reports backend round-trip latency.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	if e == nil || e.backend == nil {
		return 0, ErrEngineNotReady
	}
	d, err := e.backend.Ping(ctx)
	if err != nil {
		return d, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return d, nil
}

// NoteRateLimited records a request throttled before reaching the engine.
func (e *Engine) NoteRateLimited(ctx context.Context, scope string) {
	if e == nil {
		return
	}
	e.metricInc(MetricRateLimited)
	e.emitAudit(ctx, auditEventRateLimited, false, auditFields{}, nil, func() map[string]string {
		return map[string]string{"scope": scope}
	})
}
