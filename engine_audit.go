package goRotate

import (
	"context"
	"errors"

	"github.com/MrEthical07/goRotate/internal/audit"
)

const (
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventRefreshSuccess        = "refresh_success"
	auditEventRefreshInvalid        = "refresh_invalid"
	auditEventRefreshUnknownToken   = "refresh_unknown_token"
	auditEventRefreshRevokedFamily  = "refresh_revoked_family"
	auditEventRefreshReuseDetected  = "refresh_reuse_detected"
	auditEventRefreshFingerprint    = "refresh_fingerprint_mismatch"
	auditEventRefreshGeneration     = "refresh_generation_mismatch"
	auditEventDeviceAnomaly         = "device_anomaly_detected"
	auditEventDeviceBindingRejected = "device_binding_rejected"
	auditEventLogout                = "logout"
	auditEventLogoutAll             = "logout_all"
	auditEventFamilyRevoked         = "family_revoked"
	auditEventRateLimited           = "rate_limit_triggered"
)

// AuditErrorCode is the stable error string carried in AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrInvalidToken          AuditErrorCode = "invalid_token"
	auditErrFamilyRevoked         AuditErrorCode = "family_revoked"
	auditErrReuseDetected         AuditErrorCode = "reuse_detected"
	auditErrGenerationMismatch    AuditErrorCode = "generation_mismatch"
	auditErrTokenNotFound         AuditErrorCode = "token_not_found"
	auditErrDeviceBindingRejected AuditErrorCode = "device_binding_rejected"
	auditErrInvalidRequest        AuditErrorCode = "invalid_request"
	auditErrUnavailable           AuditErrorCode = "backend_unavailable"
	auditErrInternal              AuditErrorCode = "internal_error"
)

type auditFields struct {
	userID     string
	familyID   string
	tokenID    string
	generation uint64
	deviceID   string
}

func alarm() map[string]string {
	return map[string]string{"severity": audit.SeverityAlarm}
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	fields auditFields,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:  e.now().UTC(),
		EventType:  eventType,
		UserID:     fields.userID,
		FamilyID:   fields.familyID,
		TokenID:    fields.tokenID,
		Generation: fields.generation,
		DeviceID:   fields.deviceID,
		IP:         clientIPFromContext(ctx),
		UserAgent:  userAgentFromContext(ctx),
		Success:    success,
		Metadata:   metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	// ErrTokenNotFound travels wrapped with ErrFamilyRevoked; report the specific cause.
	switch {
	case errors.Is(err, ErrTokenNotFound):
		return auditErrTokenNotFound
	case errors.Is(err, ErrInvalidToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrFamilyRevoked):
		return auditErrFamilyRevoked
	case errors.Is(err, ErrReuseDetected):
		return auditErrReuseDetected
	case errors.Is(err, ErrGenerationMismatch):
		return auditErrGenerationMismatch
	case errors.Is(err, ErrDeviceBindingRejected):
		return auditErrDeviceBindingRejected
	case errors.Is(err, ErrInvalidRequest):
		return auditErrInvalidRequest
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
