package goRotate

import "github.com/MrEthical07/goRotate/internal/security"

// SecurityReport summarises the effective security posture of an Engine.
type SecurityReport = security.Report

// SecurityReport describes the engine as configured, with warnings for weak settings.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	return security.BuildReport(security.ReportInput{
		ProductionMode:       e.config.Security.ProductionMode,
		SigningAlgorithm:     e.config.JWT.SigningMethod,
		AccessTTL:            e.config.JWT.AccessTTL,
		RefreshTTL:           e.config.JWT.RefreshTTL,
		Issuer:               e.config.JWT.Issuer,
		Audience:             e.config.JWT.Audience,
		KeyRotation:          len(e.config.JWT.VerifyKeys) > 0,
		GenerationTolerance:  e.config.Rotation.GenerationTolerance,
		FingerprintKeyBytes:  len(e.config.Rotation.FingerprintKey),
		DeviceBindingDetect:  e.config.DeviceBinding.Detect,
		DeviceBindingEnforce: e.config.DeviceBinding.Enforce,
		SweeperEnabled:       e.config.Sweeper.Enabled,
		SweepMaxAge:          e.config.JWT.RefreshTTL + e.config.Sweeper.SafetyMargin,
		AuditEnabled:         e.config.Audit.Enabled,
		Backend:              backendName(e.backend),
	})
}

func backendName(b interface{}) string {
	if b == nil {
		return ""
	}
	if n, ok := b.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "custom"
}
