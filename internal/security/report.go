package security

import "time"

// Report is the effective security posture of an engine instance.
type Report struct {
	ProductionMode      bool
	SigningAlgorithm    string
	AccessTTL           time.Duration
	RefreshTTL          time.Duration
	IssuerBound         bool
	AudienceBound       bool
	KeyRotation         bool
	GenerationTolerance uint64
	FingerprintStrong   bool
	DeviceBinding       string // "off", "detect" or "enforce"
	SweeperEnabled      bool
	SweepMaxAge         time.Duration
	AuditEnabled        bool
	Backend             string
	// Warnings lists settings that are valid but weaker than recommended.
	Warnings []string
}

// ReportInput carries the raw configuration values BuildReport evaluates.
type ReportInput struct {
	ProductionMode       bool
	SigningAlgorithm     string
	AccessTTL            time.Duration
	RefreshTTL           time.Duration
	Issuer               string
	Audience             string
	KeyRotation          bool
	GenerationTolerance  uint64
	FingerprintKeyBytes  int
	DeviceBindingDetect  bool
	DeviceBindingEnforce bool
	SweeperEnabled       bool
	SweepMaxAge          time.Duration
	AuditEnabled         bool
	Backend              string
}

// BuildReport derives the report and its warnings from input.
func BuildReport(input ReportInput) Report {
	binding := "off"
	switch {
	case input.DeviceBindingEnforce:
		binding = "enforce"
	case input.DeviceBindingDetect:
		binding = "detect"
	}

	r := Report{
		ProductionMode:      input.ProductionMode,
		SigningAlgorithm:    input.SigningAlgorithm,
		AccessTTL:           input.AccessTTL,
		RefreshTTL:          input.RefreshTTL,
		IssuerBound:         input.Issuer != "",
		AudienceBound:       input.Audience != "",
		KeyRotation:         input.KeyRotation,
		GenerationTolerance: input.GenerationTolerance,
		FingerprintStrong:   input.FingerprintKeyBytes >= 32,
		DeviceBinding:       binding,
		SweeperEnabled:      input.SweeperEnabled,
		SweepMaxAge:         input.SweepMaxAge,
		AuditEnabled:        input.AuditEnabled,
		Backend:             input.Backend,
	}

	if input.AccessTTL > 15*time.Minute {
		r.Warnings = append(r.Warnings, "access tokens live longer than 15m")
	}
	if input.GenerationTolerance > 2 {
		r.Warnings = append(r.Warnings, "generation tolerance above 2 widens the replay window")
	}
	if !r.FingerprintStrong {
		r.Warnings = append(r.Warnings, "fingerprint key shorter than 256 bits")
	}
	if !input.SweeperEnabled {
		r.Warnings = append(r.Warnings, "expired records are never swept")
	}
	if input.Backend == "memory" {
		r.Warnings = append(r.Warnings, "memory backend loses all sessions on restart")
	}
	return r
}
