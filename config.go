package goRotate

import (
	"errors"
	"time"

	"github.com/MrEthical07/goRotate/device"
)

// Config is the engine configuration. It is copied by Builder.WithConfig and treated as
// immutable afterwards.
type Config struct {
	JWT           JWTConfig
	Rotation      RotationConfig
	DeviceBinding DeviceBindingConfig
	Sweeper       SweeperConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
	Security      SecurityConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig holds signing keys and token lifetimes.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte // derived from PrivateKey when empty
	Issuer        string
	Audience      string
	KeyID         string
	VerifyKeys    map[string][]byte
	MaxFutureIAT  time.Duration
}

/*
====================================
ROTATION CONFIG
====================================
*/

// RotationConfig controls reuse detection and fingerprinting.
type RotationConfig struct {
	// GenerationTolerance is how far a presented generation may drift from the family's
	// current generation before the family is revoked.
	GenerationTolerance uint64
	// FingerprintKey keys the HMAC binding user, device and family together.
	FingerprintKey []byte
	// LockStripes sizes the in-process per-family lock table.
	LockStripes int
}

// DeviceBindingConfig compares the request device with the token device on refresh.
type DeviceBindingConfig struct {
	Detect  bool
	Enforce bool
}

// SweeperConfig controls the background expiry sweeper.
type SweeperConfig struct {
	Enabled      bool
	Interval     time.Duration
	SafetyMargin time.Duration
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles counters and latency histograms.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig toggles production hardening checks in Validate.
type SecurityConfig struct {
	ProductionMode bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the baseline configuration. Keys are left empty on purpose:
// Build fails until both a signing key and a fingerprint key are supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "ed25519",
			MaxFutureIAT:  10 * time.Minute,
		},
		Rotation: RotationConfig{
			GenerationTolerance: 2,
			LockStripes:         256,
		},
		Sweeper: SweeperConfig{
			Enabled:      false,
			Interval:     time.Hour,
			SafetyMargin: time.Hour,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.Rotation.FingerprintKey = cloneBytes(cfg.Rotation.FingerprintKey)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// maxGenerationTolerance bounds how much replay window a deployment can open up.
const maxGenerationTolerance = 8

// Validate checks the configuration and fails fast on missing secrets.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.AccessTTL >= c.JWT.RefreshTTL {
		return errors.New("JWT AccessTTL must be shorter than RefreshTTL")
	}
	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return errors.New("unsupported JWT signing method")
	}
	if len(c.JWT.PrivateKey) == 0 {
		return errors.New("JWT PrivateKey is required")
	}
	if c.JWT.MaxFutureIAT < 0 || c.JWT.MaxFutureIAT > 24*time.Hour {
		return errors.New("JWT MaxFutureIAT must be between 0 and 24h")
	}

	// Rotation
	if len(c.Rotation.FingerprintKey) < device.MinKeySize {
		return errors.New("Rotation FingerprintKey must be >= 16 bytes")
	}
	if c.Rotation.GenerationTolerance > maxGenerationTolerance {
		return errors.New("Rotation GenerationTolerance must be <= 8")
	}
	if c.Rotation.LockStripes < 0 {
		return errors.New("Rotation LockStripes must be >= 0")
	}

	// Device binding
	if c.DeviceBinding.Enforce && !c.DeviceBinding.Detect {
		return errors.New("DeviceBinding Enforce requires Detect")
	}

	// Sweeper
	if c.Sweeper.Enabled {
		if c.Sweeper.Interval <= 0 {
			return errors.New("Sweeper Interval must be > 0 when enabled")
		}
		if c.Sweeper.SafetyMargin < 0 {
			return errors.New("Sweeper SafetyMargin must be >= 0")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	if c.Security.ProductionMode {
		if c.JWT.AccessTTL > 15*time.Minute {
			return errors.New("ProductionMode requires JWT AccessTTL <= 15m")
		}
		if c.JWT.RefreshTTL > 30*24*time.Hour {
			return errors.New("ProductionMode requires JWT RefreshTTL <= 30d")
		}
		if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) < 32 {
			return errors.New("ProductionMode requires hs256 key length >= 256 bits")
		}
		if len(c.Rotation.FingerprintKey) < 32 {
			return errors.New("ProductionMode requires FingerprintKey >= 256 bits")
		}
		if c.Rotation.GenerationTolerance > 2 {
			return errors.New("ProductionMode requires GenerationTolerance <= 2")
		}
		if c.JWT.Issuer == "" || c.JWT.Audience == "" {
			return errors.New("ProductionMode requires JWT Issuer and Audience")
		}
	}

	return nil
}
