package goRotate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "test config valid", mutate: func(*Config) {}},
		{name: "access not shorter than refresh", mutate: func(c *Config) { c.JWT.AccessTTL = c.JWT.RefreshTTL }, wantErr: true},
		{name: "missing signing key", mutate: func(c *Config) { c.JWT.PrivateKey = nil }, wantErr: true},
		{name: "unknown signing method", mutate: func(c *Config) { c.JWT.SigningMethod = "rs256" }, wantErr: true},
		{name: "short fingerprint key", mutate: func(c *Config) { c.Rotation.FingerprintKey = []byte("short") }, wantErr: true},
		{name: "tolerance above bound", mutate: func(c *Config) { c.Rotation.GenerationTolerance = 9 }, wantErr: true},
		{name: "tolerance at bound", mutate: func(c *Config) { c.Rotation.GenerationTolerance = 8 }},
		{name: "strict tolerance", mutate: func(c *Config) { c.Rotation.GenerationTolerance = 0 }},
		{name: "enforce without detect", mutate: func(c *Config) { c.DeviceBinding.Enforce = true }, wantErr: true},
		{name: "sweeper without interval", mutate: func(c *Config) {
			c.Sweeper.Enabled = true
			c.Sweeper.Interval = 0
		}, wantErr: true},
		{name: "audit without buffer", mutate: func(c *Config) {
			c.Audit.Enabled = true
			c.Audit.BufferSize = 0
		}, wantErr: true},
		{name: "production valid", mutate: func(c *Config) { c.Security.ProductionMode = true }},
		{name: "production long access", mutate: func(c *Config) {
			c.Security.ProductionMode = true
			c.JWT.AccessTTL = time.Hour
		}, wantErr: true},
		{name: "production wide tolerance", mutate: func(c *Config) {
			c.Security.ProductionMode = true
			c.Rotation.GenerationTolerance = 3
		}, wantErr: true},
		{name: "production weak fingerprint key", mutate: func(c *Config) {
			c.Security.ProductionMode = true
			c.Rotation.FingerprintKey = []byte("0123456789abcdef")
		}, wantErr: true},
		{name: "production unbound audience", mutate: func(c *Config) {
			c.Security.ProductionMode = true
			c.JWT.Audience = ""
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestDefaultConfigNeedsKeys(t *testing.T) {
	cfg := DefaultConfig()
	require.Error(t, cfg.Validate())
	require.Equal(t, 15*time.Minute, cfg.JWT.AccessTTL)
	require.Equal(t, 7*24*time.Hour, cfg.JWT.RefreshTTL)
	require.EqualValues(t, 2, cfg.Rotation.GenerationTolerance)
}

func TestBuilderCopiesKeys(t *testing.T) {
	cfg := testConfig()
	b := New().WithConfig(cfg)
	cfg.Rotation.FingerprintKey[0] = 'X'
	require.NotEqual(t, cfg.Rotation.FingerprintKey[0], b.config.Rotation.FingerprintKey[0])
}
