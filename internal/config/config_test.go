package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func lookup(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func baseVars() map[string]string {
	return map[string]string{
		"ROTATE_SIGNING_METHOD":  "hs256",
		"ROTATE_SIGNING_KEY":     base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32))),
		"ROTATE_FINGERPRINT_KEY": base64.StdEncoding.EncodeToString([]byte(strings.Repeat("f", 32))),
	}
}

func TestParseDefaults(t *testing.T) {
	s, err := Parse(lookup(baseVars()))
	require.NoError(t, err)
	require.Equal(t, ":8080", s.Addr)
	require.Equal(t, 15*time.Minute, s.Engine.JWT.AccessTTL)
	require.True(t, s.Engine.Sweeper.Enabled)
	require.True(t, s.Engine.Audit.Enabled)
	require.False(t, s.Engine.DeviceBinding.Detect)
	require.Equal(t, zerolog.InfoLevel, s.LogLevel)
	require.Equal(t, 5, s.LoginLimit)
}

func TestParseOverrides(t *testing.T) {
	vars := baseVars()
	vars["ROTATE_ACCESS_TTL"] = "5m"
	vars["ROTATE_DEVICE_BINDING"] = "enforce"
	vars["ROTATE_SWEEP_INTERVAL"] = "0"
	vars["ROTATE_GENERATION_TOLERANCE"] = "0"
	vars["ROTATE_REDIS_ADDR"] = "localhost:6379"
	vars["ROTATE_LOG_LEVEL"] = "debug"

	s, err := Parse(lookup(vars))
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, s.Engine.JWT.AccessTTL)
	require.True(t, s.Engine.DeviceBinding.Enforce)
	require.False(t, s.Engine.Sweeper.Enabled)
	require.Zero(t, s.Engine.Rotation.GenerationTolerance)
	require.Equal(t, "localhost:6379", s.RedisAddr)
	require.Equal(t, zerolog.DebugLevel, s.LogLevel)
}

func TestParseFailsFastOnMissingSecrets(t *testing.T) {
	for _, key := range []string{"ROTATE_SIGNING_KEY", "ROTATE_FINGERPRINT_KEY"} {
		vars := baseVars()
		delete(vars, key)
		_, err := Parse(lookup(vars))
		require.ErrorContains(t, err, key)
	}
}

func TestParseCollectsBadValues(t *testing.T) {
	vars := baseVars()
	vars["ROTATE_ACCESS_TTL"] = "soon"
	vars["ROTATE_DEVICE_BINDING"] = "strict"
	_, err := Parse(lookup(vars))
	require.ErrorContains(t, err, "ROTATE_ACCESS_TTL")
	require.ErrorContains(t, err, "ROTATE_DEVICE_BINDING")
}

func TestParseRejectsShortFingerprintKey(t *testing.T) {
	vars := baseVars()
	vars["ROTATE_FINGERPRINT_KEY"] = base64.StdEncoding.EncodeToString([]byte("short"))
	_, err := Parse(lookup(vars))
	require.Error(t, err)
}

func TestLoadReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	var b strings.Builder
	for k, v := range baseVars() {
		b.WriteString(k + "=" + v + "\n")
	}
	b.WriteString("ROTATE_ADDR=:9999\n")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))

	for k := range baseVars() {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
	t.Setenv("ROTATE_ADDR", "")
	require.NoError(t, os.Unsetenv("ROTATE_ADDR"))

	s, err := Load(path, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	require.Equal(t, ":9999", s.Addr)
}
