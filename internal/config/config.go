// Package config reads the reference server's settings from the environment,
// optionally preloaded from a .env file.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	goRotate "github.com/MrEthical07/goRotate"
)

// Server is everything cmd/rotated needs to start.
type Server struct {
	Addr            string
	Engine          goRotate.Config
	DatabaseURL     string
	RedisAddr       string
	RedisPassword   string
	Users           string
	InsecureCookies bool
	LoginLimit      int
	RefreshLimit    int
	LogLevel        zerolog.Level
	LogJSON         bool
}

// Load reads files into the process environment when they exist and then parses it.
// Variables already set win over file values.
func Load(files ...string) (*Server, error) {
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) > 0 {
		if err := godotenv.Load(existing...); err != nil {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}
	return Parse(os.LookupEnv)
}

// Parse builds a Server from lookup. Missing signing or fingerprint keys are errors;
// there is no ephemeral fallback.
func Parse(lookup func(string) (string, bool)) (*Server, error) {
	e := env{lookup: lookup}

	cfg := goRotate.DefaultConfig()
	cfg.JWT.SigningMethod = strings.ToLower(e.str("ROTATE_SIGNING_METHOD", cfg.JWT.SigningMethod))
	cfg.JWT.Issuer = e.str("ROTATE_ISSUER", "")
	cfg.JWT.Audience = e.str("ROTATE_AUDIENCE", "")
	cfg.JWT.KeyID = e.str("ROTATE_KEY_ID", "")
	cfg.JWT.AccessTTL = e.duration("ROTATE_ACCESS_TTL", cfg.JWT.AccessTTL)
	cfg.JWT.RefreshTTL = e.duration("ROTATE_REFRESH_TTL", cfg.JWT.RefreshTTL)

	switch {
	case e.has("ROTATE_SIGNING_KEY_FILE"):
		pem, err := os.ReadFile(e.str("ROTATE_SIGNING_KEY_FILE", ""))
		if err != nil {
			return nil, fmt.Errorf("read signing key: %w", err)
		}
		cfg.JWT.PrivateKey = pem
	case e.has("ROTATE_SIGNING_KEY"):
		cfg.JWT.PrivateKey = e.base64("ROTATE_SIGNING_KEY")
	default:
		return nil, errors.New("ROTATE_SIGNING_KEY or ROTATE_SIGNING_KEY_FILE is required")
	}
	if e.has("ROTATE_PUBLIC_KEY") {
		cfg.JWT.PublicKey = e.base64("ROTATE_PUBLIC_KEY")
	}

	if !e.has("ROTATE_FINGERPRINT_KEY") {
		return nil, errors.New("ROTATE_FINGERPRINT_KEY is required")
	}
	cfg.Rotation.FingerprintKey = e.base64("ROTATE_FINGERPRINT_KEY")
	cfg.Rotation.GenerationTolerance = uint64(e.integer("ROTATE_GENERATION_TOLERANCE", int(cfg.Rotation.GenerationTolerance)))

	switch mode := e.str("ROTATE_DEVICE_BINDING", "off"); mode {
	case "off":
	case "detect":
		cfg.DeviceBinding.Detect = true
	case "enforce":
		cfg.DeviceBinding.Detect = true
		cfg.DeviceBinding.Enforce = true
	default:
		e.fail("ROTATE_DEVICE_BINDING", fmt.Errorf("unknown mode %q", mode))
	}

	if interval := e.duration("ROTATE_SWEEP_INTERVAL", time.Hour); interval > 0 {
		cfg.Sweeper.Enabled = true
		cfg.Sweeper.Interval = interval
	}
	cfg.Sweeper.SafetyMargin = e.duration("ROTATE_SWEEP_MARGIN", cfg.Sweeper.SafetyMargin)
	cfg.Audit.Enabled = e.boolean("ROTATE_AUDIT", true)
	cfg.Security.ProductionMode = e.boolean("ROTATE_PRODUCTION", false)

	level, err := zerolog.ParseLevel(e.str("ROTATE_LOG_LEVEL", "info"))
	if err != nil {
		e.fail("ROTATE_LOG_LEVEL", err)
	}

	s := &Server{
		Addr:            e.str("ROTATE_ADDR", ":8080"),
		Engine:          cfg,
		DatabaseURL:     e.str("ROTATE_DATABASE_URL", ""),
		RedisAddr:       e.str("ROTATE_REDIS_ADDR", ""),
		RedisPassword:   e.str("ROTATE_REDIS_PASSWORD", ""),
		Users:           e.str("ROTATE_USERS", ""),
		InsecureCookies: e.boolean("ROTATE_INSECURE_COOKIES", false),
		LoginLimit:      e.integer("ROTATE_LOGIN_LIMIT", 5),
		RefreshLimit:    e.integer("ROTATE_REFRESH_LIMIT", 60),
		LogLevel:        level,
		LogJSON:         e.boolean("ROTATE_LOG_JSON", false),
	}
	if len(e.errs) > 0 {
		return nil, errors.Join(e.errs...)
	}
	if err := s.Engine.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

type env struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *env) fail(key string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
}

func (e *env) has(key string) bool {
	v, ok := e.lookup(key)
	return ok && strings.TrimSpace(v) != ""
}

func (e *env) str(key, def string) string {
	if v, ok := e.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (e *env) integer(key string, def int) int {
	if !e.has(key) {
		return def
	}
	n, err := strconv.Atoi(e.str(key, ""))
	if err != nil {
		e.fail(key, err)
		return def
	}
	return n
}

func (e *env) boolean(key string, def bool) bool {
	if !e.has(key) {
		return def
	}
	b, err := strconv.ParseBool(e.str(key, ""))
	if err != nil {
		e.fail(key, err)
		return def
	}
	return b
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	if !e.has(key) {
		return def
	}
	d, err := time.ParseDuration(e.str(key, ""))
	if err != nil {
		e.fail(key, err)
		return def
	}
	return d
}

func (e *env) base64(key string) []byte {
	raw := e.str(key, "")
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(raw); err == nil {
			return b
		}
	}
	e.fail(key, errors.New("not valid base64"))
	return nil
}
