package goRotate

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/MrEthical07/goRotate/device"
	"github.com/MrEthical07/goRotate/internal/audit"
	"github.com/MrEthical07/goRotate/internal/flows"
	"github.com/MrEthical07/goRotate/internal/keylock"
	"github.com/MrEthical07/goRotate/jwt"
	"github.com/MrEthical07/goRotate/store"
	"github.com/MrEthical07/goRotate/store/redisstore"
)

// Builder assembles an Engine. A Builder can be built once.
type Builder struct {
	config  Config
	backend store.Backend

	logger    zerolog.Logger
	auditSink AuditSink
	now       func() time.Time
	newID     func() string

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
		logger: zerolog.Nop(),
	}
}

// WithConfig sets the engine configuration. The config is copied, including key bytes.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithBackend sets the storage backend (memory, Redis or Postgres).
func (b *Builder) WithBackend(backend store.Backend) *Builder {
	b.backend = backend
	return b
}

// WithRedis is shorthand for WithBackend(redisstore.New(client, opts...)). The client
// must address a single primary; Redis Cluster is not supported.
func (b *Builder) WithRedis(client *redis.Client, opts ...redisstore.Option) *Builder {
	b.backend = redisstore.New(client, opts...)
	return b
}

// WithLogger sets the logger for security events. The default discards output.
func (b *Builder) WithLogger(log zerolog.Logger) *Builder {
	b.logger = log
	return b
}

// WithAuditSink sets where audit events go when Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides time.Now for token timestamps, record times and sweeping.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithIDGenerator overrides uuid.NewString for family and token ids.
func (b *Builder) WithIDGenerator(newID func() string) *Builder {
	b.newID = newID
	return b
}

// WithMetricsEnabled overrides Config.Metrics.Enabled.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires the engine. With Sweeper.Enabled a
// background sweeper is started; Engine.Close stops it.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.backend == nil {
		return nil, errors.New("storage backend required")
	}

	now := b.now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	newID := b.newID
	if newID == nil {
		newID = uuid.NewString
	}

	codec, err := jwt.NewCodec(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		KeyID:         cfg.JWT.KeyID,
		VerifyKeys:    cfg.JWT.VerifyKeys,
		MaxFutureIAT:  cfg.JWT.MaxFutureIAT,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	binder, err := device.NewBinder(cfg.Rotation.FingerprintKey)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:  cfg,
		backend: b.backend,
		codec:   codec,
		log:     b.logger.With().Str("component", "gorotate").Logger(),
		now:     now,
		metrics: NewMetrics(cfg.Metrics),
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink),
	}

	engine.flows = flows.New(flows.Deps{
		Login: flows.LoginDeps{
			Now:         now,
			NewID:       newID,
			Tokens:      codec,
			Fingerprint: binder,
			Store:       b.backend,
		},
		Refresh: flows.RefreshDeps{
			Now:                  now,
			NewID:                newID,
			ParseRefresh:         codec.ParseRefresh,
			Tokens:               codec,
			Fingerprint:          binder,
			Store:                b.backend,
			Locks:                keylock.New(cfg.Rotation.LockStripes),
			GenerationTolerance:  cfg.Rotation.GenerationTolerance,
			DeviceIDFromContext:  deviceIDFromContext,
			DetectDeviceChange:   cfg.DeviceBinding.Detect,
			EnforceDeviceBinding: cfg.DeviceBinding.Enforce,
		},
		Revoke: flows.RevokeDeps{
			Now:                       now,
			ParseRefreshForRevocation: codec.ParseRefreshForRevocation,
			Store:                     b.backend,
		},
		Validate: flows.ValidateDeps{
			ParseAccess: codec.ParseAccess,
		},
	})

	if cfg.Sweeper.Enabled {
		sweeper := NewSweeper(engine, cfg.Sweeper)
		if err := sweeper.Start(context.Background()); err != nil {
			engine.Close()
			return nil, err
		}
		engine.sweeper = sweeper
	}

	b.built = true

	return engine, nil
}
