package goRotate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goRotate/jwt"
	"github.com/MrEthical07/goRotate/store"
	"github.com/MrEthical07/goRotate/store/memory"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Unix(1_700_000_000, 0).UTC()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.JWT.Issuer = "gorotate-test"
	cfg.JWT.Audience = "api"
	cfg.Rotation.FingerprintKey = []byte("fedcba9876543210fedcba9876543210")
	return cfg
}

func newTestEngine(t testing.TB, cfg Config, backend store.Backend, clock *testClock) *Engine {
	t.Helper()
	b := New().WithConfig(cfg).WithBackend(backend)
	if clock != nil {
		b = b.WithClock(clock.Now)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func newMemoryEngine(t testing.TB, cfg Config) (*Engine, *memory.Store, *testClock) {
	t.Helper()
	clock := newTestClock()
	backend := memory.New()
	return newTestEngine(t, cfg, backend, clock), backend, clock
}

func newRedisClient(t testing.TB) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

func mustLogin(t testing.TB, e *Engine, userID, deviceID string) *TokenPair {
	t.Helper()
	pair, err := e.Login(context.Background(), LoginRequest{UserID: userID, Role: "user", DeviceID: deviceID})
	if err != nil {
		t.Fatalf("login %s: %v", userID, err)
	}
	return pair
}

func mustRefresh(t testing.TB, e *Engine, refresh string) *TokenPair {
	t.Helper()
	pair, err := e.Refresh(context.Background(), refresh)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	return pair
}

func familyRevoked(t testing.TB, backend store.Ledger, familyID string) bool {
	t.Helper()
	f, err := backend.GetFamily(context.Background(), familyID)
	if err != nil {
		t.Fatalf("get family %s: %v", familyID, err)
	}
	return f.Revoked
}

// RefreshClaims decodes the pair's refresh token with the engine's codec.
func (p *TokenPair) RefreshClaims(t testing.TB, e *Engine) *jwt.RefreshClaims {
	t.Helper()
	claims, err := e.codec.ParseRefreshForRevocation(p.RefreshToken)
	if err != nil {
		t.Fatalf("parse refresh: %v", err)
	}
	return claims
}
