package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	goRotate "github.com/MrEthical07/goRotate"
	"github.com/MrEthical07/goRotate/internal/rate"
	"github.com/MrEthical07/goRotate/internal/userdir"
	"github.com/MrEthical07/goRotate/password"
	"github.com/MrEthical07/goRotate/store/memory"
)

type fixture struct {
	engine *goRotate.Engine
	router *gin.Engine
	mr     *miniredis.Miniredis
	rdb    *redis.Client
}

func newFixture(t *testing.T, limits rate.Config) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := goRotate.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Rotation.FingerprintKey = []byte("fedcba9876543210fedcba9876543210")
	engine, err := goRotate.New().WithConfig(cfg).WithBackend(memory.New()).Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	hasher, err := password.NewHasher(password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	require.NoError(t, err)
	users, err := userdir.New(hasher)
	require.NoError(t, err)
	require.NoError(t, users.Add("alice@example.com", "u1", "admin", "correct-horse"))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	router := NewRouter(engine, users, Config{
		Limiter: rate.New(rdb, limits),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) }),
	})
	return &fixture{engine: engine, router: router, mr: mr, rdb: rdb}
}

func (f *fixture) do(t *testing.T, method, path, body string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "test-agent")
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func refreshCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == defaultCookieName {
			return c
		}
	}
	t.Fatal("refresh cookie not set")
	return nil
}

func withCookie(c *http.Cookie) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value}) }
}

func withBearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func accessToken(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.AccessToken)
	return body.AccessToken
}

func login(t *testing.T, f *fixture) *httptest.ResponseRecorder {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/auth/login", `{"email":"alice@example.com","password":"correct-horse"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return rec
}

func TestLoginSetsHardenedCookie(t *testing.T) {
	f := newFixture(t, rate.Config{})
	rec := login(t, f)

	c := refreshCookie(t, rec)
	require.True(t, c.HttpOnly)
	require.True(t, c.Secure)
	require.Equal(t, http.SameSiteStrictMode, c.SameSite)
	require.Equal(t, "/auth", c.Path)
	require.NotContains(t, rec.Body.String(), c.Value)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	me := f.do(t, http.MethodGet, "/auth/me", "", withBearer(accessToken(t, rec)))
	require.Equal(t, http.StatusOK, me.Code)
	require.JSONEq(t, `{"userId":"u1","role":"admin","sessionId":"`+mustSession(t, f, accessToken(t, rec))+`"}`, me.Body.String())
}

func mustSession(t *testing.T, f *fixture, token string) string {
	t.Helper()
	res, err := f.engine.ValidateAccess(t.Context(), token)
	require.NoError(t, err)
	return res.SessionID
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newFixture(t, rate.Config{})
	rec := f.do(t, http.MethodPost, "/auth/login", `{"email":"alice@example.com","password":"nope"}`, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/auth/login", `{"email":"alice@example.com"}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefreshRotatesAndReplayKillsFamily(t *testing.T) {
	f := newFixture(t, rate.Config{})
	r0 := refreshCookie(t, login(t, f))

	rec := f.do(t, http.MethodPost, "/auth/refresh", "", withCookie(r0))
	require.Equal(t, http.StatusOK, rec.Code)
	r1 := refreshCookie(t, rec)
	require.NotEqual(t, r0.Value, r1.Value)

	replay := f.do(t, http.MethodPost, "/auth/refresh", "", withCookie(r0))
	require.Equal(t, http.StatusUnauthorized, replay.Code)
	require.JSONEq(t, `{"error":"unauthorized"}`, replay.Body.String())
	require.Equal(t, -1, refreshCookie(t, replay).MaxAge)

	// The legitimate holder is logged out as well.
	rec = f.do(t, http.MethodPost, "/auth/refresh", "", withCookie(r1))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshWithoutCookie(t *testing.T) {
	f := newFixture(t, rate.Config{})
	rec := f.do(t, http.MethodPost, "/auth/refresh", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutAlwaysSucceeds(t *testing.T) {
	f := newFixture(t, rate.Config{})
	r0 := refreshCookie(t, login(t, f))

	for _, mutate := range []func(*http.Request){
		withCookie(r0),
		withCookie(r0),
		withCookie(&http.Cookie{Name: defaultCookieName, Value: "garbage"}),
		nil,
	} {
		rec := f.do(t, http.MethodPost, "/auth/logout", "", mutate)
		require.Equal(t, http.StatusOK, rec.Code)
		require.JSONEq(t, `{"success":true}`, rec.Body.String())
	}

	rec := f.do(t, http.MethodPost, "/auth/refresh", "", withCookie(r0))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutAll(t *testing.T) {
	f := newFixture(t, rate.Config{})
	first := login(t, f)
	second := refreshCookie(t, login(t, f))

	rec := f.do(t, http.MethodPost, "/auth/logout-all", "", withBearer(accessToken(t, first)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"success":true,"revoked":2}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/auth/refresh", "", withCookie(second))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/auth/logout-all", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginRateLimited(t *testing.T) {
	f := newFixture(t, rate.Config{MaxLoginAttempts: 2, LoginWindow: time.Minute})
	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodPost, "/auth/login", `{"email":"alice@example.com","password":"nope"}`, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := f.do(t, http.MethodPost, "/auth/login", `{"email":"alice@example.com","password":"correct-horse"}`, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, uint64(1), f.engine.MetricsSnapshot().Counters[goRotate.MetricRateLimited])

	f.mr.FastForward(2 * time.Minute)
	login(t, f)
}

func TestRateLimiterOutageFailsClosed(t *testing.T) {
	f := newFixture(t, rate.Config{MaxRefreshAttempts: 5, RefreshWindow: time.Minute})
	require.NoError(t, f.rdb.Close())
	rec := f.do(t, http.MethodPost, "/auth/refresh", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	f := newFixture(t, rate.Config{})
	rec := f.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}
