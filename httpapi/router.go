package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	goRotate "github.com/MrEthical07/goRotate"
	"github.com/MrEthical07/goRotate/internal/rate"
)

// UserVerifier checks login credentials. Password storage lives outside the engine.
type UserVerifier interface {
	VerifyCredentials(ctx context.Context, email, password string) (userID, role string, err error)
}

// Config tunes the HTTP surface. The zero value is usable except for Engine and Users.
type Config struct {
	// CookieName defaults to "rt".
	CookieName string
	// InsecureCookies drops the Secure attribute for plain-HTTP local development.
	InsecureCookies bool
	// Limiter throttles login and refresh. Nil disables rate limiting.
	Limiter *rate.Limiter
	// Metrics is mounted on GET /metrics when set.
	Metrics http.Handler
	Log     zerolog.Logger
}

const (
	cookiePath        = "/auth"
	defaultCookieName = "rt"
)

type handler struct {
	engine *goRotate.Engine
	users  UserVerifier
	cfg    Config
}

// NewRouter returns a gin engine serving the auth routes.
func NewRouter(engine *goRotate.Engine, users UserVerifier, cfg Config) *gin.Engine {
	if cfg.CookieName == "" {
		cfg.CookieName = defaultCookieName
	}
	h := &handler{engine: engine, users: users, cfg: cfg}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(cfg.Log))

	auth := r.Group(cookiePath, noStore)
	auth.POST("/login", h.login)
	auth.POST("/refresh", h.refresh)
	auth.POST("/logout", h.logout)

	bearer := auth.Group("", bearerGuard(engine))
	bearer.POST("/logout-all", h.logoutAll)
	bearer.GET("/me", h.me)

	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics))
	}
	return r
}

func noStore(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.Header("X-Content-Type-Options", "nosniff")
	c.Next()
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("ip", c.ClientIP()).
			Msg("request")
	}
}

func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}
