package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	goRotate "github.com/MrEthical07/goRotate"
	"github.com/MrEthical07/goRotate/device"
	"github.com/MrEthical07/goRotate/internal/rate"
	"github.com/MrEthical07/goRotate/middleware"
)

type loginBody struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type tokenResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// requestContext carries client IP, user agent and derived device id into the engine.
func requestContext(c *gin.Context) context.Context {
	ctx := c.Request.Context()
	ctx = goRotate.WithClientIP(ctx, c.ClientIP())
	ctx = goRotate.WithUserAgent(ctx, c.Request.UserAgent())
	return goRotate.WithDeviceID(ctx, device.ID(device.MetadataFromRequest(c.Request)))
}

func (h *handler) login(c *gin.Context) {
	var body loginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	ctx := requestContext(c)
	ip := c.ClientIP()

	if !h.allow(c, ctx, "login", func() error { return h.cfg.Limiter.CheckLogin(ctx, body.Email, ip) }) {
		return
	}

	userID, role, err := h.users.VerifyCredentials(ctx, body.Email, body.Password)
	if err != nil {
		if h.cfg.Limiter != nil {
			if lerr := h.cfg.Limiter.IncrementLogin(ctx, body.Email, ip); lerr != nil && !errors.Is(lerr, rate.ErrRateLimited) {
				h.cfg.Log.Warn().Err(lerr).Msg("login attempt not counted")
			}
		}
		unauthorized(c)
		return
	}
	if h.cfg.Limiter != nil {
		if err := h.cfg.Limiter.ResetLogin(ctx, body.Email); err != nil {
			h.cfg.Log.Warn().Err(err).Msg("login counter not reset")
		}
	}

	pair, err := h.engine.Login(ctx, goRotate.LoginRequest{UserID: userID, Role: role})
	if err != nil {
		unauthorized(c)
		return
	}
	h.setRefreshCookie(c, pair)
	c.JSON(http.StatusOK, tokenResponse{AccessToken: pair.AccessToken, ExpiresAt: pair.AccessExpiresAt})
}

func (h *handler) refresh(c *gin.Context) {
	ctx := requestContext(c)
	if !h.allow(c, ctx, "refresh", func() error { return h.cfg.Limiter.CheckRefresh(ctx, c.ClientIP()) }) {
		return
	}

	token, err := c.Cookie(h.cfg.CookieName)
	if err != nil || token == "" {
		h.clearRefreshCookie(c)
		unauthorized(c)
		return
	}

	pair, err := h.engine.Refresh(ctx, token)
	if err != nil {
		h.clearRefreshCookie(c)
		unauthorized(c)
		return
	}
	h.setRefreshCookie(c, pair)
	c.JSON(http.StatusOK, tokenResponse{AccessToken: pair.AccessToken, ExpiresAt: pair.AccessExpiresAt})
}

func (h *handler) logout(c *gin.Context) {
	if token, err := c.Cookie(h.cfg.CookieName); err == nil && token != "" {
		if err := h.engine.Logout(requestContext(c), token); err != nil {
			h.cfg.Log.Debug().Err(err).Msg("logout with unusable refresh token")
		}
	}
	h.clearRefreshCookie(c)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *handler) logoutAll(c *gin.Context) {
	access, ok := middleware.AccessFromGin(c)
	if !ok {
		unauthorized(c)
		return
	}
	n, err := h.engine.RevokeAllSessionsForUser(requestContext(c), access.UserID)
	if err != nil {
		unauthorized(c)
		return
	}
	h.clearRefreshCookie(c)
	c.JSON(http.StatusOK, gin.H{"success": true, "revoked": n})
}

func (h *handler) me(c *gin.Context) {
	access, ok := middleware.AccessFromGin(c)
	if !ok {
		unauthorized(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"userId":    access.UserID,
		"role":      access.Role,
		"sessionId": access.SessionID,
	})
}

// allow runs check when a limiter is configured. Limiter outages fail closed.
func (h *handler) allow(c *gin.Context, ctx context.Context, scope string, check func() error) bool {
	if h.cfg.Limiter == nil {
		return true
	}
	err := check()
	switch {
	case err == nil:
		return true
	case errors.Is(err, rate.ErrRateLimited):
		h.engine.NoteRateLimited(ctx, scope)
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
	default:
		h.cfg.Log.Error().Err(err).Str("scope", scope).Msg("rate limiter unavailable")
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "unavailable"})
	}
	return false
}

func (h *handler) setRefreshCookie(c *gin.Context, pair *goRotate.TokenPair) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    pair.RefreshToken,
		Path:     cookiePath,
		Expires:  pair.RefreshExpiresAt,
		HttpOnly: true,
		Secure:   !h.cfg.InsecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *handler) clearRefreshCookie(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    "",
		Path:     cookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   !h.cfg.InsecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func bearerGuard(engine *goRotate.Engine) gin.HandlerFunc {
	return middleware.Gin(engine)
}
