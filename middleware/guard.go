package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	goRotate "github.com/MrEthical07/goRotate"
)

type accessContextKey struct{}

// GinAccessKey is the gin context key holding the *goRotate.AccessResult.
const GinAccessKey = "gorotate.access"

type validator interface {
	ValidateAccess(ctx context.Context, accessToken string) (*goRotate.AccessResult, error)
}

// AccessFromContext returns the result stored by Guard.
func AccessFromContext(ctx context.Context) (*goRotate.AccessResult, bool) {
	res, ok := ctx.Value(accessContextKey{}).(*goRotate.AccessResult)
	return res, ok
}

// AccessFromGin returns the result stored by Gin.
func AccessFromGin(c *gin.Context) (*goRotate.AccessResult, bool) {
	v, ok := c.Get(GinAccessKey)
	if !ok {
		return nil, false
	}
	res, ok := v.(*goRotate.AccessResult)
	return res, ok
}

// Guard rejects requests without a valid bearer access token with 401 and stores the
// verified claims on the request context for AccessFromContext.
func Guard(engine validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, ok := authenticate(r.Context(), engine, r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), accessContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Gin aborts with 401 {"error":"unauthorized"} unless a valid bearer token is present.
func Gin(engine validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, ok := authenticate(c.Request.Context(), engine, c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(GinAccessKey, res)
		c.Next()
	}
}

func authenticate(ctx context.Context, engine validator, header string) (*goRotate.AccessResult, bool) {
	if engine == nil {
		return nil, false
	}
	token, ok := bearerToken(header)
	if !ok {
		return nil, false
	}
	res, err := engine.ValidateAccess(ctx, token)
	if err != nil {
		return nil, false
	}
	return res, true
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}
	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}
	return token, true
}
