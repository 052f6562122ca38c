package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"mediassist/internal/pkg/jwtutil"
	"mediassist/internal/transport/http/response"
)

const (
	ContextProfileIDKey = "profile_id"
	ContextUsernameKey  = "username"

	// tokenQueryParam carries the token for WebSocket upgrades, where browsers
	// cannot set headers.
	tokenQueryParam = "access_token"
)

func AuthJWT(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			return
		}

		claims, err := jwtutil.ParseToken(secret, token)
		if err != nil {
			response.Error(c, 401, response.CodeUnauthorized, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextProfileIDKey, claims.ProfileID)
		c.Set(ContextUsernameKey, claims.Username)
		c.Next()
	}
}

// ProfileID returns the authenticated profile set by AuthJWT.
func ProfileID(c *gin.Context) (uint, bool) {
	raw, exists := c.Get(ContextProfileIDKey)
	if !exists {
		return 0, false
	}
	id, ok := raw.(uint)
	return id, ok && id != 0
}

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
	if authHeader == "" {
		if token := strings.TrimSpace(c.Query(tokenQueryParam)); token != "" {
			return token, true
		}
		response.Error(c, 401, response.CodeUnauthorized, "missing authorization header")
		c.Abort()
		return "", false
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		response.Error(c, 401, response.CodeUnauthorized, "invalid authorization scheme")
		c.Abort()
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, prefix)), true
}
