package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/testerhub/internal/auth"
	"github.com/suPer8Hu/testerhub/internal/common"
)

const (
	UserIDKey = "uid"
	RoleKey   = "role"
)

// AuthRequired accepts "Authorization: Bearer <jwt>". Browsers cannot set
// headers on EventSource or WebSocket requests, so a ?token= query
// parameter is accepted as well.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			common.AbortFail(c, http.StatusUnauthorized, 40101, "missing token")
			return
		}

		claims, err := auth.ParseJWT(token, secret)
		if err != nil {
			common.AbortFail(c, http.StatusUnauthorized, 40101, "invalid token")
			return
		}

		c.Set(UserIDKey, claims.Subject)
		c.Set(RoleKey, claims.Role)
		c.Next()
	}
}

func bearerToken(h string) string {
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}
