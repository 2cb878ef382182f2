package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"gopherai-rag/internal/pkg/jwtutil"
	"gopherai-rag/internal/transport/http/response"
)

const (
	ContextSubjectKey = "subject"
	ContextRoleKey    = "role"

	RoleAdmin = "admin"
)

// AuthJWT admits requests carrying a bearer token signed with secret whose
// role is one of roles. With no roles any valid token is admitted.
func AuthJWT(secret string, roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		scheme, token, ok := strings.Cut(strings.TrimSpace(c.GetHeader("Authorization")), " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			deny(c, http.StatusUnauthorized, response.CodeUnauthorized, "missing bearer token")
			return
		}

		claims, err := jwtutil.ParseToken(secret, strings.TrimSpace(token))
		if err != nil {
			deny(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid or expired token")
			return
		}
		if len(roles) > 0 && !allowed(claims.Role, roles) {
			deny(c, http.StatusForbidden, response.CodeForbidden, "role not permitted")
			return
		}

		c.Set(ContextSubjectKey, claims.Subject)
		c.Set(ContextRoleKey, claims.Role)
		c.Next()
	}
}

func allowed(role string, roles []string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func deny(c *gin.Context, status, code int, msg string) {
	response.Error(c, status, code, msg)
	c.Abort()
}
