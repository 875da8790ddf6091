package middleware

import (
	"net/http"
	"strings"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/utils"
	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/response"
	"github.com/gin-gonic/gin"
)

const (
	ContextUserID   = "user_id"
	ContextUsername = "username"
	ContextRole     = "role"

	RoleAdmin = "admin"
)

// bearerToken extracts the dashboard token. GET requests may pass it as
// ?token= because EventSource and browser WebSocket clients cannot set
// headers. ok is false when a header is present but malformed.
func bearerToken(c *gin.Context) (token string, ok bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			return "", false
		}
		return strings.TrimSpace(token), true
	}
	if c.Request.Method == http.MethodGet {
		return c.Query("token"), true
	}
	return "", true
}

// AuthRequired admits requests carrying a valid dashboard JWT and stores the
// user's id, name and role on the context.
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			response.Abort(c, http.StatusUnauthorized, "invalid authorization header format")
			return
		}
		if token == "" {
			response.Abort(c, http.StatusUnauthorized, "authorization required")
			return
		}

		claims, err := utils.ParseToken(token)
		if err != nil {
			response.Abort(c, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUsername, claims.Username)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}

// AdminRequired must run after AuthRequired.
func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextRole) != RoleAdmin {
			response.Abort(c, http.StatusForbidden, "admin access required")
			return
		}
		c.Next()
	}
}

func GetUserID(c *gin.Context) uint {
	return c.GetUint(ContextUserID)
}

func GetUsername(c *gin.Context) string {
	return c.GetString(ContextUsername)
}
