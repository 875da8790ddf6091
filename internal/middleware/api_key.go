package middleware

import (
	"context"
	"net/http"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/models"
	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/response"
	"github.com/gin-gonic/gin"
)

const (
	ContextProjectID = "project_id"
	ContextAPIKeyID  = "api_key_id"

	APIKeyHeader = "X-API-Key"
)

// APIKeyAuthenticator resolves a presented key to an active API key.
type APIKeyAuthenticator interface {
	Authenticate(ctx context.Context, key string) (*models.APIKey, error)
}

// APIKeyRequired authenticates moderation API calls by the X-API-Key header
// or the api_key query parameter, and scopes the request to the key's project.
func APIKeyRequired(auth APIKeyAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(APIKeyHeader)
		if key == "" {
			key = c.Query("api_key")
		}
		if key == "" {
			response.AbortAPI(c, http.StatusUnauthorized, "API key required")
			return
		}

		apiKey, err := auth.Authenticate(c.Request.Context(), key)
		if err != nil {
			response.AbortAPI(c, http.StatusUnauthorized, "Invalid API key")
			return
		}

		c.Set(ContextProjectID, apiKey.ProjectID)
		c.Set(ContextAPIKeyID, apiKey.ID)
		c.Next()
	}
}

// GetProjectID returns the project the API key belongs to.
func GetProjectID(c *gin.Context) uint {
	return c.GetUint(ContextProjectID)
}

// APIKeyOrIP keys rate limits by API key when present.
func APIKeyOrIP(c *gin.Context) string {
	if key := c.GetHeader(APIKeyHeader); key != "" {
		return "key:" + key
	}
	if key := c.Query("api_key"); key != "" {
		return "key:" + key
	}
	return "ip:" + c.ClientIP()
}
