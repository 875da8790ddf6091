package middleware

import (
	"bytes"
	"io"
	"strings"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/models"
	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/logger"
	"github.com/gin-gonic/gin"
)

const auditBodyLimit = 2000

var sensitiveKeys = []string{"password", "old_password", "new_password", "api_key", "discord_webhook_url", "secret", "token"}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(entry *models.AuditLog) error
}

// AuditLog writes admin write operations (POST/PUT/PATCH/DELETE) to the
// structured log, and to recorder when set, with sensitive body fields masked.
func AuditLog(recorder AuditRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		method := c.Request.Method
		if method != "POST" && method != "PUT" && method != "PATCH" && method != "DELETE" {
			c.Next()
			return
		}

		var bodySnippet string
		if c.Request.Body != nil {
			bodyBytes, _ := io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			bodySnippet = maskSensitiveFields(string(bodyBytes))
			if len(bodySnippet) > auditBodyLimit {
				bodySnippet = bodySnippet[:auditBodyLimit] + "...[truncated]"
			}
		}

		c.Next()

		module, action := parseRouteInfo(c.FullPath(), method)
		status := c.Writer.Status()
		level := "info"
		event := logger.Info()
		if status >= 400 {
			level = "warning"
			event = logger.Warn()
		}
		event.
			Bool("audit", true).
			Uint("user_id", GetUserID(c)).
			Str("username", GetUsername(c)).
			Str("module", module).
			Str("action", action).
			Str("method", method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Str("ip", c.ClientIP()).
			Str("body", bodySnippet).
			Msg("[Audit] admin change")

		if recorder == nil {
			return
		}
		entry := &models.AuditLog{
			Level:     level,
			Module:    module,
			Action:    action,
			Method:    method,
			Path:      c.Request.URL.Path,
			Status:    status,
			Username:  GetUsername(c),
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			Body:      bodySnippet,
		}
		if id := GetUserID(c); id > 0 {
			entry.UserID = &id
		}
		if err := recorder.Record(entry); err != nil {
			logger.Warn().Err(err).Msg("[Audit] failed to persist entry")
		}
	}
}

// parseRouteInfo extracts module and action from a Gin route pattern.
// e.g. "/api/admin/projects/:id/rules/:rule_id" + "PUT" → module="rules", action="update"
func parseRouteInfo(fullPath, method string) (module, action string) {
	path := strings.TrimPrefix(fullPath, "/api/admin/")

	module = "unknown"
	for _, seg := range strings.Split(path, "/") {
		if seg != "" && !strings.HasPrefix(seg, ":") {
			module = seg
		}
	}

	switch method {
	case "POST":
		action = "create"
	case "PUT", "PATCH":
		action = "update"
	case "DELETE":
		action = "delete"
	default:
		action = strings.ToLower(method)
	}
	return module, action
}

// maskSensitiveFields replaces sensitive string values in a JSON body.
func maskSensitiveFields(body string) string {
	for _, key := range sensitiveKeys {
		body = maskJSONValue(body, key)
	}
	return body
}

// maskJSONValue does a best-effort mask of every JSON string value for key.
func maskJSONValue(body, key string) string {
	needle := "\"" + key + "\""
	from := 0
	for {
		idx := strings.Index(strings.ToLower(body[from:]), needle)
		if idx == -1 {
			return body
		}
		pos := from + idx + len(needle)

		for pos < len(body) && (body[pos] == ' ' || body[pos] == '\t') {
			pos++
		}
		if pos >= len(body) || body[pos] != ':' {
			from = pos
			continue
		}
		pos++
		for pos < len(body) && (body[pos] == ' ' || body[pos] == '\t') {
			pos++
		}
		if pos >= len(body) || body[pos] != '"' {
			from = pos
			continue
		}

		endQuote := strings.Index(body[pos+1:], "\"")
		if endQuote == -1 {
			return body
		}
		body = body[:pos+1] + "***" + body[pos+1+endQuote:]
		from = pos + 4
	}
}
