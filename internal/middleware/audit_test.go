package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/models"
	"github.com/gin-gonic/gin"
)

func TestParseRouteInfo(t *testing.T) {
	tests := []struct {
		path, method   string
		module, action string
	}{
		{"/api/admin/projects", "POST", "projects", "create"},
		{"/api/admin/projects/:id", "PUT", "projects", "update"},
		{"/api/admin/projects/:id/rules/:rule_id", "DELETE", "rules", "delete"},
		{"/api/admin/projects/:id/rules/:rule_id/toggle", "PATCH", "toggle", "update"},
		{"", "POST", "unknown", "create"},
	}
	for _, tt := range tests {
		module, action := parseRouteInfo(tt.path, tt.method)
		if module != tt.module || action != tt.action {
			t.Errorf("parseRouteInfo(%q, %s) = %s, %s; expected %s, %s", tt.path, tt.method, module, action, tt.module, tt.action)
		}
	}
}

func TestMaskSensitiveFields(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"password", `{"username":"admin","password":"hunter2"}`, `{"username":"admin","password":"***"}`},
		{"spaced", `{"api_key" : "sk-123"}`, `{"api_key" : "***"}`},
		{"change password", `{"old_password":"a","new_password":"b"}`, `{"old_password":"***","new_password":"***"}`},
		{"webhook", `{"name":"p","discord_webhook_url":"https://discord.com/api/webhooks/1/x"}`, `{"name":"p","discord_webhook_url":"***"}`},
		{"non-string value untouched", `{"token":null}`, `{"token":null}`},
		{"nothing sensitive", `{"name":"rule"}`, `{"name":"rule"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := maskSensitiveFields(tt.in); got != tt.want {
				t.Errorf("maskSensitiveFields() = %s, expected %s", got, tt.want)
			}
		})
	}
}

type memoryAudit struct {
	entries []*models.AuditLog
}

func (m *memoryAudit) Record(entry *models.AuditLog) error {
	m.entries = append(m.entries, entry)
	return nil
}

func TestAuditLog_RecordsWrites(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := &memoryAudit{}
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(ContextUserID, uint(7))
		c.Set(ContextUsername, "root")
		c.Next()
	})
	r.Use(AuditLog(rec))
	r.GET("/api/admin/projects", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/api/admin/change-password", func(c *gin.Context) {
		body, _ := io.ReadAll(c.Request.Body)
		if !strings.Contains(string(body), "hunter2") {
			t.Errorf("handler body = %q, expected original body", body)
		}
		c.Status(http.StatusBadRequest)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/admin/projects", nil))
	if len(rec.entries) != 0 {
		t.Fatalf("entries after GET = %d, expected 0", len(rec.entries))
	}

	req := httptest.NewRequest(http.MethodPost, "/api/admin/change-password", strings.NewReader(`{"old_password":"hunter2"}`))
	r.ServeHTTP(httptest.NewRecorder(), req)
	if len(rec.entries) != 1 {
		t.Fatalf("entries = %d, expected 1", len(rec.entries))
	}
	e := rec.entries[0]
	if e.Module != "change-password" || e.Action != "create" || e.Level != "warning" || e.Status != http.StatusBadRequest {
		t.Errorf("entry = %+v", e)
	}
	if e.UserID == nil || *e.UserID != 7 || e.Username != "root" {
		t.Errorf("entry user = %v %q, expected 7 root", e.UserID, e.Username)
	}
	if strings.Contains(e.Body, "hunter2") {
		t.Errorf("Body = %q, expected password masked", e.Body)
	}
}
