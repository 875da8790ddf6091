package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/response"
	"github.com/gin-gonic/gin"
)

type limitedRequest struct {
	key  string
	ip   string
	want int
}

func (rl *RateLimiter) tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func limitedRouter(rl *RateLimiter) *gin.Engine {
	router := gin.New()
	router.Use(rl.Middleware())
	router.POST("/api/moderate", func(c *gin.Context) { c.Status(http.StatusOK) })
	return router
}

func sendLimited(router *gin.Engine, key, ip string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/moderate", nil)
	req.RemoteAddr = ip + ":12345"
	if key != "" {
		req.Header.Set(APIKeyHeader, key)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_Buckets(t *testing.T) {
	tests := []struct {
		name  string
		burst int
		byKey bool
		reqs  []limitedRequest
	}{
		{
			name:  "burst then reject",
			burst: 2,
			reqs: []limitedRequest{
				{"", "10.0.0.1", http.StatusOK},
				{"", "10.0.0.1", http.StatusOK},
				{"", "10.0.0.1", http.StatusTooManyRequests},
			},
		},
		{
			name:  "independent per IP",
			burst: 1,
			reqs: []limitedRequest{
				{"", "10.0.0.1", http.StatusOK},
				{"", "10.0.0.2", http.StatusOK},
				{"", "10.0.0.1", http.StatusTooManyRequests},
			},
		},
		{
			name:  "keyed by API key",
			burst: 1,
			byKey: true,
			reqs: []limitedRequest{
				{"am_one", "10.0.0.9", http.StatusOK},
				{"am_one", "10.0.0.8", http.StatusTooManyRequests},
				{"am_two", "10.0.0.9", http.StatusOK},
				{"", "10.0.0.9", http.StatusOK},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := NewRateLimiter(1, tt.burst)
			if tt.byKey {
				rl.WithKey(APIKeyOrIP)
			}
			router := limitedRouter(rl)
			for i, r := range tt.reqs {
				if got := sendLimited(router, r.key, r.ip).Code; got != r.want {
					t.Errorf("request %d: status = %d, expected %d", i, got, r.want)
				}
			}
		})
	}
}

func TestRateLimiter_RejectionFormat(t *testing.T) {
	secondHit := func(rl *RateLimiter) *httptest.ResponseRecorder {
		router := limitedRouter(rl)
		sendLimited(router, "", "10.0.0.1")
		return sendLimited(router, "", "10.0.0.1")
	}

	api := secondHit(NewRateLimiter(0.5, 1))
	if got := api.Header().Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After = %q, expected 2", got)
	}
	var flat struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(api.Body.Bytes(), &flat); err != nil || flat.Success || flat.Error == "" {
		t.Errorf("moderation API body = %s", api.Body)
	}

	admin := secondHit(NewRateLimiter(1, 1).ForAdmin())
	var env response.Response
	if err := json.Unmarshal(admin.Body.Bytes(), &env); err != nil || env.Code != http.StatusTooManyRequests {
		t.Errorf("admin body = %s, expected envelope code 429", admin.Body)
	}
}

func TestRateLimiter_SweepsIdleClients(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 1)
	rl.now = func() time.Time { return now }

	rl.reserve("a")
	rl.reserve("b")
	if got := rl.tracked(); got != 2 {
		t.Fatalf("tracked = %d, expected 2", got)
	}

	now = now.Add(limiterIdle + time.Second)
	if wait := rl.reserve("b"); wait != 0 {
		t.Errorf("refilled client waited %v", wait)
	}
	if got := rl.tracked(); got != 1 {
		t.Errorf("tracked after sweep = %d, expected only the active client", got)
	}
}
