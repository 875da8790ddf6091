package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/models"
	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/moderation"
	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/services"
	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := models.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// createProject inserts a project without the default AI rules.
func createProject(t *testing.T, db *gorm.DB, name string) *models.Project {
	t.Helper()
	p := &models.Project{Name: name}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func addKeywordRule(t *testing.T, db *gorm.DB, projectID uint, keyword, action string) {
	t.Helper()
	rule := models.ModerationRule{
		ProjectID: projectID,
		Name:      "block " + keyword,
		RuleType:  "keyword",
		RuleData:  `{"keywords":["` + keyword + `"]}`,
		Action:    action,
		IsActive:  true,
	}
	if err := db.Create(&rule).Error; err != nil {
		t.Fatal(err)
	}
}

// newTestPipeline wires the orchestrator without an AI backend.
func newTestPipeline(db *gorm.DB) *moderation.Orchestrator {
	store := services.NewModerationStore(db)
	rules := moderation.NewRuleCache(store, time.Minute, 100)
	evaluator := moderation.NewRuleEvaluator(nil, 2, time.Second)
	return moderation.NewOrchestrator(store, rules, evaluator, nil, nil, nil)
}

func doJSON(r http.Handler, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// envelope is the admin API response shape.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder, data interface{}) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	if data != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, data); err != nil {
			t.Fatalf("decode data %s: %v", env.Data, err)
		}
	}
	return env
}
