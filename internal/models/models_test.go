package models

import (
	"strings"
	"testing"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/config"
	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/moderation"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := Open(&config.DatabaseConfig{Driver: "sqlite", DSN: "file:" + name + "?mode=memory&cache=shared"}, false)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestModerationRule_Rule(t *testing.T) {
	tests := []struct {
		name    string
		rule    ModerationRule
		want    moderation.RuleData
		wantErr bool
	}{
		{
			name: "keyword",
			rule: ModerationRule{RuleType: "keyword", RuleData: `{"keywords": ["spam", "scam"], "case_sensitive": true}`},
			want: moderation.KeywordRuleData{Keywords: []string{"spam", "scam"}, CaseSensitive: true},
		},
		{
			name: "keyword string",
			rule: ModerationRule{RuleType: "keyword", RuleData: `{"keywords": "spam, scam\nbanned"}`},
			want: moderation.KeywordRuleData{Keywords: []string{"spam", "scam", "banned"}},
		},
		{name: "keyword number", rule: ModerationRule{RuleType: "keyword", RuleData: `{"keywords": 42}`}, wantErr: true},
		{
			name: "regex",
			rule: ModerationRule{RuleType: "regex", RuleData: `{"pattern": "\\d+", "flags": ["i"]}`},
			want: moderation.RegexRuleData{Pattern: `\d+`, Flags: []string{"i"}},
		},
		{
			name: "prompt",
			rule: ModerationRule{RuleType: "ai_prompt", RuleData: `{"prompt": "no spam"}`},
			want: moderation.PromptRuleData{Prompt: "no spam"},
		},
		{name: "unknown type", rule: ModerationRule{RuleType: "magic"}, wantErr: true},
		{name: "bad json", rule: ModerationRule{RuleType: "keyword", RuleData: "{"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.rule.Rule()
			if tt.wantErr {
				if err == nil {
					t.Error("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Rule() error = %v", err)
			}
			if got.Data.RuleType() != tt.want.RuleType() {
				t.Errorf("Data type = %s, expected %s", got.Data.RuleType(), tt.want.RuleType())
			}
			switch want := tt.want.(type) {
			case moderation.KeywordRuleData:
				d := got.Data.(moderation.KeywordRuleData)
				if strings.Join(d.Keywords, ",") != strings.Join(want.Keywords, ",") || d.CaseSensitive != want.CaseSensitive {
					t.Errorf("Data = %+v, expected %+v", d, want)
				}
			case moderation.RegexRuleData:
				d := got.Data.(moderation.RegexRuleData)
				if d.Pattern != want.Pattern || len(d.Flags) != 1 {
					t.Errorf("Data = %+v, expected %+v", d, want)
				}
			case moderation.PromptRuleData:
				if got.Data.(moderation.PromptRuleData) != want {
					t.Errorf("Data = %+v, expected %+v", got.Data, want)
				}
			}
		})
	}
}

func TestDefaultRules(t *testing.T) {
	rules := DefaultRules(7)
	if len(rules) != 5 {
		t.Fatalf("got %d default rules, expected 5", len(rules))
	}
	for _, r := range rules {
		if r.ProjectID != 7 || r.Priority != 100 || r.Action != "reject" || !r.IsActive {
			t.Errorf("unexpected default rule: %+v", r)
		}
		rule, err := r.Rule()
		if err != nil {
			t.Fatalf("default rule %q does not decode: %v", r.Name, err)
		}
		if rule.Data.(moderation.PromptRuleData).Prompt == "" {
			t.Errorf("default rule %q has an empty prompt", r.Name)
		}
	}
}

func TestContent_BeforeCreateAndMetadata(t *testing.T) {
	db := newTestDB(t)
	c := Content{ProjectID: 1, ContentData: "hello", MetaData: `{"source": "chat"}`}
	if err := db.Create(&c).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(c.UUID) != 36 || c.Status != ContentStatusPending {
		t.Errorf("UUID/status not defaulted: %q %q", c.UUID, c.Status)
	}
	if c.Metadata()["source"] != "chat" {
		t.Errorf("Metadata() = %v", c.Metadata())
	}
	if mc := c.ToModeration(); mc.Data != "hello" || mc.ProjectID != 1 {
		t.Errorf("ToModeration() = %+v", mc)
	}
}

func TestModerationResult_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	id := uint(3)
	r := NewModerationResult(9, 0, moderation.RuleResult{
		Decision:       moderation.DecisionRejected,
		Confidence:     0.8,
		Reason:         "Rule 'spam': Matched keyword: 'spam'",
		ModeratorType:  moderation.ModeratorRule,
		RuleID:         &id,
		RuleName:       "spam",
		Categories:     map[string]bool{"rule_keyword": true},
		CategoryScores: map[string]float64{"rule_keyword": 0.8},
	})
	if err := db.Create(&r).Error; err != nil {
		t.Fatalf("create: %v", err)
	}

	var loaded ModerationResult
	if err := db.First(&loaded, r.ID).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if !loaded.CategoryMap["rule_keyword"] || loaded.ScoreMap["rule_keyword"] != 0.8 {
		t.Errorf("categories not decoded: %+v", loaded)
	}
	if loaded.ModeratorName != "spam" || *loaded.RuleID != 3 {
		t.Errorf("unexpected attribution: %+v", loaded)
	}
}

func TestAPIUser_ApprovalRate(t *testing.T) {
	u := APIUser{}
	if u.ApprovalRate() != 0 {
		t.Error("no requests should give 0")
	}
	u = APIUser{Approved: 3, Rejected: 1}
	if u.ApprovalRate() != 75 {
		t.Errorf("ApprovalRate() = %v, expected 75", u.ApprovalRate())
	}
}

func TestSeed_CreatesAdminOnce(t *testing.T) {
	db := newTestDB(t)
	for i := 0; i < 2; i++ {
		if err := Seed(db); err != nil {
			t.Fatalf("Seed: %v", err)
		}
	}
	var count int64
	db.Model(&User{}).Where("role = ?", "admin").Count(&count)
	if count != 1 {
		t.Errorf("admin count = %d, expected 1", count)
	}
}
