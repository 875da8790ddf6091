package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/models"
	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/moderation"
)

func TestModerationStore_ListActiveRules(t *testing.T) {
	db := newTestDB(t)
	project := createProject(t, db, "p")
	other := createProject(t, db, "other")

	rules := []models.ModerationRule{
		{ProjectID: project.ID, Name: "low", RuleType: "keyword", RuleData: `{"keywords":["spam"]}`, Action: "reject", Priority: 1, IsActive: true},
		{ProjectID: project.ID, Name: "high", RuleType: "regex", RuleData: `{"pattern":"\\d{16}"}`, Action: "flag", Priority: 10, IsActive: true},
		{ProjectID: project.ID, Name: "broken", RuleType: "keyword", RuleData: `not json`, Action: "reject", Priority: 5, IsActive: true},
		{ProjectID: project.ID, Name: "off", RuleType: "keyword", RuleData: `{"keywords":["x"]}`, Action: "reject", Priority: 50, IsActive: true},
		{ProjectID: other.ID, Name: "foreign", RuleType: "keyword", RuleData: `{"keywords":["y"]}`, Action: "reject", Priority: 99, IsActive: true},
	}
	if err := db.Create(&rules).Error; err != nil {
		t.Fatal(err)
	}
	db.Model(&models.ModerationRule{}).Where("name = ?", "off").Update("is_active", false)

	store := NewModerationStore(db)
	got, err := store.ListActiveRules(context.Background(), project.ID)
	if err != nil {
		t.Fatalf("ListActiveRules: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, expected 2 (inactive, broken and foreign rules skipped)", len(got))
	}
	if got[0].Name != "high" || got[1].Name != "low" {
		t.Errorf("order = %s, %s", got[0].Name, got[1].Name)
	}
	if data, ok := got[0].Data.(moderation.RegexRuleData); !ok || data.Pattern != `\d{16}` {
		t.Errorf("regex data = %#v", got[0].Data)
	}

	rule, err := store.GetRuleByID(context.Background(), rules[0].ID)
	if err != nil || rule.Name != "low" {
		t.Errorf("GetRuleByID = %+v, %v", rule, err)
	}
}

func TestModerationStore_GetContent(t *testing.T) {
	db := newTestDB(t)
	project := createProject(t, db, "p")
	content := &models.Content{ProjectID: project.ID, ContentType: "text", ContentData: "hello", MetaData: `{"source":"chat"}`}
	db.Create(content)

	store := NewModerationStore(db)
	got, err := store.GetContent(context.Background(), content.ID)
	if err != nil {
		t.Fatalf("GetContent: %v", err)
	}
	if got.Data != "hello" || got.ProjectID != project.ID || got.Metadata["source"] != "chat" {
		t.Errorf("content = %+v", got)
	}

	if _, err := store.GetContent(context.Background(), 9999); !errors.Is(err, moderation.ErrContentNotFound) {
		t.Errorf("err = %v, expected ErrContentNotFound", err)
	}
}

func TestModerationStore_SaveDecision(t *testing.T) {
	db := newTestDB(t)
	project := createProject(t, db, "p")
	user := &models.APIUser{ProjectID: project.ID, ExternalUserID: "u-1", TotalRequests: 1}
	db.Create(user)
	content := &models.Content{ProjectID: project.ID, APIUserID: &user.ID, ContentData: "buy now"}
	db.Create(content)

	ruleID := uint(7)
	decision := &moderation.FinalDecision{
		ContentID: content.ID,
		Decision:  moderation.DecisionRejected,
		Results: []moderation.RuleResult{
			{
				Decision:       moderation.DecisionRejected,
				Confidence:     0.8,
				Reason:         "Rule 'Spam': Matched keyword: 'buy now'",
				ModeratorType:  moderation.ModeratorRule,
				RuleID:         &ruleID,
				RuleName:       "Spam",
				ProcessingTime: 2 * time.Millisecond,
				Categories:     map[string]bool{"rule_keyword": true},
			},
		},
	}

	store := NewModerationStore(db)
	if err := store.SaveDecision(context.Background(), content.ToModeration(), decision); err != nil {
		t.Fatalf("SaveDecision: %v", err)
	}

	var saved models.Content
	db.Preload("Results").First(&saved, content.ID)
	if saved.Status != models.ContentStatusRejected {
		t.Errorf("Status = %q, expected rejected", saved.Status)
	}
	if len(saved.Results) != 1 {
		t.Fatalf("results = %d, expected 1", len(saved.Results))
	}
	r := saved.Results[0]
	if r.ModeratorName != "Spam" || r.RuleID == nil || *r.RuleID != 7 || !r.CategoryMap["rule_keyword"] {
		t.Errorf("result = %+v", r)
	}

	var u models.APIUser
	db.First(&u, user.ID)
	if u.Rejected != 1 || u.Approved != 0 || u.LastRequestAt == nil {
		t.Errorf("api user counters = %+v", u)
	}
}

func TestModerationStore_SaveDecisionMissingContent(t *testing.T) {
	db := newTestDB(t)
	store := NewModerationStore(db)

	err := store.SaveDecision(context.Background(), &moderation.Content{ID: 404}, &moderation.FinalDecision{
		Decision: moderation.DecisionApproved,
		Results:  []moderation.RuleResult{{Decision: moderation.DecisionApproved}},
	})
	if !errors.Is(err, moderation.ErrContentNotFound) {
		t.Errorf("err = %v, expected ErrContentNotFound", err)
	}
	var count int64
	db.Model(&models.ModerationResult{}).Count(&count)
	if count != 0 {
		t.Errorf("results = %d, expected rollback", count)
	}
}

func TestModerationStore_StalePending(t *testing.T) {
	db := newTestDB(t)
	project := createProject(t, db, "p")
	old := &models.Content{ProjectID: project.ID, ContentData: "old"}
	fresh := &models.Content{ProjectID: project.ID, ContentData: "fresh"}
	done := &models.Content{ProjectID: project.ID, ContentData: "done", Status: models.ContentStatusApproved}
	db.Create(old)
	db.Create(fresh)
	db.Create(done)
	past := time.Now().Add(-time.Hour)
	db.Model(&models.Content{}).Where("id IN ?", []uint{old.ID, done.ID}).Update("created_at", past)

	ids, err := NewModerationStore(db).StalePending(context.Background(), 10*time.Minute, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != old.ID {
		t.Errorf("ids = %v, expected [%d]", ids, old.ID)
	}
}
