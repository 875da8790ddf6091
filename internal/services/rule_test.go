package services

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingInvalidator struct {
	mu  sync.Mutex
	ids []uint
}

func (r *recordingInvalidator) InvalidateRules(projectIDs ...uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, projectIDs...)
}

func (r *recordingInvalidator) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

func TestRuleService_Create(t *testing.T) {
	db := newTestDB(t)
	project := createProject(t, db, "p")
	inv := &recordingInvalidator{}
	svc := NewRuleService(db, inv, nil)

	inactive := false
	tests := []struct {
		name    string
		req     CreateRuleRequest
		wantErr bool
	}{
		{"keyword", CreateRuleRequest{Name: "k", RuleType: "keyword", RuleData: json.RawMessage(`{"keywords":["spam"]}`)}, false},
		{"delimited keywords", CreateRuleRequest{Name: "d", RuleType: "keyword", RuleData: json.RawMessage(`{"keywords":"spam, scam\nbanned"}`)}, false},
		{"regex", CreateRuleRequest{Name: "r", RuleType: "regex", RuleData: json.RawMessage(`{"pattern":"\\d+","flags":["i"]}`), Action: "flag"}, false},
		{"inactive prompt", CreateRuleRequest{Name: "a", RuleType: "ai_prompt", RuleData: json.RawMessage(`{"prompt":"no scams"}`), IsActive: &inactive}, false},
		{"bad regex", CreateRuleRequest{Name: "b", RuleType: "regex", RuleData: json.RawMessage(`{"pattern":"("}`)}, true},
		{"malformed json", CreateRuleRequest{Name: "m", RuleType: "keyword", RuleData: json.RawMessage(`[1,2]`)}, true},
		{"empty keywords", CreateRuleRequest{Name: "e", RuleType: "keyword", RuleData: json.RawMessage(`{"keywords":[]}`)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			rule, err := svc.Create(project.ID, &req)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRule) {
					t.Errorf("err = %v, expected ErrInvalidRule", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			stored, err := svc.GetByID(project.ID, rule.ID)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := stored.Rule(); err != nil {
				t.Errorf("stored rule does not decode: %v", err)
			}
			if req.IsActive != nil && stored.IsActive != *req.IsActive {
				t.Errorf("IsActive = %v, expected %v", stored.IsActive, *req.IsActive)
			}
			if req.Action == "" && stored.Action != "reject" {
				t.Errorf("Action = %q, expected default reject", stored.Action)
			}
		})
	}
	if inv.count() != 4 {
		t.Errorf("invalidations = %d, expected 4", inv.count())
	}
}

func TestRuleService_UpdateToggleDelete(t *testing.T) {
	db := newTestDB(t)
	project := createProject(t, db, "p")
	other := createProject(t, db, "other")
	inv := &recordingInvalidator{}
	svc := NewRuleService(db, inv, nil)

	rule, err := svc.Create(project.ID, &CreateRuleRequest{Name: "k", RuleType: "keyword", RuleData: json.RawMessage(`{"keywords":["a"]}`)})
	if err != nil {
		t.Fatal(err)
	}

	priority := 50
	updated, err := svc.Update(project.ID, rule.ID, &UpdateRuleRequest{
		RuleType: "regex",
		RuleData: json.RawMessage(`{"pattern":"^buy"}`),
		Priority: &priority,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.RuleType != "regex" || updated.Priority != 50 {
		t.Errorf("updated = %+v", updated)
	}

	if _, err := svc.Update(project.ID, rule.ID, &UpdateRuleRequest{RuleType: "ai_prompt"}); !errors.Is(err, ErrInvalidRule) {
		t.Errorf("changing type without compatible data: err = %v", err)
	}

	toggled, err := svc.Toggle(project.ID, rule.ID)
	if err != nil || toggled.IsActive {
		t.Errorf("Toggle = %+v, %v", toggled, err)
	}

	if _, err := svc.GetByID(other.ID, rule.ID); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("rule visible from another project: %v", err)
	}
	if err := svc.Delete(project.ID, rule.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.GetByID(project.ID, rule.ID); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("deleted rule still found: %v", err)
	}
	if inv.count() != 4 {
		t.Errorf("invalidations = %d, expected 4", inv.count())
	}
}

func TestRuleService_PublishesRuleUpdate(t *testing.T) {
	db := newTestDB(t)
	project := createProject(t, db, "p")
	hub := NewWebSocketHub(nil)
	defer hub.Close()
	conn := dialHub(t, hub, project.ID)

	svc := NewRuleService(db, nil, NewNotificationService(db, nil, hub, nil, ""))
	waitFor(t, func() bool { return hub.RoomSize(ProjectRoom(project.ID)) == 1 })

	if _, err := svc.Create(project.ID, &CreateRuleRequest{Name: "k", RuleType: "keyword", RuleData: json.RawMessage(`{"keywords":["a"]}`)}); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Event != EventRuleUpdate {
		t.Errorf("Event = %q, expected %q", msg.Event, EventRuleUpdate)
	}
}
