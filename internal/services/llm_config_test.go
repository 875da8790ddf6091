package services

import (
	"errors"
	"testing"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/models"
)

func TestLLMConfigService_CreateDefaultIsExclusive(t *testing.T) {
	db := newTestDB(t)
	svc := NewLLMConfigService(db)

	first, err := svc.Create(&CreateLLMConfigRequest{Name: "a", Model: "gpt-4o-mini", APIKey: "sk-aaaaaaaaaaaa", IsDefault: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if first.Provider != ProviderOpenAI || first.TimeoutSecs != 30 || first.MaxTokens != 1024 {
		t.Errorf("defaults not applied: %+v", first)
	}
	if first.APIKeyMask != "sk-a****aaaa" {
		t.Errorf("APIKeyMask = %q", first.APIKeyMask)
	}

	second, err := svc.Create(&CreateLLMConfigRequest{Name: "b", Provider: ProviderAnthropic, APIKey: "sk-ant-key", Model: "claude", IsDefault: true})
	if err != nil {
		t.Fatal(err)
	}

	active, err := svc.GetActive()
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 2 || active[0].ID != second.ID || active[1].IsDefault {
		t.Errorf("active order = %+v", active)
	}
}

func TestLLMConfigService_CreateInactive(t *testing.T) {
	db := newTestDB(t)
	svc := NewLLMConfigService(db)
	inactive := false

	cfg, err := svc.Create(&CreateLLMConfigRequest{Name: "off", Model: "m", IsActive: &inactive})
	if err != nil {
		t.Fatal(err)
	}
	stored, _ := svc.GetByID(cfg.ID)
	if stored.IsActive {
		t.Error("config should be stored inactive")
	}
	if active, _ := svc.GetActive(); len(active) != 0 {
		t.Errorf("active = %d, expected 0", len(active))
	}
}

func TestLLMConfigService_UpdateAndList(t *testing.T) {
	db := newTestDB(t)
	svc := NewLLMConfigService(db)
	a, _ := svc.Create(&CreateLLMConfigRequest{Name: "a", Model: "gpt", IsDefault: true})
	b, _ := svc.Create(&CreateLLMConfigRequest{Name: "b", Provider: ProviderOllama, Model: "llama3"})

	isDefault := true
	timeout := 90
	updated, err := svc.Update(b.ID, &UpdateLLMConfigRequest{IsDefault: &isDefault, TimeoutSecs: &timeout})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !updated.IsDefault || updated.TimeoutSecs != 90 {
		t.Errorf("updated = %+v", updated)
	}
	if reloaded, _ := svc.GetByID(a.ID); reloaded.IsDefault {
		t.Error("previous default should be cleared")
	}

	resp, err := svc.List(&LLMConfigListRequest{Provider: ProviderOllama})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || resp.Items[0].ID != b.ID {
		t.Errorf("filtered list = %+v", resp)
	}

	if _, err := svc.Update(9999, &UpdateLLMConfigRequest{Name: "x"}); !errors.Is(err, ErrLLMConfigNotFound) {
		t.Errorf("err = %v, expected ErrLLMConfigNotFound", err)
	}
}

func TestLLMConfigService_DeleteUnpinsProjects(t *testing.T) {
	db := newTestDB(t)
	svc := NewLLMConfigService(db)
	cfg, _ := svc.Create(&CreateLLMConfigRequest{Name: "pinned", Model: "m"})
	project := createProject(t, db, "p")
	db.Model(project).Update("llm_config_id", cfg.ID)

	if err := svc.Delete(cfg.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	var reloaded models.Project
	db.First(&reloaded, project.ID)
	if reloaded.LLMConfigID != nil {
		t.Errorf("LLMConfigID = %v, expected nil", *reloaded.LLMConfigID)
	}
	if err := svc.Delete(cfg.ID); !errors.Is(err, ErrLLMConfigNotFound) {
		t.Errorf("second delete err = %v", err)
	}
}

func TestLLMConfigService_ProviderRequirements(t *testing.T) {
	db := newTestDB(t)
	svc := NewLLMConfigService(db)

	tests := []struct {
		name    string
		req     CreateLLMConfigRequest
		wantErr bool
		wantURL string
	}{
		{"openai gateway without key", CreateLLMConfigRequest{Name: "gw", Model: "m", BaseURL: "http://gw.local/v1"}, false, "http://gw.local/v1"},
		{"ollama gets local url", CreateLLMConfigRequest{Name: "local", Provider: ProviderOllama, Model: "llama3"}, false, defaultOllamaURL},
		{"anthropic without key", CreateLLMConfigRequest{Name: "a", Provider: ProviderAnthropic, Model: "claude"}, true, ""},
		{"azure without endpoint", CreateLLMConfigRequest{Name: "az", Provider: ProviderAzure, APIKey: "k", Model: "gpt"}, true, ""},
		{"azure complete", CreateLLMConfigRequest{Name: "az", Provider: ProviderAzure, APIKey: "k", BaseURL: "https://x.openai.azure.com", Model: "gpt"}, false, "https://x.openai.azure.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := svc.Create(&tt.req)
			if tt.wantErr {
				if !errors.Is(err, ErrLLMConfigInvalid) {
					t.Errorf("err = %v, expected ErrLLMConfigInvalid", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if cfg.BaseURL != tt.wantURL {
				t.Errorf("BaseURL = %q, expected %q", cfg.BaseURL, tt.wantURL)
			}
		})
	}

	gemini, err := svc.Create(&CreateLLMConfigRequest{Name: "g", Provider: ProviderGemini, APIKey: "gk", Model: "gemini-1.5-flash"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Update(gemini.ID, &UpdateLLMConfigRequest{Provider: ProviderAzure}); !errors.Is(err, ErrLLMConfigInvalid) {
		t.Errorf("switching to azure without endpoint: err = %v", err)
	}
	if stored, _ := svc.GetByID(gemini.ID); stored.Provider != ProviderGemini {
		t.Errorf("rejected update was applied: provider = %s", stored.Provider)
	}
}
