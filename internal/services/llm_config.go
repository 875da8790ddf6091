package services

import (
	"errors"
	"fmt"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/models"
	"gorm.io/gorm"
)

var (
	ErrLLMConfigNotFound = errors.New("llm config not found")
	ErrLLMConfigInvalid  = errors.New("invalid llm config")
)

const (
	defaultLLMMaxTokens = 1024
	defaultLLMTimeout   = 30
	defaultOllamaURL    = "http://localhost:11434"

	// fallbackOrder is the order AIService tries database providers in.
	fallbackOrder = "is_default DESC, id ASC"
)

// LLMConfigService stores the chat providers AI rules and enhanced
// moderation fall back through.
type LLMConfigService struct {
	db *gorm.DB
}

func NewLLMConfigService(db *gorm.DB) *LLMConfigService {
	return &LLMConfigService{db: db}
}

type LLMConfigListRequest struct {
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	Name     string `form:"name"`
	Provider string `form:"provider"`
	IsActive *bool  `form:"is_active"`
}

type LLMConfigListResponse struct {
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
	Items    []models.LLMConfig `json:"items"`
}

type CreateLLMConfigRequest struct {
	Name        string  `json:"name" binding:"required"`
	Provider    string  `json:"provider" binding:"omitempty,oneof=openai azure anthropic ollama gemini openrouter"`
	BaseURL     string  `json:"base_url"`
	APIKey      string  `json:"api_key"`
	Model       string  `json:"model" binding:"required"`
	MaxTokens   int     `json:"max_tokens" binding:"omitempty,min=1"`
	Temperature float64 `json:"temperature" binding:"omitempty,min=0,max=2"`
	TimeoutSecs int     `json:"timeout_secs" binding:"omitempty,min=1,max=600"`
	IsDefault   bool    `json:"is_default"`
	IsActive    *bool   `json:"is_active"`
}

// UpdateLLMConfigRequest changes only the fields that are set.
type UpdateLLMConfigRequest struct {
	Name        string   `json:"name"`
	Provider    string   `json:"provider" binding:"omitempty,oneof=openai azure anthropic ollama gemini openrouter"`
	BaseURL     string   `json:"base_url"`
	APIKey      string   `json:"api_key"`
	Model       string   `json:"model"`
	MaxTokens   *int     `json:"max_tokens" binding:"omitempty,min=1"`
	Temperature *float64 `json:"temperature" binding:"omitempty,min=0,max=2"`
	TimeoutSecs *int     `json:"timeout_secs" binding:"omitempty,min=1,max=600"`
	IsDefault   *bool    `json:"is_default"`
	IsActive    *bool    `json:"is_active"`
}

// checkProvider reports settings a provider cannot run without. Keys may be
// omitted for OpenAI-compatible gateways reached through base_url.
func checkProvider(cfg *models.LLMConfig) error {
	switch cfg.Provider {
	case ProviderAzure:
		if cfg.BaseURL == "" || cfg.APIKey == "" {
			return fmt.Errorf("%w: azure requires base_url and api_key", ErrLLMConfigInvalid)
		}
	case ProviderAnthropic, ProviderGemini, ProviderOpenRouter:
		if cfg.APIKey == "" {
			return fmt.Errorf("%w: %s requires api_key", ErrLLMConfigInvalid, cfg.Provider)
		}
	}
	return nil
}

func withMasks(configs []models.LLMConfig) []models.LLMConfig {
	for i := range configs {
		configs[i].APIKeyMask = configs[i].MaskAPIKey()
	}
	return configs
}

// clearDefault unsets is_default on every config except keep.
func clearDefault(tx *gorm.DB, keep uint) error {
	q := tx.Model(&models.LLMConfig{}).Where("is_default = ?", true)
	if keep != 0 {
		q = q.Where("id <> ?", keep)
	}
	return q.Update("is_default", false).Error
}

func (s *LLMConfigService) List(req *LLMConfigListRequest) (*LLMConfigListResponse, error) {
	page, size := req.Page, req.PageSize
	if page == 0 {
		page = 1
	}
	if size == 0 {
		size = 10
	}

	query := s.db.Model(&models.LLMConfig{})
	if req.Name != "" {
		like := "%" + req.Name + "%"
		query = query.Where("name LIKE ? OR model LIKE ?", like, like)
	}
	if req.Provider != "" {
		query = query.Where("provider = ?", req.Provider)
	}
	if req.IsActive != nil {
		query = query.Where("is_active = ?", *req.IsActive)
	}

	resp := &LLMConfigListResponse{Page: page, PageSize: size}
	if err := query.Count(&resp.Total).Error; err != nil {
		return nil, err
	}
	if err := query.Order(fallbackOrder).Offset((page - 1) * size).Limit(size).Find(&resp.Items).Error; err != nil {
		return nil, err
	}
	withMasks(resp.Items)
	return resp, nil
}

func (s *LLMConfigService) GetByID(id uint) (*models.LLMConfig, error) {
	var cfg models.LLMConfig
	if err := s.db.First(&cfg, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLLMConfigNotFound
		}
		return nil, err
	}
	cfg.APIKeyMask = cfg.MaskAPIKey()
	return &cfg, nil
}

// Create stores a provider. Marking it default clears the flag on the others.
func (s *LLMConfigService) Create(req *CreateLLMConfigRequest) (*models.LLMConfig, error) {
	cfg := models.LLMConfig{
		Name:        req.Name,
		Provider:    req.Provider,
		BaseURL:     req.BaseURL,
		APIKey:      req.APIKey,
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TimeoutSecs: req.TimeoutSecs,
		IsDefault:   req.IsDefault,
		IsActive:    true,
	}
	if cfg.Provider == "" {
		cfg.Provider = ProviderOpenAI
	}
	if cfg.Provider == ProviderOllama && cfg.BaseURL == "" {
		cfg.BaseURL = defaultOllamaURL
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultLLMMaxTokens
	}
	if cfg.TimeoutSecs == 0 {
		cfg.TimeoutSecs = defaultLLMTimeout
	}
	if err := checkProvider(&cfg); err != nil {
		return nil, err
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if cfg.IsDefault {
			if err := clearDefault(tx, 0); err != nil {
				return err
			}
		}
		if err := tx.Create(&cfg).Error; err != nil {
			return err
		}
		// is_active has a true column default, so a false value is written
		// after the insert.
		if req.IsActive != nil && !*req.IsActive {
			cfg.IsActive = false
			return tx.Model(&cfg).Update("is_active", false).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	cfg.APIKeyMask = cfg.MaskAPIKey()
	return &cfg, nil
}

// Update applies the set fields and revalidates the merged config.
func (s *LLMConfigService) Update(id uint, req *UpdateLLMConfigRequest) (*models.LLMConfig, error) {
	cfg, err := s.GetByID(id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	setString := func(col, v string, dst *string) {
		if v != "" {
			updates[col] = v
			*dst = v
		}
	}
	setString("name", req.Name, &cfg.Name)
	setString("provider", req.Provider, &cfg.Provider)
	setString("base_url", req.BaseURL, &cfg.BaseURL)
	setString("api_key", req.APIKey, &cfg.APIKey)
	setString("model", req.Model, &cfg.Model)
	if req.MaxTokens != nil {
		updates["max_tokens"] = *req.MaxTokens
	}
	if req.Temperature != nil {
		updates["temperature"] = *req.Temperature
	}
	if req.TimeoutSecs != nil {
		updates["timeout_secs"] = *req.TimeoutSecs
	}
	if req.IsDefault != nil {
		updates["is_default"] = *req.IsDefault
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if err := checkProvider(cfg); err != nil {
		return nil, err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if req.IsDefault != nil && *req.IsDefault {
			if err := clearDefault(tx, id); err != nil {
				return err
			}
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Model(&models.LLMConfig{ID: id}).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}
	return s.GetByID(id)
}

// Delete removes the config and unpins it from projects that used it.
func (s *LLMConfigService) Delete(id uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&models.LLMConfig{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrLLMConfigNotFound
		}
		return tx.Model(&models.Project{}).Where("llm_config_id = ?", id).Update("llm_config_id", nil).Error
	})
}

// GetActive returns active configs in fallback order.
func (s *LLMConfigService) GetActive() ([]models.LLMConfig, error) {
	var configs []models.LLMConfig
	if err := s.db.Where("is_active = ?", true).Order(fallbackOrder).Find(&configs).Error; err != nil {
		return nil, err
	}
	return withMasks(configs), nil
}
