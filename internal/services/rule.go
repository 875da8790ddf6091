package services

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/models"
	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/moderation"
	"gorm.io/gorm"
)

var (
	ErrRuleNotFound = errors.New("rule not found")
	ErrInvalidRule  = errors.New("invalid rule")
)

// RuleInvalidator drops cached rule sets after a rule changes.
type RuleInvalidator interface {
	InvalidateRules(projectIDs ...uint)
}

type RuleService struct {
	db       *gorm.DB
	cache    RuleInvalidator
	notifier *NotificationService
}

func NewRuleService(db *gorm.DB, cache RuleInvalidator, notifier *NotificationService) *RuleService {
	return &RuleService{db: db, cache: cache, notifier: notifier}
}

type CreateRuleRequest struct {
	Name        string          `json:"name" binding:"required,max=200"`
	Description string          `json:"description"`
	RuleType    string          `json:"rule_type" binding:"required,oneof=keyword regex ai_prompt"`
	RuleData    json.RawMessage `json:"rule_data" binding:"required"`
	Action      string          `json:"action" binding:"omitempty,oneof=approve reject flag"`
	Priority    int             `json:"priority"`
	IsActive    *bool           `json:"is_active"`
}

type UpdateRuleRequest struct {
	Name        string          `json:"name" binding:"omitempty,max=200"`
	Description *string         `json:"description"`
	RuleType    string          `json:"rule_type" binding:"omitempty,oneof=keyword regex ai_prompt"`
	RuleData    json.RawMessage `json:"rule_data"`
	Action      string          `json:"action" binding:"omitempty,oneof=approve reject flag"`
	Priority    *int            `json:"priority"`
	IsActive    *bool           `json:"is_active"`
}

// List returns every rule of the project, highest priority first.
func (s *RuleService) List(projectID uint) ([]models.ModerationRule, error) {
	var rules []models.ModerationRule
	if err := s.db.Where("project_id = ?", projectID).
		Order("priority DESC, id ASC").
		Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

func (s *RuleService) GetByID(projectID, id uint) (*models.ModerationRule, error) {
	var rule models.ModerationRule
	if err := s.db.Where("project_id = ?", projectID).First(&rule, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	return &rule, nil
}

func (s *RuleService) Create(projectID uint, req *CreateRuleRequest) (*models.ModerationRule, error) {
	data, err := normalizeRuleData(req.RuleType, req.RuleData)
	if err != nil {
		return nil, err
	}
	if req.Action == "" {
		req.Action = string(moderation.ActionReject)
	}

	rule := models.ModerationRule{
		ProjectID:   projectID,
		Name:        req.Name,
		Description: req.Description,
		RuleType:    req.RuleType,
		RuleData:    data,
		Action:      req.Action,
		Priority:    req.Priority,
		IsActive:    true,
	}
	if err := s.db.Create(&rule).Error; err != nil {
		return nil, err
	}
	// is_active defaults to true in the schema, so an inactive rule is written in a second step.
	if req.IsActive != nil && !*req.IsActive {
		if err := s.db.Model(&rule).Update("is_active", false).Error; err != nil {
			return nil, err
		}
	}

	s.changed(&rule, "created")
	return &rule, nil
}

func (s *RuleService) Update(projectID, id uint, req *UpdateRuleRequest) (*models.ModerationRule, error) {
	rule, err := s.GetByID(projectID, id)
	if err != nil {
		return nil, err
	}

	updates := make(map[string]interface{})
	ruleType := rule.RuleType
	if req.RuleType != "" {
		ruleType = req.RuleType
		updates["rule_type"] = req.RuleType
	}
	if len(req.RuleData) > 0 {
		data, err := normalizeRuleData(ruleType, req.RuleData)
		if err != nil {
			return nil, err
		}
		updates["rule_data"] = data
	} else if ruleType != rule.RuleType {
		if _, err := normalizeRuleData(ruleType, json.RawMessage(rule.RuleData)); err != nil {
			return nil, err
		}
	}
	if req.Name != "" {
		updates["name"] = req.Name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Action != "" {
		updates["action"] = req.Action
	}
	if req.Priority != nil {
		updates["priority"] = *req.Priority
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}

	if len(updates) > 0 {
		if err := s.db.Model(rule).Updates(updates).Error; err != nil {
			return nil, err
		}
	}

	rule, err = s.GetByID(projectID, id)
	if err != nil {
		return nil, err
	}
	s.changed(rule, "updated")
	return rule, nil
}

// Toggle flips the rule's active flag.
func (s *RuleService) Toggle(projectID, id uint) (*models.ModerationRule, error) {
	rule, err := s.GetByID(projectID, id)
	if err != nil {
		return nil, err
	}
	active := !rule.IsActive
	if err := s.db.Model(rule).Update("is_active", active).Error; err != nil {
		return nil, err
	}
	rule.IsActive = active
	s.changed(rule, "updated")
	return rule, nil
}

func (s *RuleService) Delete(projectID, id uint) error {
	rule, err := s.GetByID(projectID, id)
	if err != nil {
		return err
	}
	if err := s.db.Delete(rule).Error; err != nil {
		return err
	}
	s.changed(rule, "deleted")
	return nil
}

// changed invalidates the project's cached rules and tells dashboards.
func (s *RuleService) changed(rule *models.ModerationRule, action string) {
	if s.cache != nil {
		s.cache.InvalidateRules(rule.ProjectID)
	}
	if s.notifier != nil {
		s.notifier.PublishRuleUpdate(rule, action)
	}
}

// normalizeRuleData checks the payload against its rule type and returns it
// re-encoded in canonical form.
func normalizeRuleData(ruleType string, raw json.RawMessage) (string, error) {
	data, err := models.DecodeRuleData(moderation.RuleType(ruleType), string(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if err := moderation.ValidateRuleData(data); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return models.EncodeRuleData(data)
}
