package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/moderation"
	"gorm.io/gorm"
)

// ModerationRule is a project rule. RuleData holds the JSON payload for the
// rule type and is decoded by Rule.
type ModerationRule struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	ProjectID   uint           `gorm:"index;not null" json:"project_id"`
	Name        string         `gorm:"size:200;not null" json:"name"`
	Description string         `gorm:"type:text" json:"description"`
	RuleType    string         `gorm:"size:20;not null" json:"rule_type"` // keyword, regex, ai_prompt
	RuleData    string         `gorm:"type:text" json:"rule_data"`
	Action      string         `gorm:"size:20;not null;default:reject" json:"action"` // approve, reject, flag
	Priority    int            `gorm:"default:0;index" json:"priority"`
	IsActive    bool           `gorm:"default:true" json:"is_active"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (ModerationRule) TableName() string { return "moderation_rules" }

// Rule converts the record into the pipeline's typed rule.
func (r *ModerationRule) Rule() (moderation.Rule, error) {
	data, err := DecodeRuleData(moderation.RuleType(r.RuleType), r.RuleData)
	if err != nil {
		return moderation.Rule{}, fmt.Errorf("rule %d: %w", r.ID, err)
	}
	return moderation.Rule{
		ID:        r.ID,
		ProjectID: r.ProjectID,
		Name:      r.Name,
		Type:      moderation.RuleType(r.RuleType),
		Action:    moderation.Action(r.Action),
		Priority:  r.Priority,
		IsActive:  r.IsActive,
		Data:      data,
	}, nil
}

// DecodeRuleData parses raw JSON into the payload type for ruleType.
func DecodeRuleData(ruleType moderation.RuleType, raw string) (moderation.RuleData, error) {
	if raw == "" {
		raw = "{}"
	}
	switch ruleType {
	case moderation.RuleTypeKeyword:
		var d moderation.KeywordRuleData
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, fmt.Errorf("decode keyword rule data: %w", err)
		}
		return d, nil
	case moderation.RuleTypeRegex:
		var d moderation.RegexRuleData
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, fmt.Errorf("decode regex rule data: %w", err)
		}
		return d, nil
	case moderation.RuleTypeAIPrompt:
		var d moderation.PromptRuleData
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, fmt.Errorf("decode prompt rule data: %w", err)
		}
		return d, nil
	}
	return nil, fmt.Errorf("unknown rule type %q", ruleType)
}

// EncodeRuleData is the inverse of DecodeRuleData.
func EncodeRuleData(data moderation.RuleData) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
