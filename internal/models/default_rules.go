package models

import (
	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/moderation"
	"gorm.io/gorm"
)

type defaultRule struct {
	Name   string
	Prompt string
}

// defaultRules are installed into every new project as reject-on-match AI rules.
var defaultRules = []defaultRule{
	{"Fraud & Impersonation", "Content that misrepresents identity, scams users, or spreads fraudulent schemes."},
	{"Phishing & Unauthorized Data Collection", "Any attempt to collect user data unlawfully, " +
		"including deceptive AI-generated content designed to steal credentials."},
	{"Misleading AI Content", "AI-generated content that spreads false information, " +
		"deepfakes, or impersonates individuals without disclosure."},
	{"Illegal Content", "Content that violates applicable laws, " +
		"including terrorism, child exploitation, and financial crimes."},
	{"Spam & Unsolicited Promotions", "Unwanted advertising, excessive marketing, and pyramid schemes."},
}

const defaultRulePriority = 100

// DefaultRules returns the default rule set for projectID, ready to insert.
func DefaultRules(projectID uint) []ModerationRule {
	rules := make([]ModerationRule, 0, len(defaultRules))
	for _, r := range defaultRules {
		data, _ := EncodeRuleData(moderation.PromptRuleData{Prompt: r.Prompt})
		rules = append(rules, ModerationRule{
			ProjectID:   projectID,
			Name:        r.Name,
			Description: r.Prompt,
			RuleType:    string(moderation.RuleTypeAIPrompt),
			RuleData:    data,
			Action:      string(moderation.ActionReject),
			Priority:    defaultRulePriority,
			IsActive:    true,
		})
	}
	return rules
}

// CreateDefaultRules inserts the default rule set for projectID.
func CreateDefaultRules(tx *gorm.DB, projectID uint) error {
	rules := DefaultRules(projectID)
	return tx.Create(&rules).Error
}
