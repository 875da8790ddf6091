package moderation

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Decision is the outcome of a rule, an AI pass, or a whole moderation call.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
	DecisionFlagged  Decision = "flagged"
)

// Valid reports whether d is one of the three terminal decisions.
func (d Decision) Valid() bool {
	switch d {
	case DecisionApproved, DecisionRejected, DecisionFlagged:
		return true
	}
	return false
}

type RuleType string

const (
	RuleTypeKeyword  RuleType = "keyword"
	RuleTypeRegex    RuleType = "regex"
	RuleTypeAIPrompt RuleType = "ai_prompt"
)

// IsFast reports whether the rule type is evaluated locally without AI calls.
func (t RuleType) IsFast() bool {
	return t == RuleTypeKeyword || t == RuleTypeRegex
}

// Action is what a matched rule does to the content.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionFlag    Action = "flag"
)

// Decision maps the action onto the decision it produces. Unknown actions are
// passed through unchanged so the orchestrator's validity check catches them.
func (a Action) Decision() Decision {
	switch a {
	case ActionApprove:
		return DecisionApproved
	case ActionReject:
		return DecisionRejected
	case ActionFlag:
		return DecisionFlagged
	}
	return Decision(a)
}

type ModeratorType string

const (
	ModeratorRule   ModeratorType = "rule"
	ModeratorAI     ModeratorType = "ai"
	ModeratorSystem ModeratorType = "system"
	ModeratorManual ModeratorType = "manual"
)

// Category tags attached to results for diagnostics.
const (
	CategoryConfigurationError = "configuration_error"
	CategoryAPIConnectionError = "api_connection_error"
	CategoryError              = "error"
	CategoryCustomRule         = "custom_rule"
	CategoryEnhancedSafety     = "enhanced_safety"
	CategoryRulesPassed        = "rules_passed"
)

// RuleData is the type-specific payload of a rule. It is implemented by
// KeywordRuleData, RegexRuleData and PromptRuleData only.
type RuleData interface {
	RuleType() RuleType
}

// KeywordRuleData matches when any keyword is a substring of the content.
// Entries may themselves hold comma or newline separated lists.
type KeywordRuleData struct {
	Keywords      []string `json:"keywords"`
	CaseSensitive bool     `json:"case_sensitive"`
}

func (KeywordRuleData) RuleType() RuleType { return RuleTypeKeyword }

// UnmarshalJSON accepts keywords as a list or as one comma or newline
// separated string, which is split into a list.
func (d *KeywordRuleData) UnmarshalJSON(b []byte) error {
	var raw struct {
		Keywords      json.RawMessage `json:"keywords"`
		CaseSensitive bool            `json:"case_sensitive"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	d.CaseSensitive = raw.CaseSensitive
	d.Keywords = nil
	if len(raw.Keywords) == 0 || string(raw.Keywords) == "null" {
		return nil
	}

	var joined string
	if err := json.Unmarshal(raw.Keywords, &joined); err == nil {
		d.Keywords = KeywordRuleData{Keywords: []string{joined}}.List()
		return nil
	}
	if err := json.Unmarshal(raw.Keywords, &d.Keywords); err != nil {
		return errors.New("keywords must be a string or a list of strings")
	}
	return nil
}

// List returns the flattened, trimmed keyword list.
func (d KeywordRuleData) List() []string {
	var out []string
	for _, entry := range d.Keywords {
		for _, kw := range strings.FieldsFunc(entry, func(r rune) bool { return r == ',' || r == '\n' }) {
			if kw = strings.TrimSpace(kw); kw != "" {
				out = append(out, kw)
			}
		}
	}
	return out
}

// RegexRuleData matches a regular expression. Supported flags are i, m and s.
type RegexRuleData struct {
	Pattern string   `json:"pattern"`
	Flags   []string `json:"flags"`
}

func (RegexRuleData) RuleType() RuleType { return RuleTypeRegex }

// PromptRuleData is a natural-language rule judged by the AI backend.
type PromptRuleData struct {
	Prompt string `json:"prompt"`
}

func (PromptRuleData) RuleType() RuleType { return RuleTypeAIPrompt }

// Rule is a read-only snapshot of a moderation rule.
type Rule struct {
	ID        uint
	ProjectID uint
	Name      string
	Type      RuleType
	Action    Action
	Priority  int
	IsActive  bool
	Data      RuleData
}

// Content is a submitted item as seen by the pipeline.
type Content struct {
	ID          uint
	ProjectID   uint
	APIUserID   *uint
	ContentType string
	Data        string
	Metadata    map[string]interface{}
}

// RuleResult is the outcome of a single rule or AI pass.
type RuleResult struct {
	Decision       Decision           `json:"decision"`
	Confidence     float64            `json:"confidence"`
	Reason         string             `json:"reason"`
	ModeratorType  ModeratorType      `json:"moderator_type"`
	RuleID         *uint              `json:"rule_id,omitempty"`
	RuleName       string             `json:"rule_name,omitempty"`
	RuleType       RuleType           `json:"rule_type,omitempty"`
	ProcessingTime time.Duration      `json:"processing_time"`
	Categories     map[string]bool    `json:"categories,omitempty"`
	CategoryScores map[string]float64 `json:"category_scores,omitempty"`
	OpenAIFlagged  bool               `json:"openai_flagged,omitempty"`
	ChunkCount     int                `json:"chunk_count,omitempty"`
	RejectedChunks int                `json:"rejected_chunks,omitempty"`
	OriginalLength int                `json:"original_length,omitempty"`
}

// HasCategory reports whether the category tag is present, regardless of value.
func (r RuleResult) HasCategory(name string) bool {
	_, ok := r.Categories[name]
	return ok
}

// Clone returns a deep copy so cached results cannot be mutated by callers.
func (r RuleResult) Clone() RuleResult {
	out := r
	if r.Categories != nil {
		out.Categories = make(map[string]bool, len(r.Categories))
		for k, v := range r.Categories {
			out.Categories[k] = v
		}
	}
	if r.CategoryScores != nil {
		out.CategoryScores = make(map[string]float64, len(r.CategoryScores))
		for k, v := range r.CategoryScores {
			out.CategoryScores[k] = v
		}
	}
	if r.RuleID != nil {
		id := *r.RuleID
		out.RuleID = &id
	}
	return out
}

// FinalDecision is the orchestrator's output for one content item.
type FinalDecision struct {
	ContentID    uint          `json:"content_id"`
	Decision     Decision      `json:"decision"`
	Results      []RuleResult  `json:"results"`
	RulesChecked int           `json:"rules_checked"`
	Elapsed      time.Duration `json:"elapsed"`
	// Err is set when the pipeline failed and the decision is the fail-closed default.
	Err error `json:"-"`
}

// Primary returns the first result of the evidence trail.
func (d *FinalDecision) Primary() (RuleResult, bool) {
	if d == nil || len(d.Results) == 0 {
		return RuleResult{}, false
	}
	return d.Results[0], true
}

func singleCategory(name string, matched bool, score float64) (map[string]bool, map[string]float64) {
	return map[string]bool{name: matched}, map[string]float64{name: score}
}

func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
