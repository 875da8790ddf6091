package moderation

import "testing"

func TestEscalationPolicy_ShouldFlag(t *testing.T) {
	p := DefaultEscalationPolicy()
	aiResult := func(d Decision, conf float64) RuleResult {
		return RuleResult{Decision: d, Confidence: conf, RuleType: RuleTypeAIPrompt}
	}

	tests := []struct {
		name     string
		decision Decision
		results  []RuleResult
		aiRules  int
		want     bool
	}{
		{"no results", DecisionApproved, nil, 0, false},
		{"confident approval", DecisionApproved, []RuleResult{approved(0.9)}, 0, false},
		{"low confidence approval", DecisionApproved, []RuleResult{approved(0.1)}, 0, true},
		{"rejection at band floor", DecisionRejected, []RuleResult{{Decision: DecisionRejected, Confidence: 0.3}}, 0, true},
		{"rejection at band ceiling", DecisionRejected, []RuleResult{{Decision: DecisionRejected, Confidence: 0.6}}, 0, true},
		{"confident rejection", DecisionRejected, []RuleResult{{Decision: DecisionRejected, Confidence: 0.61}}, 0, false},
		{"approval in band", DecisionApproved, []RuleResult{approved(0.5)}, 0, false},
		{"conflicting ai rules", DecisionRejected, []RuleResult{aiResult(DecisionRejected, 0.9), aiResult(DecisionApproved, 0.9)}, 2, true},
		{"agreeing ai rules", DecisionRejected, []RuleResult{aiResult(DecisionRejected, 0.9), aiResult(DecisionRejected, 0.8)}, 2, false},
		{"single ai rule", DecisionRejected, []RuleResult{aiResult(DecisionRejected, 0.9), aiResult(DecisionApproved, 0.9)}, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, _ := p.ShouldFlag(tt.decision, tt.results, tt.aiRules); got != tt.want {
				t.Errorf("ShouldFlag() = %v, want %v", got, tt.want)
			}
		})
	}
}
