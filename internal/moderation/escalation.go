package moderation

// EscalationPolicy decides when an automated decision goes to manual review.
type EscalationPolicy struct {
	LowConfidence  float64
	RejectBandLow  float64
	RejectBandHigh float64
}

func DefaultEscalationPolicy() EscalationPolicy {
	return EscalationPolicy{LowConfidence: 0.3, RejectBandLow: 0.3, RejectBandHigh: 0.6}
}

// ShouldFlag reports whether decision should be overridden to flagged, and why.
// Results are the evidence trail; the first one is primary.
func (p EscalationPolicy) ShouldFlag(decision Decision, results []RuleResult, aiRuleCount int) (bool, string) {
	if len(results) == 0 {
		return false, ""
	}
	primary := results[0]

	if primary.Confidence < p.LowConfidence {
		return true, "low confidence"
	}
	if decision == DecisionRejected && primary.Confidence >= p.RejectBandLow && primary.Confidence <= p.RejectBandHigh {
		return true, "uncertain rejection"
	}
	if aiRuleCount > 1 && aiResultsConflict(results) {
		return true, "conflicting AI rule results"
	}
	return false, ""
}

func aiResultsConflict(results []RuleResult) bool {
	var first Decision
	for _, r := range results {
		if r.RuleType != RuleTypeAIPrompt {
			continue
		}
		if first == "" {
			first = r.Decision
			continue
		}
		if r.Decision != first {
			return true
		}
	}
	return false
}
