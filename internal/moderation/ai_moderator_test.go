package moderation

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
)

func TestParseCustomDecision(t *testing.T) {
	tests := []struct {
		name       string
		reply      string
		decision   Decision
		confidence float64
		reason     string
		parsed     bool
	}{
		{"confident rejection", `{"decision": "rejected", "reason": "spam", "confidence": 0.9}`, DecisionRejected, 0.9, "spam", true},
		{"low confidence rejection", `{"decision": "rejected", "reason": "maybe spam", "confidence": 0.5}`, DecisionApproved, 0.5,
			"Low confidence rejection (0.50 < 0.55) - approved instead. Original reason: maybe spam", true},
		{"approval", `{"decision": "approved", "reason": "fine", "confidence": 0.95}`, DecisionApproved, 0.95, "fine", true},
		{"invalid decision", `{"decision": "unsure", "reason": "hmm", "confidence": 0.9}`, DecisionApproved, 0.9, "hmm", true},
		{"missing fields", `{"decision": "approved"}`, DecisionApproved, 0.3, "Malformed AI response - defaulting to approval", true},
		{"code fence", "```json\n{\"decision\": \"rejected\", \"reason\": \"abuse\", \"confidence\": 0.8}\n```", DecisionRejected, 0.8, "abuse", true},
		{"malformed with severity", "I would reject this, it is explicit", DecisionRejected, 0.6,
			"Parsed from malformed response: I would reject this, it is explicit", false},
		{"malformed without severity", "I would reject this", DecisionApproved, 0.3,
			"Parsed from malformed response: I would reject this", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, parsed := parseCustomDecision(tt.reply, DefaultMinRejectionConfidence)
			if got.Decision != tt.decision || got.Confidence != tt.confidence || got.Reason != tt.reason || parsed != tt.parsed {
				t.Errorf("parseCustomDecision() = (%s, %v, %q, %v), want (%s, %v, %q, %v)",
					got.Decision, got.Confidence, got.Reason, parsed, tt.decision, tt.confidence, tt.reason, tt.parsed)
			}
			if !got.HasCategory(CategoryCustomRule) {
				t.Errorf("missing %s category: %v", CategoryCustomRule, got.Categories)
			}
		})
	}
}

func TestParseCustomDecision_MalformedBelowGate(t *testing.T) {
	got, _ := parseCustomDecision("reject: harmful", 0.7)
	if got.Decision != DecisionApproved {
		t.Fatalf("Decision = %s, want approved", got.Decision)
	}
	if !strings.HasPrefix(got.Reason, "Malformed AI response with low confidence (0.60) - approved.") {
		t.Errorf("unexpected reason %q", got.Reason)
	}
}

func TestParseEnhancedDecision(t *testing.T) {
	tests := []struct {
		name       string
		reply      string
		decision   Decision
		confidence float64
		parsed     bool
	}{
		{"approval", `{"decision": "approved", "reason": "safe", "confidence": 0.95}`, DecisionApproved, 0.95, true},
		{"rejection at any confidence", `{"decision": "rejected", "reason": "hate", "confidence": 0.4}`, DecisionRejected, 0.4, true},
		{"invalid decision", `{"decision": "unsure", "reason": "?", "confidence": 0.9}`, DecisionRejected, 0.9, true},
		{"missing confidence", `{"decision": "approved", "reason": "safe"}`, DecisionApproved, 0.8, true},
		{"malformed approved", "Content approved, nothing wrong", DecisionApproved, 0.8, false},
		{"malformed ambiguous", "Approved? No, reject it.", DecisionRejected, 0.8, false},
		{"malformed empty", "", DecisionRejected, 0.8, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, parsed := parseEnhancedDecision(tt.reply)
			if got.Decision != tt.decision || got.Confidence != tt.confidence || parsed != tt.parsed {
				t.Errorf("parseEnhancedDecision() = (%s, %v, %v), want (%s, %v, %v)",
					got.Decision, got.Confidence, parsed, tt.decision, tt.confidence, tt.parsed)
			}
			if !got.HasCategory(CategoryEnhancedSafety) {
				t.Errorf("missing %s category", CategoryEnhancedSafety)
			}
		})
	}
}

func TestAnalyzeWithPrompt_NeverRejectsBelowGate(t *testing.T) {
	for _, conf := range []string{"0.0", "0.3", "0.54", "0.549"} {
		b := &fakeBackend{configured: true, complete: replyWith(`{"decision": "rejected", "reason": "x", "confidence": ` + conf + `}`)}
		got := newTestClient(b).AnalyzeWithPrompt(context.Background(), "content", "no spam")
		if got.Decision == DecisionRejected {
			t.Errorf("confidence %s: rejection below 0.55 must be approved", conf)
		}
	}
}

func TestAnalyzeWithPrompt_CachesParsedResultsOnly(t *testing.T) {
	ctx := context.Background()

	b := &fakeBackend{configured: true, complete: replyWith(`{"decision": "approved", "reason": "ok", "confidence": 0.9}`)}
	c := newTestClient(b)
	c.AnalyzeWithPrompt(ctx, "content", "no spam")
	c.AnalyzeWithPrompt(ctx, "content", "no spam")
	if got := b.completeCalls.Load(); got != 1 {
		t.Errorf("parsed result should be cached, backend called %d times", got)
	}

	b = &fakeBackend{configured: true, complete: replyWith("not json")}
	c = newTestClient(b)
	c.AnalyzeWithPrompt(ctx, "content", "no spam")
	c.AnalyzeWithPrompt(ctx, "content", "no spam")
	if got := b.completeCalls.Load(); got != 2 {
		t.Errorf("malformed result should not be cached, backend called %d times", got)
	}
}

func TestBaselineClassifier(t *testing.T) {
	b := &fakeBackend{configured: true, classify: func(context.Context, string) (*Classification, error) {
		return &Classification{
			Flagged:    true,
			Categories: map[string]bool{"violence": true, "hate": true, "sexual": false},
			Scores:     map[string]float64{"violence": 0.7, "hate": 0.92, "sexual": 0.01},
		}, nil
	}}
	got := newTestClient(b).BaselineClassifier(context.Background(), "content")

	if got.Decision != DecisionRejected || got.Confidence != 0.92 || !got.OpenAIFlagged {
		t.Errorf("unexpected result: %+v", got)
	}
	if got.Reason != "Content flagged by moderation classifier for: hate, violence" {
		t.Errorf("unexpected reason %q", got.Reason)
	}
	if got.HasCategory("sexual") {
		t.Error("unflagged categories should be dropped")
	}

	b.classify = nil
	pass := newTestClient(b).BaselineClassifier(context.Background(), "content")
	if pass.Decision != DecisionApproved || pass.Confidence != 0.8 {
		t.Errorf("unexpected pass-through result: %+v", pass)
	}
}

func TestModerate_BaselineRejectionSkipsEnhanced(t *testing.T) {
	b := &fakeBackend{configured: true, classify: func(context.Context, string) (*Classification, error) {
		return &Classification{Flagged: true, Categories: map[string]bool{"hate": true}, Scores: map[string]float64{"hate": 0.99}}, nil
	}}
	got := newTestClient(b).Moderate(context.Background(), "content", "text", "")
	if got.Decision != DecisionRejected {
		t.Errorf("Decision = %s, want rejected", got.Decision)
	}
	if b.completeCalls.Load() != 0 {
		t.Error("enhanced analysis should not run after a baseline rejection")
	}
}

func TestModerate_NoClassifierFallsThroughToEnhanced(t *testing.T) {
	b := &fakeBackend{
		configured: true,
		classify: func(context.Context, string) (*Classification, error) {
			return nil, ErrBackendNotConfigured
		},
		complete: replyWith(`{"decision": "approved", "reason": "friendly greeting", "confidence": 0.95}`),
	}
	got := newTestClient(b).Moderate(context.Background(), "Hello, how are you?", "text", "")

	if got.Decision != DecisionApproved {
		t.Errorf("Decision = %s, expected approved", got.Decision)
	}
	if got.HasCategory(CategoryConfigurationError) {
		t.Errorf("missing classifier should not be reported as a configuration error: %+v", got)
	}
	if got.Reason != "friendly greeting" {
		t.Errorf("Reason = %q, expected the enhanced analysis reason", got.Reason)
	}
	if b.classifyCalls.Load() != 1 {
		t.Errorf("classify calls = %d, expected 1 (no retry)", b.classifyCalls.Load())
	}
	if b.completeCalls.Load() != 1 {
		t.Errorf("complete calls = %d, expected 1", b.completeCalls.Load())
	}
}

func TestModerate_Unconfigured(t *testing.T) {
	b := &fakeBackend{configured: false}
	got := newTestClient(b).Moderate(context.Background(), "content", "text", "rule")
	if got.Decision != DecisionRejected || !got.HasCategory(CategoryConfigurationError) {
		t.Errorf("unexpected result: %+v", got)
	}
	if b.completeCalls.Load() != 0 || b.classifyCalls.Load() != 0 {
		t.Error("unconfigured backend must not be called")
	}
}

func TestModerate_RetryPolicy(t *testing.T) {
	transient := NewTransientError("openai", 503, errors.New("unavailable"))
	permanent := NewPermanentError("openai", 401, errors.New("bad key"))

	tests := []struct {
		name     string
		failures int
		err      error
		calls    int32
		decision Decision
		category string
	}{
		{"transient then success", 2, transient, 3, DecisionApproved, CategoryCustomRule},
		{"transient exhausted", 100, transient, 4, DecisionApproved, CategoryAPIConnectionError},
		{"permanent not retried", 100, permanent, 1, DecisionApproved, CategoryAPIConnectionError},
		{"local error fails closed", 100, errors.New("bad state"), 1, DecisionRejected, CategoryError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBackend{configured: true}
			b.complete = func(context.Context, CompletionRequest) (string, error) {
				if int(b.completeCalls.Load()) <= tt.failures {
					return "", tt.err
				}
				return `{"decision": "approved", "reason": "ok", "confidence": 0.9}`, nil
			}

			got := newTestClient(b).AnalyzeWithPrompt(context.Background(), "content", "rule")
			if b.completeCalls.Load() != tt.calls {
				t.Errorf("backend called %d times, want %d", b.completeCalls.Load(), tt.calls)
			}
			if got.Decision != tt.decision || !got.HasCategory(tt.category) {
				t.Errorf("got (%s, %v), want (%s, %s)", got.Decision, got.Categories, tt.decision, tt.category)
			}
			if tt.category != CategoryCustomRule && got.Confidence != 0 {
				t.Errorf("failure result confidence = %v, want 0", got.Confidence)
			}
		})
	}
}

func TestModerate_ChunkedEarlyExit(t *testing.T) {
	para := strings.Repeat("word ", 4000)
	content := para + "\n\n" + para + "\n\n" + para

	b := &fakeBackend{configured: true, complete: replyWith(`{"decision": "rejected", "reason": "spam", "confidence": 0.9}`)}
	got := newTestClient(b).Moderate(context.Background(), content, "text", "no spam")

	if got.Decision != DecisionRejected {
		t.Fatalf("Decision = %s, want rejected", got.Decision)
	}
	if b.completeCalls.Load() != 1 {
		t.Errorf("chunked analysis should stop at the first rejected chunk, called %d times", b.completeCalls.Load())
	}
	if got.OriginalLength != len(content) || got.RejectedChunks != 1 {
		t.Errorf("unexpected chunk diagnostics: %+v", got)
	}
}

func TestModerate_ChunkedAllApproved(t *testing.T) {
	para := strings.Repeat("word ", 4000)
	content := para + "\n\n" + para + "\n\n" + para

	b := &fakeBackend{configured: true}
	got := newTestClient(b).Moderate(context.Background(), content, "text", "")

	if got.Decision != DecisionApproved || got.ChunkCount != 2 {
		t.Fatalf("unexpected result: %+v", got)
	}
	if b.completeCalls.Load() != 2 || b.classifyCalls.Load() != 1 {
		t.Errorf("calls: complete=%d classify=%d", b.completeCalls.Load(), b.classifyCalls.Load())
	}
}

func TestCombineChunkResults(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		got := CombineChunkResults(nil, 0)
		if got.Decision != DecisionRejected || got.Reason != "No moderation results available" {
			t.Errorf("unexpected result: %+v", got)
		}
	})

	t.Run("mean of approvals", func(t *testing.T) {
		got := CombineChunkResults([]RuleResult{approved(0.9), approved(0.6), approved(0.75)}, 100)
		if got.Decision != DecisionApproved || math.Abs(got.Confidence-0.75) > 1e-6 {
			t.Errorf("unexpected result: %+v", got)
		}
		if got.Reason != "All 3 content chunks passed moderation" {
			t.Errorf("unexpected reason %q", got.Reason)
		}
	})

	t.Run("any rejection rejects all", func(t *testing.T) {
		results := []RuleResult{
			approved(0.9),
			{Decision: DecisionRejected, Confidence: 0.7, Reason: "first", Categories: map[string]bool{"spam": true}},
			{Decision: DecisionRejected, Confidence: 0.95, Reason: "second", Categories: map[string]bool{"hate": true}},
			{Decision: DecisionRejected, Confidence: 0.95, Reason: "third"},
		}
		got := CombineChunkResults(results, 500)
		if got.Decision != DecisionRejected || got.Confidence != 0.95 {
			t.Fatalf("unexpected result: %+v", got)
		}
		if got.Reason != "Content rejected (analyzed 4 chunks, 3 flagged): second" {
			t.Errorf("unexpected reason %q", got.Reason)
		}
		if !got.Categories["spam"] || !got.Categories["hate"] {
			t.Errorf("categories should be merged: %v", got.Categories)
		}
		if got.ChunkCount != 4 || got.RejectedChunks != 3 || got.OriginalLength != 500 {
			t.Errorf("unexpected diagnostics: %+v", got)
		}
	})
}
