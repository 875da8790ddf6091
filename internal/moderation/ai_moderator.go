package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/logger"
	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultMinRejectionConfidence = 0.55

	customFallbackRejectConfidence  = 0.6
	customFallbackApproveConfidence = 0.3
	customMissingConfidence         = 0.3
	customFallbackScore             = 0.7
	enhancedDefaultConfidence       = 0.8
	baselinePassConfidence          = 0.8
)

var severityWords = []string{"explicit", "inappropriate", "harmful", "violates"}

type AIClientConfig struct {
	Model                  string
	ContextWindow          int
	MaxOutputTokens        int
	MinRejectionConfidence float64
	MaxRetries             uint64
	InitialBackoff         time.Duration
	MaxBackoff             time.Duration
}

func DefaultAIClientConfig() AIClientConfig {
	return AIClientConfig{
		Model:                  "gpt-5-nano-2025-08-07",
		ContextWindow:          400000,
		MaxOutputTokens:        128000,
		MinRejectionConfidence: DefaultMinRejectionConfidence,
		MaxRetries:             3,
		InitialBackoff:         time.Second,
		MaxBackoff:             10 * time.Second,
	}
}

// AIModerationClient runs the layered AI checks: the baseline classifier, the
// enhanced default analysis, and custom-prompt analysis, chunking content that
// exceeds the token budget.
type AIModerationClient struct {
	backend Backend
	budget  *TokenBudgeter
	cache   *ResultCache
	cfg     AIClientConfig
}

func NewAIModerationClient(backend Backend, budget *TokenBudgeter, cache *ResultCache, cfg AIClientConfig) *AIModerationClient {
	def := DefaultAIClientConfig()
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = def.ContextWindow
	}
	if cfg.MaxOutputTokens < 0 {
		cfg.MaxOutputTokens = def.MaxOutputTokens
	}
	if cfg.MinRejectionConfidence <= 0 {
		cfg.MinRejectionConfidence = def.MinRejectionConfidence
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if budget == nil {
		budget = NewTokenBudgeter(nil)
	}
	if cache == nil {
		cache = NewResultCache(DefaultResultCacheConfig())
	}
	return &AIModerationClient{backend: backend, budget: budget, cache: cache, cfg: cfg}
}

func (c *AIModerationClient) Cache() *ResultCache { return c.cache }

func (c *AIModerationClient) Configured() bool {
	return c.backend != nil && c.backend.Configured()
}

// Moderate analyses content. With a custom prompt only that prompt is checked;
// otherwise the baseline classifier runs first and the enhanced default
// analysis runs if it passes.
func (c *AIModerationClient) Moderate(ctx context.Context, content, contentType, customPrompt string) RuleResult {
	start := time.Now()
	if !c.Configured() {
		return configurationErrorResult()
	}

	var result RuleResult
	if customPrompt != "" {
		maxTokens := c.budget.MaxContentTokens(c.cfg.ContextWindow, c.cfg.MaxOutputTokens, customPrompt)
		result = c.analyzeInChunks(ctx, content, maxTokens, func(chunk string) RuleResult {
			return c.AnalyzeWithPrompt(ctx, chunk, customPrompt)
		})
	} else {
		baseline := c.BaselineClassifier(ctx, content)
		if baseline.Decision == DecisionRejected {
			baseline.ProcessingTime = time.Since(start)
			return baseline
		}
		maxTokens := c.budget.MaxContentTokens(c.cfg.ContextWindow, c.cfg.MaxOutputTokens, "")
		result = c.analyzeInChunks(ctx, content, maxTokens, func(chunk string) RuleResult {
			return c.EnhancedDefaultAnalysis(ctx, chunk)
		})
	}
	result.ProcessingTime = time.Since(start)
	return result
}

// analyzeInChunks runs analyze once when content fits, otherwise per chunk in
// order, stopping at the first rejected chunk.
func (c *AIModerationClient) analyzeInChunks(ctx context.Context, content string, maxTokens int, analyze func(string) RuleResult) RuleResult {
	tokens := c.budget.CountTokens(content)
	if tokens <= maxTokens {
		return analyze(content)
	}

	chunks := c.budget.SplitIntoChunks(content, maxTokens)
	logger.Infof("[AI] Content has %d tokens, split into %d chunks (limit %d)", tokens, len(chunks), maxTokens)

	results := make([]RuleResult, 0, len(chunks))
	for _, chunk := range chunks {
		if ctx.Err() != nil {
			break
		}
		r := analyze(chunk)
		results = append(results, r)
		if r.Decision == DecisionRejected {
			break
		}
	}
	return CombineChunkResults(results, len(content))
}

// AnalyzeWithPrompt checks one chunk against an operator-supplied rule. A
// rejection below the minimum confidence is downgraded to approved, and an
// unparseable reply defaults toward approval.
func (c *AIModerationClient) AnalyzeWithPrompt(ctx context.Context, chunk, prompt string) RuleResult {
	key := GenerateKey(chunk, prompt)
	if cached, ok := c.cache.Get(key); ok {
		return cached
	}

	text, err := c.complete(ctx, customRuleSystemPrompt, customRuleUserPrompt(prompt, chunk))
	if err != nil {
		return c.failureResult(err, "Custom analysis")
	}

	result, parsed := parseCustomDecision(text, c.cfg.MinRejectionConfidence)
	if parsed {
		c.cache.Put(key, result)
	}
	return result
}

// EnhancedDefaultAnalysis checks one chunk with the strict default safety
// prompt. An unparseable or ambiguous reply defaults toward rejection.
func (c *AIModerationClient) EnhancedDefaultAnalysis(ctx context.Context, chunk string) RuleResult {
	key := GenerateKey(chunk, "")
	if cached, ok := c.cache.Get(key); ok {
		return cached
	}

	text, err := c.complete(ctx, enhancedSystemPrompt, enhancedUserPrompt(chunk))
	if err != nil {
		return c.failureResult(err, "Enhanced moderation")
	}

	result, parsed := parseEnhancedDecision(text)
	if parsed {
		c.cache.Put(key, result)
	}
	return result
}

// BaselineClassifier runs the provider's harmful-content classifier. A flagged
// result is rejected with the top category score as confidence. When only
// completion providers are configured the layer is skipped and approves.
func (c *AIModerationClient) BaselineClassifier(ctx context.Context, content string) RuleResult {
	var cls *Classification
	err := c.retry(ctx, func() error {
		var callErr error
		cls, callErr = c.backend.Classify(ctx, content)
		return callErr
	})
	if errors.Is(err, ErrBackendNotConfigured) && c.Configured() {
		aiCalls.WithLabelValues("classify", "skipped").Inc()
		return RuleResult{
			Decision:      DecisionApproved,
			Confidence:    baselinePassConfidence,
			Reason:        "Baseline moderation not configured - skipped",
			ModeratorType: ModeratorAI,
		}
	}
	if err != nil {
		aiCalls.WithLabelValues("classify", "error").Inc()
		return c.failureResult(err, "Baseline moderation")
	}
	aiCalls.WithLabelValues("classify", "ok").Inc()
	if cls == nil {
		return c.failureResult(errors.New("classifier returned no result"), "Baseline moderation")
	}

	if !cls.Flagged {
		return RuleResult{
			Decision:      DecisionApproved,
			Confidence:    baselinePassConfidence,
			Reason:        "Passed baseline moderation",
			ModeratorType: ModeratorAI,
		}
	}

	var flagged []string
	for name, on := range cls.Categories {
		if on {
			flagged = append(flagged, name)
		}
	}
	sort.Strings(flagged)

	maxScore := 0.0
	categories := make(map[string]bool, len(flagged))
	scores := make(map[string]float64, len(flagged))
	for _, name := range flagged {
		score := cls.Scores[name]
		categories[name] = true
		scores[name] = score
		if score > maxScore {
			maxScore = score
		}
	}

	return RuleResult{
		Decision:       DecisionRejected,
		Confidence:     maxScore,
		Reason:         "Content flagged by moderation classifier for: " + strings.Join(flagged, ", "),
		ModeratorType:  ModeratorAI,
		Categories:     categories,
		CategoryScores: scores,
		OpenAIFlagged:  true,
	}
}

// CombineChunkResults merges per-chunk results: any rejected chunk rejects the
// whole, with the most confident rejection as the primary reason. When every
// chunk passed, confidence is the mean of the chunk confidences.
func CombineChunkResults(results []RuleResult, originalLength int) RuleResult {
	if len(results) == 0 {
		categories, scores := singleCategory(CategoryError, true, 1.0)
		return RuleResult{
			Decision:       DecisionRejected,
			Confidence:     0,
			Reason:         "No moderation results available",
			ModeratorType:  ModeratorAI,
			Categories:     categories,
			CategoryScores: scores,
		}
	}

	var rejected []RuleResult
	for _, r := range results {
		if r.Decision == DecisionRejected {
			rejected = append(rejected, r)
		}
	}

	if len(rejected) == 0 {
		sum := 0.0
		for _, r := range results {
			sum += r.Confidence
		}
		moderatorType := results[0].ModeratorType
		if moderatorType == "" {
			moderatorType = ModeratorAI
		}
		return RuleResult{
			Decision:       DecisionApproved,
			Confidence:     sum / float64(len(results)),
			Reason:         fmt.Sprintf("All %d content chunks passed moderation", len(results)),
			ModeratorType:  moderatorType,
			Categories:     map[string]bool{},
			CategoryScores: map[string]float64{},
			ChunkCount:     len(results),
			OriginalLength: originalLength,
		}
	}

	primary := rejected[0]
	categories := make(map[string]bool)
	scores := make(map[string]float64)
	for _, r := range rejected {
		if r.Confidence > primary.Confidence {
			primary = r
		}
		for k, v := range r.Categories {
			categories[k] = v
		}
		for k, v := range r.CategoryScores {
			scores[k] = v
		}
	}
	moderatorType := primary.ModeratorType
	if moderatorType == "" {
		moderatorType = ModeratorAI
	}

	reason := fmt.Sprintf("Content rejected (analyzed %d chunks, %d flagged): %s",
		len(results), len(rejected), primary.Reason)
	return RuleResult{
		Decision:       DecisionRejected,
		Confidence:     primary.Confidence,
		Reason:         reason,
		ModeratorType:  moderatorType,
		Categories:     categories,
		CategoryScores: scores,
		OpenAIFlagged:  primary.OpenAIFlagged,
		ChunkCount:     len(results),
		RejectedChunks: len(rejected),
		OriginalLength: originalLength,
	}
}

func (c *AIModerationClient) complete(ctx context.Context, system, user string) (string, error) {
	var text string
	err := c.retry(ctx, func() error {
		var callErr error
		text, callErr = c.backend.Complete(ctx, CompletionRequest{
			SystemPrompt: system,
			UserPrompt:   user,
			Model:        c.cfg.Model,
		})
		return callErr
	})
	if err != nil {
		aiCalls.WithLabelValues("completion", "error").Inc()
		return "", err
	}
	aiCalls.WithLabelValues("completion", "ok").Inc()
	return strings.TrimSpace(text), nil
}

// retry runs op with exponential backoff, retrying transient provider errors only.
func (c *AIModerationClient) retry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialBackoff
	bo.MaxInterval = c.cfg.MaxBackoff
	bo.MaxElapsedTime = 0

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrBackendNotConfigured) || !IsTransient(err) {
			return backoff.Permanent(err)
		}
		logger.Warnf("[AI] Transient provider error (attempt %d/%d): %v", attempt, c.cfg.MaxRetries+1, err)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, c.cfg.MaxRetries), ctx))
}

// failureResult applies the failure policy: provider outages and permanent
// provider errors approve with zero confidence for manual follow-up, local
// errors reject.
func (c *AIModerationClient) failureResult(err error, stage string) RuleResult {
	if errors.Is(err, ErrBackendNotConfigured) {
		return configurationErrorResult()
	}

	if isProviderFailure(err) {
		var pe *ProviderError
		if errors.As(err, &pe) && pe.Kind == ProviderPermanent {
			logger.Error().Err(err).Str("stage", stage).Msg("[AI] Permanent provider error, approving for manual review")
		} else {
			logger.Warnf("[AI] %s failed after retries: %v", stage, err)
		}
		categories, scores := singleCategory(CategoryAPIConnectionError, true, 1.0)
		return RuleResult{
			Decision:       DecisionApproved,
			Confidence:     0,
			Reason:         fmt.Sprintf("%s unavailable (%v) - approved pending manual review", stage, err),
			ModeratorType:  ModeratorAI,
			Categories:     categories,
			CategoryScores: scores,
		}
	}

	logger.Errorf("[AI] %s error: %v", stage, err)
	categories, scores := singleCategory(CategoryError, true, 1.0)
	return RuleResult{
		Decision:       DecisionRejected,
		Confidence:     0,
		Reason:         fmt.Sprintf("%s error: %v", stage, err),
		ModeratorType:  ModeratorAI,
		Categories:     categories,
		CategoryScores: scores,
	}
}

func configurationErrorResult() RuleResult {
	categories, scores := singleCategory(CategoryConfigurationError, true, 1.0)
	return RuleResult{
		Decision:       DecisionRejected,
		Confidence:     0,
		Reason:         "AI backend not configured - content rejected",
		ModeratorType:  ModeratorAI,
		Categories:     categories,
		CategoryScores: scores,
	}
}

type aiDecision struct {
	decision   Decision
	reason     string
	confidence float64
	hasReason  bool
	hasConf    bool
}

// decodeAIDecision parses a JSON decision object, tolerating markdown code fences.
func decodeAIDecision(text string) (aiDecision, bool) {
	body := strings.TrimSpace(text)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	}

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return aiDecision{}, false
	}

	var d aiDecision
	if s, ok := raw["decision"].(string); ok {
		d.decision = Decision(s)
	}
	if s, ok := raw["reason"].(string); ok {
		d.reason = s
		d.hasReason = true
	}
	if f, ok := raw["confidence"].(float64); ok {
		d.confidence = clamp01(f)
		d.hasConf = true
	}
	return d, true
}

func parseCustomDecision(text string, minConfidence float64) (RuleResult, bool) {
	d, ok := decodeAIDecision(text)
	if !ok {
		return customFallback(text, minConfidence), false
	}

	if d.decision != DecisionApproved && d.decision != DecisionRejected {
		d.decision = DecisionApproved
	}
	if !d.hasConf {
		d.confidence = customMissingConfidence
	}
	if !d.hasReason {
		d.reason = "Malformed AI response - defaulting to approval"
	}
	if d.decision == DecisionRejected && d.confidence < minConfidence {
		d.decision = DecisionApproved
		d.reason = fmt.Sprintf("Low confidence rejection (%.2f < %.2f) - approved instead. Original reason: %s",
			d.confidence, minConfidence, d.reason)
	}

	categories, scores := singleCategory(CategoryCustomRule, d.decision != DecisionApproved, d.confidence)
	return RuleResult{
		Decision:       d.decision,
		Confidence:     d.confidence,
		Reason:         d.reason,
		ModeratorType:  ModeratorAI,
		Categories:     categories,
		CategoryScores: scores,
	}, true
}

// customFallback scans an unparseable reply: it rejects only on an explicit
// rejection together with a severity word.
func customFallback(text string, minConfidence float64) RuleResult {
	logger.Warnf("[AI] Malformed JSON from AI: %s", truncate(text, 200))
	lower := strings.ToLower(text)

	decision := DecisionApproved
	confidence := customFallbackApproveConfidence
	if strings.Contains(lower, "reject") && containsAny(lower, severityWords) {
		decision = DecisionRejected
		confidence = customFallbackRejectConfidence
	}

	var reason string
	if decision == DecisionRejected && confidence < minConfidence {
		decision = DecisionApproved
		reason = fmt.Sprintf("Malformed AI response with low confidence (%.2f) - approved. Raw response: %s",
			confidence, truncate(text, 100))
	} else {
		reason = "Parsed from malformed response: " + truncate(text, 200)
	}

	categories, scores := singleCategory(CategoryCustomRule, decision != DecisionApproved, customFallbackScore)
	return RuleResult{
		Decision:       decision,
		Confidence:     confidence,
		Reason:         reason,
		ModeratorType:  ModeratorAI,
		Categories:     categories,
		CategoryScores: scores,
	}
}

func parseEnhancedDecision(text string) (RuleResult, bool) {
	d, ok := decodeAIDecision(text)
	if !ok {
		lower := strings.ToLower(text)
		decision := DecisionRejected
		if strings.Contains(lower, "approved") && !strings.Contains(lower, "reject") {
			decision = DecisionApproved
		}
		categories, scores := singleCategory(CategoryEnhancedSafety, decision != DecisionApproved, enhancedDefaultConfidence)
		return RuleResult{
			Decision:       decision,
			Confidence:     enhancedDefaultConfidence,
			Reason:         truncate(text, 200),
			ModeratorType:  ModeratorAI,
			Categories:     categories,
			CategoryScores: scores,
		}, false
	}

	if d.decision != DecisionApproved && d.decision != DecisionRejected {
		d.decision = DecisionRejected
	}
	if !d.hasConf {
		d.confidence = enhancedDefaultConfidence
	}
	if !d.hasReason {
		d.reason = "Enhanced AI safety analysis completed"
	}

	categories, scores := singleCategory(CategoryEnhancedSafety, d.decision != DecisionApproved, d.confidence)
	return RuleResult{
		Decision:       d.decision,
		Confidence:     d.confidence,
		Reason:         d.reason,
		ModeratorType:  ModeratorAI,
		Categories:     categories,
		CategoryScores: scores,
	}, true
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
