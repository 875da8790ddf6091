package moderation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/logger"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
)

const (
	fastRuleConfidence        = 0.8
	unavailableRuleConfidence = 0.5

	DefaultAIRuleWorkers = 10
	DefaultAIRuleTimeout = 30 * time.Second
)

var errRuleMatched = errors.New("ai rule matched")

// RuleEvaluator evaluates keyword and regex rules locally and prompt rules
// through the AI moderator.
type RuleEvaluator struct {
	moderator  ContentModerator
	maxWorkers int
	timeout    time.Duration
	patterns   *lru.Cache[string, *regexp.Regexp]
}

func NewRuleEvaluator(moderator ContentModerator, maxWorkers int, timeout time.Duration) *RuleEvaluator {
	if maxWorkers <= 0 {
		maxWorkers = DefaultAIRuleWorkers
	}
	if timeout <= 0 {
		timeout = DefaultAIRuleTimeout
	}
	patterns, _ := lru.New[string, *regexp.Regexp](512)
	return &RuleEvaluator{
		moderator:  moderator,
		maxWorkers: maxWorkers,
		timeout:    timeout,
		patterns:   patterns,
	}
}

// EvaluateKeyword reports whether any keyword occurs in content. The first
// matching keyword is named in the reason.
func EvaluateKeyword(content string, data KeywordRuleData) (bool, string) {
	keywords := data.List()
	if len(keywords) == 0 {
		return false, "No keywords defined"
	}

	haystack := content
	var fold cases.Caser
	if !data.CaseSensitive {
		fold = cases.Fold()
		haystack = fold.String(content)
	}

	for _, kw := range keywords {
		needle := kw
		if !data.CaseSensitive {
			needle = fold.String(kw)
		}
		if strings.Contains(haystack, needle) {
			return true, fmt.Sprintf("Matched keyword: '%s'", kw)
		}
	}
	return false, "No keywords matched"
}

// EvaluateRegex reports whether the pattern matches content. Compile errors
// are returned as a non-match with the error in the reason.
func (e *RuleEvaluator) EvaluateRegex(content string, data RegexRuleData) (bool, string) {
	if data.Pattern == "" {
		return false, "No regex pattern defined"
	}
	re, err := e.compile(data)
	if err != nil {
		return false, "Invalid regex: " + err.Error()
	}
	if re.MatchString(content) {
		return true, "Matched regex: " + data.Pattern
	}
	return false, "No regex match"
}

func (e *RuleEvaluator) compile(data RegexRuleData) (*regexp.Regexp, error) {
	expr := regexExpr(data)

	if e.patterns != nil {
		if re, ok := e.patterns.Get(expr); ok {
			return re, nil
		}
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	if e.patterns != nil {
		e.patterns.Add(expr, re)
	}
	return re, nil
}

// EvaluateFastRule runs a keyword or regex rule. It returns nil when the rule
// does not match or cannot be evaluated.
func (e *RuleEvaluator) EvaluateFastRule(rule Rule, content string) *RuleResult {
	start := time.Now()

	var matched bool
	var reason string
	switch data := rule.Data.(type) {
	case KeywordRuleData:
		matched, reason = EvaluateKeyword(content, data)
	case RegexRuleData:
		matched, reason = e.EvaluateRegex(content, data)
		if !matched && strings.HasPrefix(reason, "Invalid regex") {
			logger.Warnf("[RuleEvaluator] Rule %d (%s): %s", rule.ID, rule.Name, reason)
		}
	default:
		logger.Warnf("[RuleEvaluator] Rule %d (%s) has no fast-rule payload, skipping", rule.ID, rule.Name)
		return nil
	}
	if !matched {
		return nil
	}

	ruleMatches.WithLabelValues(string(rule.Type)).Inc()
	id := rule.ID
	categories, scores := singleCategory("rule_"+string(rule.Type), true, fastRuleConfidence)
	return &RuleResult{
		Decision:       rule.Action.Decision(),
		Confidence:     fastRuleConfidence,
		Reason:         fmt.Sprintf("Rule '%s': %s", rule.Name, reason),
		ModeratorType:  ModeratorRule,
		RuleID:         &id,
		RuleName:       rule.Name,
		RuleType:       rule.Type,
		ProcessingTime: time.Since(start),
		Categories:     categories,
		CategoryScores: scores,
	}
}

// EvaluateAIRulesParallel runs every prompt rule concurrently, at most
// min(len(rules), maxWorkers) at a time. The first rule to report a match wins:
// the others are cancelled and their results discarded. The phase is bounded by
// the evaluator timeout; on timeout whatever matched so far is returned.
// The returned map holds at most one entry.
func (e *RuleEvaluator) EvaluateAIRulesParallel(ctx context.Context, rules []Rule, content *Content) map[uint]RuleResult {
	results := make(map[uint]RuleResult)
	if len(rules) == 0 {
		return results
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(len(rules), e.maxWorkers))

	var (
		mu      sync.Mutex
		closed  bool
		winner  *RuleResult
		matched = make(chan struct{})
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, rule := range rules {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				res, ok := e.evaluateAIRule(gctx, rule, content)
				if !ok {
					return nil
				}

				mu.Lock()
				defer mu.Unlock()
				if closed || winner != nil {
					return nil
				}
				winner = &res
				close(matched)
				return errRuleMatched
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-matched:
	case <-done:
	case <-ctx.Done():
		logger.Warnf("[RuleEvaluator] AI rule phase timed out after %s (%d rules)", e.timeout, len(rules))
	}

	mu.Lock()
	closed = true
	if winner != nil {
		results[*winner.RuleID] = *winner
	}
	mu.Unlock()

	if len(results) > 0 {
		logger.Infof("[RuleEvaluator] AI rules: %d/%d matched", len(results), len(rules))
	}
	return results
}

// evaluateAIRule returns the rule's result and whether it matched. Results
// produced after cancellation are never reported.
func (e *RuleEvaluator) evaluateAIRule(ctx context.Context, rule Rule, content *Content) (RuleResult, bool) {
	data, ok := rule.Data.(PromptRuleData)
	if !ok {
		logger.Warnf("[RuleEvaluator] Rule %d (%s) has no prompt payload, skipping", rule.ID, rule.Name)
		return RuleResult{}, false
	}

	start := time.Now()
	ai := e.moderator.Moderate(ctx, content.Data, content.ContentType, data.Prompt)
	if ctx.Err() != nil {
		return RuleResult{}, false
	}

	var matched bool
	var reason string
	var confidence float64
	if ai.HasCategory(CategoryConfigurationError) {
		matched = true
		reason = "AI backend unavailable - applying rule action"
		confidence = unavailableRuleConfidence
	} else {
		matched = ai.Decision == DecisionRejected
		reason = ai.Reason
		confidence = ai.Confidence
	}
	if !matched {
		return RuleResult{}, false
	}

	ruleMatches.WithLabelValues(string(RuleTypeAIPrompt)).Inc()
	id := rule.ID
	categories, scores := singleCategory("rule_ai_prompt", true, confidence)
	return RuleResult{
		Decision:       rule.Action.Decision(),
		Confidence:     confidence,
		Reason:         fmt.Sprintf("Rule '%s': %s", rule.Name, reason),
		ModeratorType:  ModeratorRule,
		RuleID:         &id,
		RuleName:       rule.Name,
		RuleType:       RuleTypeAIPrompt,
		ProcessingTime: time.Since(start),
		Categories:     categories,
		CategoryScores: scores,
	}, true
}

// regexExpr prefixes the pattern with its inline flags.
func regexExpr(data RegexRuleData) string {
	var flags strings.Builder
	for _, f := range data.Flags {
		switch f {
		case "i", "m", "s":
			if !strings.Contains(flags.String(), f) {
				flags.WriteString(f)
			}
		}
	}
	if flags.Len() == 0 {
		return data.Pattern
	}
	return "(?" + flags.String() + ")" + data.Pattern
}

// ValidateRuleData rejects payloads that can never match.
func ValidateRuleData(data RuleData) error {
	switch d := data.(type) {
	case KeywordRuleData:
		if len(d.List()) == 0 {
			return errors.New("keyword rule needs at least one keyword")
		}
	case RegexRuleData:
		if d.Pattern == "" {
			return errors.New("regex rule needs a pattern")
		}
		if _, err := regexp.Compile(regexExpr(d)); err != nil {
			return fmt.Errorf("invalid regex: %w", err)
		}
	case PromptRuleData:
		if strings.TrimSpace(d.Prompt) == "" {
			return errors.New("ai_prompt rule needs a prompt")
		}
	default:
		return fmt.Errorf("unsupported rule data %T", data)
	}
	return nil
}
