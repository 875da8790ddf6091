package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/logger"
)

const (
	DefaultNotifyTimeout = 30 * time.Second
	failedSaveTimeout    = 5 * time.Second
)

// Orchestrator runs the full moderation pipeline for one content item: fast
// rules, then AI rules, then the default AI analysis, followed by escalation,
// persistence and notification.
type Orchestrator struct {
	store         Store
	rules         *RuleCache
	evaluator     *RuleEvaluator
	ai            ContentModerator
	notifier      Notifier
	tracker       *ErrorTracker
	escalation    EscalationPolicy
	notifyTimeout time.Duration
}

func NewOrchestrator(store Store, rules *RuleCache, evaluator *RuleEvaluator, ai ContentModerator, notifier Notifier, tracker *ErrorTracker) *Orchestrator {
	if rules == nil {
		rules = NewRuleCache(store, DefaultRuleCacheTTL, 0)
	}
	if evaluator == nil {
		evaluator = NewRuleEvaluator(ai, DefaultAIRuleWorkers, DefaultAIRuleTimeout)
	}
	if tracker == nil {
		tracker = NewErrorTracker(defaultRecentErrors)
	}
	return &Orchestrator{
		store:         store,
		rules:         rules,
		evaluator:     evaluator,
		ai:            ai,
		notifier:      notifier,
		tracker:       tracker,
		escalation:    DefaultEscalationPolicy(),
		notifyTimeout: DefaultNotifyTimeout,
	}
}

func (o *Orchestrator) SetEscalationPolicy(p EscalationPolicy) { o.escalation = p }

func (o *Orchestrator) SetNotifyTimeout(d time.Duration) {
	if d > 0 {
		o.notifyTimeout = d
	}
}

func (o *Orchestrator) Rules() *RuleCache { return o.rules }
func (o *Orchestrator) Errors() *ErrorTracker { return o.tracker }

// Moderate decides contentID. start is when the request arrived; the zero time
// means now. The only error returned is ErrContentNotFound: every other failure
// yields a rejected decision carrying a system error result.
func (o *Orchestrator) Moderate(ctx context.Context, contentID uint, start time.Time) (decision *FinalDecision, err error) {
	if start.IsZero() {
		start = time.Now()
	}

	content, err := o.store.GetContent(ctx, contentID)
	if err != nil {
		if errors.Is(err, ErrContentNotFound) {
			return nil, err
		}
		return o.failed(ctx, nil, contentID, start, ErrorTypeDatabase, fmt.Errorf("load content: %w", err)), nil
	}
	if content == nil {
		return nil, ErrContentNotFound
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Uint("content_id", contentID).Msg("[Moderation] panic recovered")
			decision = o.failed(ctx, content, contentID, start, ErrorTypeProcessing, fmt.Errorf("panic: %v", r))
			err = nil
		}
	}()

	decision, evalErr := o.evaluate(ctx, content)
	if evalErr != nil {
		return o.failed(ctx, content, contentID, start, ErrorTypeModeration, evalErr), nil
	}
	decision.Elapsed = time.Since(start)

	if saveErr := o.store.SaveDecision(ctx, content, decision); saveErr != nil {
		return o.failed(ctx, content, contentID, start, ErrorTypeDatabase, fmt.Errorf("save decision: %w", saveErr)), nil
	}

	moderationsTotal.WithLabelValues(string(decision.Decision)).Inc()
	moderationDuration.Observe(decision.Elapsed.Seconds())
	logger.Infof("[Moderation] Content %d: %s (%d rules checked, %s)",
		content.ID, decision.Decision, decision.RulesChecked, decision.Elapsed)

	o.notify(ctx, content, decision)
	return decision, nil
}

func (o *Orchestrator) evaluate(ctx context.Context, content *Content) (*FinalDecision, error) {
	ctx = WithProjectID(ctx, content.ProjectID)
	rules, err := o.rules.Get(ctx, content.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load rules for project %d: %w", content.ProjectID, err)
	}
	fast, aiRules := PartitionRules(rules)

	var results []RuleResult
	checked := 0
	for _, rule := range fast {
		checked++
		if res := o.evaluator.EvaluateFastRule(rule, content.Data); res != nil {
			results = append(results, *res)
			break
		}
	}

	if len(results) == 0 && len(aiRules) > 0 {
		checked += len(aiRules)
		matches := o.evaluator.EvaluateAIRulesParallel(ctx, aiRules, content)
		// Keep rule order so the trail is stable when several results are present.
		for _, rule := range aiRules {
			if res, ok := matches[rule.ID]; ok {
				results = append(results, res)
			}
		}
	}

	if len(results) == 0 {
		results = append(results, o.handleNoMatches(ctx, content, len(rules)))
	}

	decision := &FinalDecision{
		ContentID:    content.ID,
		Decision:     results[0].Decision,
		Results:      results,
		RulesChecked: checked,
	}

	if flag, why := o.escalation.ShouldFlag(decision.Decision, results, len(aiRules)); flag {
		logger.Infof("[Moderation] Content %d escalated to manual review: %s (was %s, confidence %.2f)",
			content.ID, why, decision.Decision, results[0].Confidence)
		decision.Decision = DecisionFlagged
	}
	if !decision.Decision.Valid() {
		logger.Warnf("[Moderation] Content %d produced invalid decision %q, rejecting", content.ID, decision.Decision)
		decision.Decision = DecisionRejected
	}
	return decision, nil
}

// handleNoMatches runs the default AI analysis for projects without rules and
// otherwise approves content that passed every rule.
func (o *Orchestrator) handleNoMatches(ctx context.Context, content *Content, ruleCount int) RuleResult {
	if ruleCount == 0 {
		if o.ai == nil {
			return configurationErrorResult()
		}
		return o.ai.Moderate(ctx, content.Data, content.ContentType, "")
	}
	categories, scores := singleCategory(CategoryRulesPassed, true, 0.9)
	return RuleResult{
		Decision:       DecisionApproved,
		Confidence:     0.9,
		Reason:         fmt.Sprintf("Passed all %d project rules", ruleCount),
		ModeratorType:  ModeratorRule,
		Categories:     categories,
		CategoryScores: scores,
	}
}

// failed records err and returns the fail-closed decision. Persisting it is
// best effort.
func (o *Orchestrator) failed(ctx context.Context, content *Content, contentID uint, start time.Time, errType string, err error) *FinalDecision {
	logger.Error().Err(err).Uint("content_id", contentID).Str("type", errType).Msg("[Moderation] Moderation failed")
	o.tracker.Track(errType, err, map[string]interface{}{"content_id": contentID})

	categories, scores := singleCategory(CategoryError, true, 1.0)
	decision := &FinalDecision{
		ContentID: contentID,
		Decision:  DecisionRejected,
		Results: []RuleResult{{
			Decision:       DecisionRejected,
			Confidence:     0,
			Reason:         "System error during moderation: " + err.Error(),
			ModeratorType:  ModeratorSystem,
			Categories:     categories,
			CategoryScores: scores,
		}},
		Elapsed: time.Since(start),
		Err:     err,
	}
	moderationsTotal.WithLabelValues(string(DecisionRejected)).Inc()

	if content != nil {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failedSaveTimeout)
		defer cancel()
		if saveErr := o.store.SaveDecision(saveCtx, content, decision); saveErr != nil {
			logger.Errorf("[Moderation] Failed to persist error decision for content %d: %v", contentID, saveErr)
		}
	}
	return decision
}

// notify publishes the decision in the background. It never blocks the caller.
func (o *Orchestrator) notify(ctx context.Context, content *Content, decision *FinalDecision) {
	if o.notifier == nil {
		return
	}
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.notifyTimeout)
	go func() {
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				logger.Error().Interface("panic", r).Uint("content_id", content.ID).Msg("[Moderation] notifier panic recovered")
			}
		}()
		o.notifier.Publish(notifyCtx, content, decision)
	}()
}

// InvalidateRules drops cached rules for the given projects, or all projects.
func (o *Orchestrator) InvalidateRules(projectIDs ...uint) {
	o.rules.Invalidate(projectIDs...)
}
