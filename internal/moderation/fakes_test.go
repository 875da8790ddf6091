package moderation

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type fakeBackend struct {
	configured    bool
	classify      func(ctx context.Context, text string) (*Classification, error)
	complete      func(ctx context.Context, req CompletionRequest) (string, error)
	classifyCalls atomic.Int32
	completeCalls atomic.Int32
}

func (b *fakeBackend) Configured() bool { return b.configured }

func (b *fakeBackend) Classify(ctx context.Context, text string) (*Classification, error) {
	b.classifyCalls.Add(1)
	if b.classify == nil {
		return &Classification{}, nil
	}
	return b.classify(ctx, text)
}

func (b *fakeBackend) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	b.completeCalls.Add(1)
	if b.complete == nil {
		return `{"decision": "approved", "reason": "ok", "confidence": 0.9}`, nil
	}
	return b.complete(ctx, req)
}

func replyWith(text string) func(context.Context, CompletionRequest) (string, error) {
	return func(context.Context, CompletionRequest) (string, error) { return text, nil }
}

// delayedReply answers after delay unless ctx is cancelled first.
func delayedReply(delay time.Duration, text string) func(context.Context, CompletionRequest) (string, error) {
	return func(ctx context.Context, _ CompletionRequest) (string, error) {
		select {
		case <-time.After(delay):
			return text, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func newTestClient(b Backend) *AIModerationClient {
	return NewAIModerationClient(b, NewTokenBudgeter(nil), NewResultCache(ResultCacheConfig{Capacity: 100}), AIClientConfig{
		Model:          "test-model",
		ContextWindow:  16000,
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	})
}

type fakeStore struct {
	mu        sync.Mutex
	contents  map[uint]*Content
	rules     map[uint][]Rule
	saved     []*FinalDecision
	listCalls int
	listErr   error
	saveErr   error
	listPanic bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{contents: make(map[uint]*Content), rules: make(map[uint][]Rule)}
}

func (s *fakeStore) addContent(id, projectID uint, data string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contents[id] = &Content{ID: id, ProjectID: projectID, ContentType: "text", Data: data}
}

func (s *fakeStore) ListActiveRules(_ context.Context, projectID uint) ([]Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.listPanic {
		panic("rule store exploded")
	}
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]Rule(nil), s.rules[projectID]...), nil
}

func (s *fakeStore) GetContent(_ context.Context, id uint) (*Content, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contents[id]
	if !ok {
		return nil, ErrContentNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *fakeStore) SaveDecision(_ context.Context, _ *Content, d *FinalDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, d)
	return nil
}

func (s *fakeStore) savedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func (s *fakeStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls
}

type fakeModerator struct {
	moderate func(ctx context.Context, content, customPrompt string) RuleResult
	calls    atomic.Int32
}

func (m *fakeModerator) Moderate(ctx context.Context, content, _ string, customPrompt string) RuleResult {
	m.calls.Add(1)
	return m.moderate(ctx, content, customPrompt)
}

type fakeNotifier struct {
	events chan *FinalDecision
}

func (n *fakeNotifier) Publish(_ context.Context, _ *Content, d *FinalDecision) {
	n.events <- d
}

func keywordRule(id uint, priority int, action Action, keywords ...string) Rule {
	return Rule{
		ID:       id,
		Name:     "keyword-" + strings.Join(keywords, "-"),
		Type:     RuleTypeKeyword,
		Action:   action,
		Priority: priority,
		IsActive: true,
		Data:     KeywordRuleData{Keywords: keywords},
	}
}

func promptRule(id uint, priority int, prompt string) Rule {
	return Rule{
		ID:       id,
		Name:     "prompt-" + prompt,
		Type:     RuleTypeAIPrompt,
		Action:   ActionReject,
		Priority: priority,
		IsActive: true,
		Data:     PromptRuleData{Prompt: prompt},
	}
}
