package moderation

import "context"

// Backend is the AI provider capability used by the moderation client.
// Implementations return *ProviderError for provider-side failures and
// ErrBackendNotConfigured when no credentials are set.
type Backend interface {
	Configured() bool
	Classify(ctx context.Context, text string) (*Classification, error)
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Classification is the output of a provider's harmful-content classifier.
type Classification struct {
	Flagged    bool
	Categories map[string]bool
	Scores     map[string]float64
}

type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Model        string
}

// ContentModerator runs one AI moderation pass over raw content.
type ContentModerator interface {
	Moderate(ctx context.Context, content, contentType, customPrompt string) RuleResult
}

// RuleStore lists the rules of a project.
type RuleStore interface {
	ListActiveRules(ctx context.Context, projectID uint) ([]Rule, error)
}

// ContentStore loads submitted content.
type ContentStore interface {
	GetContent(ctx context.Context, id uint) (*Content, error)
}

// DecisionStore persists a final decision. The content status update and the
// result rows must be written atomically.
type DecisionStore interface {
	SaveDecision(ctx context.Context, content *Content, decision *FinalDecision) error
}

// Store is everything the orchestrator needs from persistence.
type Store interface {
	RuleStore
	ContentStore
	DecisionStore
}

// Notifier delivers decision events. Publish is best effort and its failures
// never affect the decision.
type Notifier interface {
	Publish(ctx context.Context, content *Content, decision *FinalDecision)
}

type projectKey struct{}

// WithProjectID tags ctx with the project being moderated so backends can
// pick a project-specific provider.
func WithProjectID(ctx context.Context, projectID uint) context.Context {
	return context.WithValue(ctx, projectKey{}, projectID)
}

func ProjectIDFromContext(ctx context.Context) (uint, bool) {
	id, ok := ctx.Value(projectKey{}).(uint)
	return id, ok
}
