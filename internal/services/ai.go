package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/config"
	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/models"
	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/moderation"
	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/logger"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ollama/ollama/api"
	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"google.golang.org/genai"
	"gorm.io/gorm"
)

const (
	ProviderOpenAI     = "openai"
	ProviderAzure      = "azure"
	ProviderAnthropic  = "anthropic"
	ProviderOllama     = "ollama"
	ProviderGemini     = "gemini"
	ProviderOpenRouter = "openrouter"
)

// llmProvider is one entry of the completion fallback chain.
type llmProvider struct {
	Name        string
	Kind        string
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	// UseRequestModel lets the request's model override Model.
	UseRequestModel bool
	client          *http.Client
}

// AIService is the moderation backend. Completions walk an ordered provider
// chain (database LLM configs, the configured OpenAI account, then OpenRouter),
// each guarded by its own circuit breaker. Classification always uses OpenAI.
type AIService struct {
	db         *gorm.DB
	openai     *config.OpenAIConfig
	openrouter *config.OpenRouterConfig

	openaiClient     *http.Client
	openrouterClient *http.Client

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker

	// Cached answer to "is any LLM config active", refreshed after
	// dbConfigTTL or when ResetBreakers is called.
	cfgMu          sync.Mutex
	dbConfigured   bool
	dbConfiguredAt time.Time
}

const dbConfigTTL = 30 * time.Second

// NewAIService creates the backend. db may be nil, in which case only the
// providers from the config file are used.
func NewAIService(db *gorm.DB, openaiCfg *config.OpenAIConfig, openrouterCfg *config.OpenRouterConfig) *AIService {
	if openaiCfg == nil {
		openaiCfg = &config.OpenAIConfig{}
	}
	if openrouterCfg == nil {
		openrouterCfg = &config.OpenRouterConfig{}
	}
	return &AIService{
		db:               db,
		openai:           openaiCfg,
		openrouter:       openrouterCfg,
		openaiClient:     newHTTPClient(openaiCfg.ConnectTimeout, openaiCfg.ReadTimeout),
		openrouterClient: newHTTPClient(openrouterCfg.ConnectTimeout, openrouterCfg.ReadTimeout),
		breakers:         make(map[string]*gobreaker.CircuitBreaker),
	}
}

// newHTTPClient bounds connection setup by connect and waiting for the
// response headers by read.
func newHTTPClient(connect, read time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if connect > 0 {
		transport.DialContext = (&net.Dialer{Timeout: connect, KeepAlive: 30 * time.Second}).DialContext
		transport.TLSHandshakeTimeout = connect
	}
	if read > 0 {
		transport.ResponseHeaderTimeout = read
	}
	return &http.Client{Transport: transport}
}

// Configured reports whether any completion provider has credentials.
func (s *AIService) Configured() bool {
	if s.openai.APIKey != "" || s.openrouter.APIKey != "" {
		return true
	}
	if s.db == nil {
		return false
	}

	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	if !s.dbConfiguredAt.IsZero() && time.Since(s.dbConfiguredAt) < dbConfigTTL {
		return s.dbConfigured
	}
	var count int64
	if err := s.db.Model(&models.LLMConfig{}).Where("is_active = ?", true).Count(&count).Error; err != nil {
		logger.Warnf("[AI] Failed to count LLM configs: %v", err)
		return false
	}
	s.dbConfigured = count > 0
	s.dbConfiguredAt = time.Now()
	return s.dbConfigured
}

// Classify runs the OpenAI moderation endpoint over text.
func (s *AIService) Classify(ctx context.Context, text string) (*moderation.Classification, error) {
	if s.openai.APIKey == "" {
		return nil, moderation.ErrBackendNotConfigured
	}

	clientConfig := openai.DefaultConfig(s.openai.APIKey)
	if s.openai.BaseURL != "" {
		clientConfig.BaseURL = s.openai.BaseURL
	}
	clientConfig.HTTPClient = s.openaiClient
	client := openai.NewClientWithConfig(clientConfig)

	resp, err := client.Moderations(ctx, openai.ModerationRequest{
		Input: text,
		Model: s.openai.ModerationModel,
	})
	if err != nil {
		logger.Infof("[AI] OpenAI moderation error: %v", err)
		return nil, classifyProviderError(ProviderOpenAI, err)
	}
	if len(resp.Results) == 0 {
		return nil, moderation.NewTransientError(ProviderOpenAI, 0, errors.New("empty moderation response"))
	}

	result := resp.Results[0]
	out := &moderation.Classification{
		Flagged:    result.Flagged,
		Categories: map[string]bool{},
		Scores:     map[string]float64{},
	}
	// The SDK models categories as structs; their JSON tags are the API names.
	if b, err := json.Marshal(result.Categories); err == nil {
		_ = json.Unmarshal(b, &out.Categories)
	}
	if b, err := json.Marshal(result.CategoryScores); err == nil {
		_ = json.Unmarshal(b, &out.Scores)
	}
	return out, nil
}

// Complete sends the prompt to the first provider that answers.
func (s *AIService) Complete(ctx context.Context, req moderation.CompletionRequest) (string, error) {
	projectID, _ := moderation.ProjectIDFromContext(ctx)
	providers := s.providerChain(projectID)
	if len(providers) == 0 {
		return "", moderation.ErrBackendNotConfigured
	}

	var lastErr error
	for i, p := range providers {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		logger.Debug().Str("provider", p.Name).Str("kind", p.Kind).Msgf("[AI] Attempting provider %d/%d", i+1, len(providers))

		text, err := s.callWithBreaker(ctx, p, req)
		if err == nil {
			return text, nil
		}
		lastErr = err
		logger.Infof("[AI] Provider %s failed: %v, trying next...", p.Name, err)
	}
	return "", lastErr
}

func (s *AIService) callWithBreaker(ctx context.Context, p llmProvider, req moderation.CompletionRequest) (string, error) {
	out, err := s.breaker(p.Name).Execute(func() (interface{}, error) {
		return s.callLLM(ctx, p, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", moderation.NewTransientError(p.Kind, 0, err)
		}
		return "", classifyProviderError(p.Kind, err)
	}
	return out.(string), nil
}

func (s *AIService) breaker(name string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[name]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Only outages count against the breaker; a rejected request says
		// nothing about provider health.
		IsSuccessful: func(err error) bool {
			return err == nil || !moderation.IsTransient(classifyProviderError(name, err))
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnf("[AI] Circuit breaker %s: %s -> %s", name, from, to)
		},
	})
	s.breakers[name] = cb
	return cb
}

// ResetBreakers forgets provider health and the cached config lookup, e.g.
// after an LLM config was edited.
func (s *AIService) ResetBreakers() {
	s.mu.Lock()
	s.breakers = make(map[string]*gobreaker.CircuitBreaker)
	s.mu.Unlock()

	s.cfgMu.Lock()
	s.dbConfiguredAt = time.Time{}
	s.cfgMu.Unlock()
}

// providerChain orders the providers: the project's pinned config, the default
// config, other active configs, the OpenAI account, then OpenRouter.
func (s *AIService) providerChain(projectID uint) []llmProvider {
	var chain []llmProvider
	seen := make(map[uint]bool)
	add := func(c models.LLMConfig) {
		if seen[c.ID] {
			return
		}
		seen[c.ID] = true
		chain = append(chain, providerFromConfig(c))
	}

	if s.db != nil {
		if projectID > 0 {
			var project models.Project
			if err := s.db.Select("id", "llm_config_id").First(&project, projectID).Error; err == nil && project.LLMConfigID != nil {
				var pinned models.LLMConfig
				if err := s.db.Where("id = ? AND is_active = ?", *project.LLMConfigID, true).First(&pinned).Error; err == nil {
					add(pinned)
				}
			}
		}

		var configs []models.LLMConfig
		if err := s.db.Where("is_active = ?", true).Order("is_default DESC, id ASC").Find(&configs).Error; err != nil {
			logger.Warnf("[AI] Failed to load LLM configs: %v", err)
		}
		for _, c := range configs {
			add(c)
		}
	}

	if s.openai.APIKey != "" {
		chain = append(chain, llmProvider{
			Name:            ProviderOpenAI,
			Kind:            ProviderOpenAI,
			BaseURL:         s.openai.BaseURL,
			APIKey:          s.openai.APIKey,
			Model:           s.openai.ChatModel,
			UseRequestModel: true,
			client:          s.openaiClient,
		})
	}
	if s.openrouter.APIKey != "" {
		chain = append(chain, llmProvider{
			Name:    ProviderOpenRouter,
			Kind:    ProviderOpenRouter,
			BaseURL: s.openrouter.BaseURL,
			APIKey:  s.openrouter.APIKey,
			Model:   s.openrouter.Model,
			client:  s.openrouterClient,
		})
	}
	return chain
}

func providerFromConfig(c models.LLMConfig) llmProvider {
	timeout := time.Duration(c.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	kind := c.Provider
	if kind == "" {
		kind = ProviderOpenAI
	}
	return llmProvider{
		Name:        fmt.Sprintf("llm_config:%d", c.ID),
		Kind:        kind,
		BaseURL:     c.BaseURL,
		APIKey:      c.APIKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
		client:      newHTTPClient(5*time.Second, timeout),
	}
}

// callLLM dispatches to the provider-specific call based on Kind.
func (s *AIService) callLLM(ctx context.Context, p llmProvider, req moderation.CompletionRequest) (string, error) {
	if p.UseRequestModel && req.Model != "" {
		p.Model = req.Model
	}

	switch p.Kind {
	case ProviderAnthropic:
		return callAnthropic(ctx, p, req)
	case ProviderOllama:
		return callOllama(ctx, p, req)
	case ProviderGemini:
		return callGemini(ctx, p, req)
	case ProviderAzure:
		return callOpenAI(ctx, p, req, openai.DefaultAzureConfig(p.APIKey, p.BaseURL))
	default:
		// openai, openrouter and other OpenAI-compatible services
		cfg := openai.DefaultConfig(p.APIKey)
		if p.BaseURL != "" {
			cfg.BaseURL = p.BaseURL
		}
		return callOpenAI(ctx, p, req, cfg)
	}
}

func callOpenAI(ctx context.Context, p llmProvider, req moderation.CompletionRequest, cfg openai.ClientConfig) (string, error) {
	if p.client != nil {
		cfg.HTTPClient = p.client
	}
	client := openai.NewClientWithConfig(cfg)

	var messages []openai.ChatCompletionMessage
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt})

	chatReq := openai.ChatCompletionRequest{
		Model:    p.Model,
		Messages: messages,
	}
	if p.Temperature > 0 {
		chatReq.Temperature = float32(p.Temperature)
	}
	if p.MaxTokens > 0 {
		chatReq.MaxCompletionTokens = p.MaxTokens
	}

	resp, err := client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", moderation.NewTransientError(p.Kind, 0, errors.New("no choices in response"))
	}

	content := resp.Choices[0].Message.Content
	logger.Debug().Str("provider", p.Name).Int("length", len(content)).Msg("[AI] Completion received")
	return content, nil
}

func callAnthropic(ctx context.Context, p llmProvider, req moderation.CompletionRequest) (string, error) {
	opts := []option.RequestOption{option.WithAPIKey(p.APIKey)}
	if p.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(p.BaseURL))
	}
	if p.client != nil {
		opts = append(opts, option.WithHTTPClient(p.client))
	}
	client := anthropic.NewClient(opts...)

	maxTokens := int64(p.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 1024
	}
	model := p.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserPrompt)),
		},
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return "", err
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	return content.String(), nil
}

func callOllama(ctx context.Context, p llmProvider, req moderation.CompletionRequest) (string, error) {
	baseURL := p.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", moderation.NewPermanentError(p.Kind, 0, fmt.Errorf("invalid Ollama base URL: %w", err))
	}
	httpClient := p.client
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	client := api.NewClient(u, httpClient)

	model := p.Model
	if model == "" {
		model = "llama3"
	}

	var messages []api.Message
	if req.SystemPrompt != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, api.Message{Role: "user", Content: req.UserPrompt})

	var content strings.Builder
	err = client.Chat(ctx, &api.ChatRequest{
		Model:    model,
		Messages: messages,
		Options: map[string]interface{}{
			"temperature": p.Temperature,
		},
	}, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", err
	}
	return content.String(), nil
}

func callGemini(ctx context.Context, p llmProvider, req moderation.CompletionRequest) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     p.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: p.client,
	})
	if err != nil {
		return "", moderation.NewPermanentError(p.Kind, 0, fmt.Errorf("gemini client: %w", err))
	}

	model := p.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}

	var genCfg *genai.GenerateContentConfig
	if req.SystemPrompt != "" {
		genCfg = &genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: req.SystemPrompt}}},
		}
	}

	resp, err := client.Models.GenerateContent(ctx, model, genai.Text(req.UserPrompt), genCfg)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// classifyProviderError maps SDK errors onto the moderation error taxonomy.
// Unknown failures are treated as transient since they came from the wire.
func classifyProviderError(provider string, err error) error {
	if err == nil {
		return nil
	}
	var pe *moderation.ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return moderation.NewTransientError(provider, 0, err)
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	var antErr *anthropic.Error
	var ollamaErr api.StatusError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	case errors.As(err, &antErr):
		status = antErr.StatusCode
	case errors.As(err, &ollamaErr):
		status = ollamaErr.StatusCode
	}

	if status > 0 {
		return &moderation.ProviderError{
			Kind:       moderation.ClassifyStatus(status),
			Provider:   provider,
			StatusCode: status,
			Err:        err,
		}
	}
	return moderation.NewTransientError(provider, 0, err)
}
