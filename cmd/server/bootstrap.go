package main

import (
	"context"
	"net/http"
	"time"

	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/config"
	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/handlers"
	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/models"
	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/moderation"
	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/services"
	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/utils"
	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/logger"
)

const (
	ruleCacheProjects = 1000
	errorHistorySize  = 100
	workerConcurrency = 10
	notifyTimeout     = 5 * time.Second
)

// appServices holds all initialized services and handlers needed by the application.
type appServices struct {
	cfg *config.Config

	taskQueue   services.TaskQueue
	worker      *services.Worker
	scheduler   *services.SchedulerService
	redisCache  *services.RedisResultCache
	wsHub       *services.WebSocketHub
	sseHub      *services.SSEHub

	apiKeyService   *services.APIKeyService
	auditLogService *services.AuditLogService

	moderationHandler *handlers.ModerationHandler
	contentHandler    *handlers.ContentHandler
	projectHandler    *handlers.ProjectHandler
	ruleHandler       *handlers.RuleHandler
	apiKeyHandler     *handlers.APIKeyHandler
	authHandler       *handlers.AuthHandler
	llmConfigHandler  *handlers.LLMConfigHandler
	reviewHandler     *handlers.ReviewHandler
	dashboardHandler  *handlers.DashboardHandler
	systemHandler     *handlers.SystemHandler
	healthHandler     *handlers.HealthHandler
	sseHandler        *handlers.SSEHandler
	wsHandler         *handlers.WebSocketHandler
	auditLogHandler   *handlers.AuditLogHandler
}

// bootstrap initializes all application dependencies: database, moderation pipeline, queue, schedulers.
func bootstrap(cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)

	// Initialize database
	if err := models.InitDB(&cfg.Database, cfg.Server.Mode == "debug"); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Auto migrate database
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	// Seed default data
	if err := models.SeedDefaultData(); err != nil {
		logger.Warn().Err(err).Msg("Failed to seed default data")
	}
	db := models.GetDB()
	app := &appServices{cfg: cfg}

	// AI provider and result cache
	aiService := services.NewAIService(db, &cfg.OpenAI, &cfg.OpenRouter)
	budget := newTokenBudgeter(&cfg.OpenAI)

	cacheCfg := moderation.DefaultResultCacheConfig()
	if cfg.Moderation.ResultCacheCapacity > 0 {
		cacheCfg.Capacity = cfg.Moderation.ResultCacheCapacity
	}
	if cfg.Moderation.ResultCacheThreshold > 0 {
		cacheCfg.CleanupThreshold = cfg.Moderation.ResultCacheThreshold
	}
	if cfg.Moderation.ResultCacheTTL > 0 {
		cacheCfg.TTL = cfg.Moderation.ResultCacheTTL
	}
	if cfg.Moderation.ResultCacheCleanup > 0 {
		cacheCfg.CleanupInterval = cfg.Moderation.ResultCacheCleanup
	}
	resultCache := moderation.NewResultCache(cacheCfg)
	if cfg.Redis.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisCache, err := services.NewRedisResultCache(ctx, &cfg.Redis)
		cancel()
		if err != nil {
			logger.Warn().Err(err).Msg("Redis result cache unavailable, using in-process cache only")
		} else {
			resultCache.SetSecondary(redisCache)
			app.redisCache = redisCache
		}
	}

	aiCfg := moderation.DefaultAIClientConfig()
	if cfg.OpenAI.ChatModel != "" {
		aiCfg.Model = cfg.OpenAI.ChatModel
	}
	if cfg.OpenAI.ContextWindow > 0 {
		aiCfg.ContextWindow = cfg.OpenAI.ContextWindow
	}
	if cfg.OpenAI.MaxOutputTokens > 0 {
		aiCfg.MaxOutputTokens = cfg.OpenAI.MaxOutputTokens
	}
	if cfg.Moderation.MinRejectionConfidence > 0 {
		aiCfg.MinRejectionConfidence = cfg.Moderation.MinRejectionConfidence
	}
	aiClient := moderation.NewAIModerationClient(aiService, budget, resultCache, aiCfg)

	// Moderation pipeline
	store := services.NewModerationStore(db)
	ruleCache := moderation.NewRuleCache(store, cfg.Moderation.RuleCacheTTL, ruleCacheProjects)
	evaluator := moderation.NewRuleEvaluator(aiClient, cfg.Moderation.AIRuleWorkers, cfg.Moderation.AIRuleTimeout)
	tracker := moderation.NewErrorTracker(errorHistorySize)

	app.sseHub = services.NewSSEHub()
	app.wsHub = services.NewWebSocketHub(originChecker(cfg.Server.AllowedOrigins))
	discord := services.NewDiscordNotifier(cfg.Discord.BaseURL)
	notifier := services.NewNotificationService(db, app.sseHub, app.wsHub, discord, cfg.Discord.WebhookURL)

	orchestrator := moderation.NewOrchestrator(store, ruleCache, evaluator, aiClient, notifier, tracker)
	policy := moderation.DefaultEscalationPolicy()
	if cfg.Moderation.LowConfidence > 0 {
		policy.LowConfidence = cfg.Moderation.LowConfidence
	}
	if cfg.Moderation.RejectBandLow > 0 {
		policy.RejectBandLow = cfg.Moderation.RejectBandLow
	}
	if cfg.Moderation.RejectBandHigh > 0 {
		policy.RejectBandHigh = cfg.Moderation.RejectBandHigh
	}
	orchestrator.SetEscalationPolicy(policy)
	orchestrator.SetNotifyTimeout(notifyTimeout)

	// Initialize task queue (uses Redis if enabled, otherwise sync mode).
	// The processor is bound after the content service exists.
	app.taskQueue = services.NewTaskQueue(&cfg.Redis, nil)
	contentService := services.NewContentService(db, orchestrator, app.taskQueue, cfg.Moderation)
	if syncQueue, ok := app.taskQueue.(*services.SyncQueue); ok {
		syncQueue.SetProcessor(contentService.Process)
	}

	// Start async worker if Redis is enabled
	if app.taskQueue.IsAsync() {
		app.worker = services.NewWorker(&cfg.Redis, workerConcurrency)
		if app.worker != nil {
			app.worker.SetProcessor(contentService.Process)
			if err := app.worker.Start(); err != nil {
				logger.Warn().Err(err).Msg("Failed to start async worker")
			}
		}
	}

	app.auditLogService = services.NewAuditLogService(db)
	app.scheduler = services.NewSchedulerService(db, resultCache, app.taskQueue, cfg.Moderation)
	app.scheduler.SetAuditRetention(app.auditLogService, cfg.Server.AuditRetentionDays)
	if err := app.scheduler.Start(); err != nil {
		logger.Warn().Err(err).Msg("Failed to start scheduler")
	}

	projectService := services.NewProjectService(db)
	ruleService := services.NewRuleService(db, orchestrator, notifier)
	app.apiKeyService = services.NewAPIKeyService(db)
	authService := services.NewAuthService(db, &cfg.JWT)
	llmConfigService := services.NewLLMConfigService(db)

	app.moderationHandler = handlers.NewModerationHandler(contentService, projectService)
	app.contentHandler = handlers.NewContentHandler(contentService, services.NewAPIUserService(db))
	app.projectHandler = handlers.NewProjectHandler(projectService, notifier, discord)
	app.ruleHandler = handlers.NewRuleHandler(ruleService, projectService)
	app.apiKeyHandler = handlers.NewAPIKeyHandler(app.apiKeyService, projectService)
	app.authHandler = handlers.NewAuthHandler(authService)
	app.llmConfigHandler = handlers.NewLLMConfigHandler(llmConfigService, aiService.ResetBreakers)
	app.reviewHandler = handlers.NewReviewHandler(services.NewManualReviewService(db, notifier))
	app.dashboardHandler = handlers.NewDashboardHandler(services.NewDashboardService(db))
	app.systemHandler = handlers.NewSystemHandler(resultCache, ruleCache, tracker)
	app.healthHandler = handlers.NewHealthHandler(db, app.taskQueue, app.sseHub, app.wsHub, aiService)
	app.sseHandler = handlers.NewSSEHandler(app.sseHub)
	app.wsHandler = handlers.NewWebSocketHandler(app.wsHub)
	app.auditLogHandler = handlers.NewAuditLogHandler(app.auditLogService)

	logger.Info().
		Bool("async_queue", app.taskQueue.IsAsync()).
		Bool("ai_configured", aiService.Configured()).
		Msg("Moderation pipeline ready")
	return app
}

// loadTokenizer is replaced in tests to avoid fetching BPE files.
var loadTokenizer = moderation.NewTiktokenTokenizer

// newTokenBudgeter sizes chunks for the completion model, which is what the
// prompts are sent to.
func newTokenBudgeter(cfg *config.OpenAIConfig) *moderation.TokenBudgeter {
	tokenizer, err := loadTokenizer(cfg.ChatModel)
	if err != nil {
		logger.Warn().Err(err).Str("model", cfg.ChatModel).Msg("Tokenizer unavailable, using character estimate")
		return moderation.NewTokenBudgeter(nil)
	}
	return moderation.NewTokenBudgeter(tokenizer)
}

// originChecker admits WebSocket upgrades from the CORS allow list, or any
// origin when the list is empty.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// shutdown gracefully stops all services.
func (s *appServices) shutdown() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	logger.Info().Msg("Schedulers stopped")

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		if err := s.taskQueue.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close task queue")
		}
	}
	if s.wsHub != nil {
		s.wsHub.Close()
	}
	if s.redisCache != nil {
		if err := s.redisCache.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close redis cache")
		}
	}
}
