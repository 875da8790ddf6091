package main

import (
	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/handlers"
	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/middleware"
	"github.com/Significant-Gravitas/AutoModerate-sub000/internal/models"
	"github.com/Significant-Gravitas/AutoModerate-sub000/pkg/logger"
	"github.com/gin-gonic/gin"
)

// Request bodies carry the content plus metadata plus JSON framing.
const moderationBodyLimit = 1<<20 + 10<<10 + 4<<10

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices) {
	// Middleware
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS(svc.cfg.Server.AllowedOrigins...))

	// Rate limiters: moderation clients are keyed by API key, admin login by IP
	moderationLimiter := middleware.NewRateLimiter(20, 40).WithKey(middleware.APIKeyOrIP)
	loginLimiter := middleware.NewRateLimiter(1, 5).ForAdmin()

	// Health and metrics
	r.GET("/api/health", svc.healthHandler.CheckHealth)
	r.GET("/metrics", handlers.Metrics(models.GetDB(), svc.sseHub, svc.wsHub, svc.taskQueue))

	// Moderation API (API key)
	api := r.Group("/api",
		moderationLimiter.Middleware(),
		middleware.MaxBodySize(moderationBodyLimit),
		middleware.APIKeyRequired(svc.apiKeyService),
	)
	{
		api.POST("/moderate", svc.moderationHandler.Moderate)
		api.GET("/content", svc.moderationHandler.ListContent)
		api.GET("/content/:id", svc.moderationHandler.GetContent)
		api.GET("/stats", svc.moderationHandler.Stats)
	}

	// Admin API
	admin := r.Group("/api/admin")
	{
		admin.POST("/login", loginLimiter.Middleware(), svc.authHandler.Login)

		protected := admin.Group("")
		protected.Use(middleware.AuthRequired(), middleware.AuditLog(svc.auditLogService))
		{
			// Auth
			protected.GET("/me", svc.authHandler.GetCurrentUser)
			protected.POST("/change-password", svc.authHandler.ChangePassword)
			protected.POST("/logout", svc.authHandler.Logout)

			// Live updates
			protected.GET("/events", svc.sseHandler.StreamModerationEvents)
			protected.GET("/ws", svc.wsHandler.Serve)

			// Dashboard
			protected.GET("/dashboard/stats", svc.dashboardHandler.GetStats)

			// Projects
			protected.GET("/projects", svc.projectHandler.List)
			protected.POST("/projects", svc.projectHandler.Create)
			protected.GET("/projects/:id", svc.projectHandler.GetByID)
			protected.PUT("/projects/:id", svc.projectHandler.Update)
			protected.DELETE("/projects/:id", svc.projectHandler.Delete)
			protected.GET("/projects/:id/stats", svc.projectHandler.Stats)
			protected.POST("/projects/:id/discord/test", svc.projectHandler.TestDiscord)

			// Rules
			protected.GET("/projects/:id/rules", svc.ruleHandler.List)
			protected.POST("/projects/:id/rules", svc.ruleHandler.Create)
			protected.GET("/projects/:id/rules/:rule_id", svc.ruleHandler.GetByID)
			protected.PUT("/projects/:id/rules/:rule_id", svc.ruleHandler.Update)
			protected.PATCH("/projects/:id/rules/:rule_id/toggle", svc.ruleHandler.Toggle)
			protected.DELETE("/projects/:id/rules/:rule_id", svc.ruleHandler.Delete)

			// API keys
			protected.GET("/projects/:id/api-keys", svc.apiKeyHandler.List)
			protected.POST("/projects/:id/api-keys", svc.apiKeyHandler.Create)
			protected.POST("/projects/:id/api-keys/:key_id/revoke", svc.apiKeyHandler.Revoke)
			protected.DELETE("/projects/:id/api-keys/:key_id", svc.apiKeyHandler.Delete)

			// Content and API users
			protected.GET("/projects/:id/content", svc.contentHandler.List)
			protected.GET("/projects/:id/content/:content_id", svc.contentHandler.GetByID)
			protected.GET("/projects/:id/api-users", svc.contentHandler.ListAPIUsers)
			protected.GET("/projects/:id/api-users/:external_id", svc.contentHandler.GetAPIUser)

			// Manual review
			protected.GET("/review", svc.reviewHandler.Queue)
			protected.POST("/review/bulk-decision", svc.reviewHandler.BulkDecide)
			protected.POST("/review/:content_id/decision", svc.reviewHandler.Decide)

			// Admin only
			adminOnly := protected.Group("")
			adminOnly.Use(middleware.AdminRequired())
			{
				// LLM configs
				adminOnly.GET("/llm-configs", svc.llmConfigHandler.List)
				adminOnly.GET("/llm-configs/active", svc.llmConfigHandler.GetActive)
				adminOnly.GET("/llm-configs/:id", svc.llmConfigHandler.GetByID)
				adminOnly.POST("/llm-configs", svc.llmConfigHandler.Create)
				adminOnly.PUT("/llm-configs/:id", svc.llmConfigHandler.Update)
				adminOnly.DELETE("/llm-configs/:id", svc.llmConfigHandler.Delete)

				// Caches and error tracking
				adminOnly.GET("/cache/stats", svc.systemHandler.CacheStats)
				adminOnly.POST("/cache/invalidate", svc.systemHandler.InvalidateCache)
				adminOnly.POST("/cache/cleanup", svc.systemHandler.CleanupCache)
				adminOnly.GET("/errors", svc.systemHandler.ErrorStats)
				adminOnly.DELETE("/errors", svc.systemHandler.ResetErrors)

				// Audit trail
				adminOnly.GET("/audit-logs", svc.auditLogHandler.List)
				adminOnly.GET("/audit-logs/modules", svc.auditLogHandler.GetModules)
			}
		}
	}
}
