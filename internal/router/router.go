package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-practice/internal/config"
	"github.com/stemsi/exstem-practice/internal/handler"
	"github.com/stemsi/exstem-practice/internal/middleware"
	"github.com/stemsi/exstem-practice/internal/response"
	"github.com/stemsi/exstem-practice/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Practice *handler.PracticeHandler
	Setting  *handler.SettingHandler
	System   *handler.SystemHandler
	WS       *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	tokens *service.TokenService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", handlers.System.Health)

	router.NoRoute(func(c *gin.Context) {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	})

	// Attempts are the hot path; limit them per principal.
	attemptLimiter := middleware.NewRateLimiter(cfg.AttemptRateLimit, time.Minute)

	// ─── 1. Practice Group (JWT) ───────────────────────────────────────
	practiceAPI := router.Group("/api/v1/practice")
	practiceAPI.Use(
		middleware.RequirePrincipalJWT(tokens),
		middleware.NoStore(),
	)
	{
		practiceAPI.GET("/access", handlers.Practice.CheckAccess)
		practiceAPI.GET("/preferences", handlers.Setting.GetPreferences)

		practiceAPI.POST("/sessions", handlers.Practice.CreateSession)
		practiceAPI.GET("/sessions/:session_id", handlers.Practice.GetSession)
		practiceAPI.POST("/sessions/:session_id/pause", handlers.Practice.PauseSession)
		practiceAPI.POST("/sessions/:session_id/resume", handlers.Practice.ResumeSession)
		practiceAPI.POST("/sessions/:session_id/finalize", handlers.Practice.FinalizeSession)

		practiceAPI.POST("/sessions/:session_id/attempts",
			attemptLimiter.Middleware(),
			handlers.Practice.RecordAttempt,
		)
		practiceAPI.PUT("/sessions/:session_id/attempts/:question_id/status",
			attemptLimiter.Middleware(),
			handlers.Practice.UpdateMockStatus,
		)
	}

	// ─── 2. WebSocket Group (Query Token Auth) ─────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequirePrincipalWSAuth(tokens))
	{
		ws.GET("/practice/sessions/:session_id/stream", handlers.WS.MockStream)
	}

	return router
}
