package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exam-runner/internal/config"
	"github.com/stemsi/exam-runner/internal/handler"
	"github.com/stemsi/exam-runner/internal/middleware"
	"github.com/stemsi/exam-runner/internal/response"
	"github.com/stemsi/exam-runner/internal/service"
)

const (
	// definitionMaxAge is how long a browser may reuse a fetched definition.
	definitionMaxAge = 60
	// defaultStartRate caps start calls per client IP per minute.
	defaultStartRate = 30
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session *handler.SessionHandler
	WS      *handler.WSHandler
	System  *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	attempts *service.AttemptService,
	handlers *Handlers,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(
		response.RequestIDMiddleware(),
		middleware.AccessLog(log),
		middleware.Brotli(),
	)

	// Health check.
	router.GET("/health", handlers.System.Health)

	// ─── 1. Public Session Group (access token in path) ────────────────
	startRate := cfg.StartRatePerMinute
	if startRate <= 0 {
		startRate = defaultStartRate
	}
	startLimiter := middleware.NewRateLimiter(startRate, time.Minute)

	session := router.Group("/api/v1/public/session/:token")
	{
		session.GET("", middleware.CacheControl(definitionMaxAge), handlers.Session.GetSession)
		session.POST("/start", startLimiter.Middleware(), handlers.Session.StartSession)
		session.GET("/state", middleware.NoStore(), handlers.Session.GetState)
	}

	// ─── 2. System Group ───────────────────────────────────────────────
	router.GET("/api/v1/system/status", middleware.NoStore(), handlers.System.Status)

	// ─── 3. WebSocket Group (attempt token + single owner) ─────────────
	ws := router.Group("/ws/v1")
	ws.Use(
		middleware.RequireAttemptToken(attempts),
		middleware.CheckAttemptOwner(attempts),
	)
	{
		ws.GET("/candidate/stream", handlers.WS.CandidateStream)
	}

	return router
}
