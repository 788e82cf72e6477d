// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// compression, CORS, security headers, idempotency, and rate limiting.
//
// The package exposes a library-style composition root: the embedding
// program builds a gin.Engine, constructs Deps, and calls RegisterRoutes.
// Nothing here starts a server or reads the environment beyond the passed
// Config.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/nkoutris/go-chat-sync/internal/config"
	"github.com/nkoutris/go-chat-sync/internal/http/handlers"
	"github.com/nkoutris/go-chat-sync/internal/http/middleware"
	"github.com/nkoutris/go-chat-sync/internal/llm"
	"github.com/nkoutris/go-chat-sync/internal/repo"
	"github.com/nkoutris/go-chat-sync/internal/services"
	"github.com/nkoutris/go-chat-sync/internal/sysutil"
)

// Deps carries the externally constructed dependencies for route
// registration. Cloud, LLM, and Usage are interfaces so tests can substitute
// fakes and a local-only deployment can pass the no-op cloud.
type Deps struct {
	DB    *gorm.DB
	Cloud services.CloudStore
	Blob  services.SummaryStore
	LLM   interface {
		services.Streamer
		services.ImageGenerator
	}
	Usage services.UsageCounter
}

// Browser-facing CORS surface. AllowHeaders covers everything a web client
// sends on the chat endpoints; ExposeHeaders mirrors what SecurityHeaders
// marks client-readable, so a cross-origin client can revalidate with ETags
// and detect idempotent replays.
var (
	corsAllowMethods  = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsAllowHeaders  = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", "X-LLM-Key", middleware.HeaderIdempotencyKey}
	corsExposeHeaders = []string{"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed"}
)

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine.
//
// Middleware ordering is load-bearing: tracing and request correlation come
// before logging so every log line can carry a span and request id; recovery
// sits after the logger so panics are still logged; the idempotency
// validator runs before the rate limiter so a detected replay can bypass it;
// and the streaming routes are excluded from gzip so SSE flushes reach the
// client immediately.
func RegisterRoutes(r *gin.Engine, cfg config.Config, deps Deps) {
	sysutil.SetLogLevel(cfg.LogLevel)

	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			"X-LLM-Key", // caller's own provider key, pass-through only
		},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(1 << 20))
	r.Use(gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedPathsRegexs([]string{`.*/messages$`, `.*/regenerate$`})))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, userID string, chatID uint, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, deps.DB, userID, chatID, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	registerCORS(r, cfg.CORS.AllowedOrigins)

	// HSTS only when enabled and the request arrived over HTTPS.
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Service construction. SyncService owns reconciliation between the
	// local store and the cloud; everything else layers on top of it.
	metaSvc := &services.MetadataService{Store: deps.Blob}
	syncSvc := services.NewSyncService(deps.DB, deps.Cloud, metaSvc)
	titleSvc := &services.TitleService{
		TitleLocale: language.English,
		TitleMaxLen: cfg.TitleMaxLen,
	}
	turnSvc := &services.TurnService{
		Sync:           syncSvc,
		LLM:            deps.LLM,
		Titles:         titleSvc,
		DefaultModel:   defaultModel(cfg),
		MaxPromptRunes: cfg.MaxPromptRunes,
	}
	imageSvc := &services.ImageService{
		Sync:      syncSvc,
		LLM:       deps.LLM,
		Usage:     deps.Usage,
		FreeLimit: cfg.Image.FreeLimit,
		Model:     cfg.Image.Model,
	}
	h := handlers.New(syncSvc, turnSvc, imageSvc)

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		// Chats
		api.POST("/chats", h.CreateChat)
		api.GET("/chats", h.ListChats)
		api.PUT("/chats/:id/title", h.UpdateChatTitle)
		api.PUT("/chats/:id/archive", h.ArchiveChat)
		api.PUT("/chats/:id/pin", h.PinChat)
		api.DELETE("/chats/:id", h.DeleteChat)

		// Messages
		api.GET("/chats/:id/messages", h.ListMessages)
		api.POST("/chats/:id/messages", h.PostMessage)
		api.POST("/chats/:id/messages/:msgId/regenerate", h.Regenerate)

		// Sharing
		api.POST("/chats/:id/share", h.ShareChat)
		api.DELETE("/chats/:id/share", h.UnshareChat)
		api.GET("/shared/:shareId", h.GetSharedChat)

		// Images
		api.POST("/chats/:id/images", h.GenerateImage)
		api.GET("/images/quota", h.ImageQuota)

		// Models, titles, and sync
		api.GET("/models", h.ListModels)
		api.POST("/title", h.DeriveTitle)
		api.POST("/sync", h.SyncGuestChats)
	}
}

// registerCORS installs the CORS posture. With no configured origins the API
// is open, which suits local-first deployments where the web client may be
// served from file:// or a dev port; otherwise only the allowlist passes.
func registerCORS(r *gin.Engine, allowedOrigins []string) {
	if len(allowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header, so
		// health checks and plain curl see the open posture too.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     corsAllowMethods,
			AllowHeaders:     corsAllowHeaders,
			ExposeHeaders:    corsExposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
		return
	}

	// Echo ACAO with the request Origin when allowlisted, in addition to
	// gin-contrib/cors handling the preflight.
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	r.Use(func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			if _, ok := allowed[origin]; ok {
				h := c.Writer.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
		}
		c.Next()
	})
	r.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     corsAllowMethods,
		AllowHeaders:     corsAllowHeaders,
		ExposeHeaders:    corsExposeHeaders,
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
}

// defaultModel resolves the configured default against the catalog, falling
// back to the catalog default on an unknown id.
func defaultModel(cfg config.Config) string {
	if llm.KnownModel(cfg.LLM.DefaultModel) {
		return cfg.LLM.DefaultModel
	}
	return llm.DefaultModel()
}

// limitBody caps the request body for all endpoints using
// http.MaxBytesReader; oversized bodies surface as read errors in the
// handler's bind call.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
