// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging, panic recovery, metrics, compression,
// CORS, security headers, and rate limiting.
//
// Design goals:
//   - Observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
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
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-billing/internal/config"
	"github.com/tbourn/go-chat-billing/internal/domain"
	"github.com/tbourn/go-chat-billing/internal/http/handlers"
	"github.com/tbourn/go-chat-billing/internal/http/middleware"
	"github.com/tbourn/go-chat-billing/internal/repo"
	"github.com/tbourn/go-chat-billing/internal/services"
)

// ledgerRepoShim adapts the repository free functions to the
// services.EntitlementRepo interface expected by EntitlementService. This
// keeps services decoupled from the concrete repo package while reusing
// existing functions.
type ledgerRepoShim struct{}

// IsSubscribed proxies repo.IsSubscribed.
func (ledgerRepoShim) IsSubscribed(ctx context.Context, db *gorm.DB, userID string, now time.Time) (bool, error) {
	return repo.IsSubscribed(ctx, db, userID, now)
}

// GetSubscription proxies repo.GetSubscription.
func (ledgerRepoShim) GetSubscription(ctx context.Context, db *gorm.DB, userID string) (*domain.Subscription, error) {
	return repo.GetSubscription(ctx, db, userID)
}

// ExtendSubscription proxies repo.ExtendSubscription.
func (ledgerRepoShim) ExtendSubscription(ctx context.Context, db *gorm.DB, userID string, durationDays int, now time.Time) (*domain.Subscription, error) {
	return repo.ExtendSubscription(ctx, db, userID, durationDays, now)
}

// TryConsumeMessage proxies repo.TryConsumeMessage.
func (ledgerRepoShim) TryConsumeMessage(ctx context.Context, db *gorm.DB, userID string, dailyLimit int, now time.Time) (bool, error) {
	return repo.TryConsumeMessage(ctx, db, userID, dailyLimit, now)
}

// AddCredits proxies repo.AddCredits.
func (ledgerRepoShim) AddCredits(ctx context.Context, db *gorm.DB, userID string, quantity int, now time.Time) error {
	return repo.AddCredits(ctx, db, userID, quantity, now)
}

// RemainingToday proxies repo.RemainingToday.
func (ledgerRepoShim) RemainingToday(ctx context.Context, db *gorm.DB, userID string, dailyLimit int, now time.Time) (daily, credits int, err error) {
	return repo.RemainingToday(ctx, db, userID, dailyLimit, now)
}

// intentRepoShim adapts the payment repository free functions to the
// services.IntentRepo interface expected by PaymentService.
type intentRepoShim struct{}

// CreatePaymentIntent proxies repo.CreatePaymentIntent.
func (intentRepoShim) CreatePaymentIntent(ctx context.Context, db *gorm.DB, userID string, kind domain.IntentKind, amount int64, creditCount int, ttl time.Duration, now time.Time) (*domain.PaymentIntent, error) {
	return repo.CreatePaymentIntent(ctx, db, userID, kind, amount, creditCount, ttl, now)
}

// ConsumePaymentIntent proxies repo.ConsumePaymentIntent.
func (intentRepoShim) ConsumePaymentIntent(ctx context.Context, db *gorm.DB, token, claimedUser string, now time.Time) (*domain.PaymentIntent, error) {
	return repo.ConsumePaymentIntent(ctx, db, token, claimedUser, now)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine: observability (tracing, metrics), rate limiting, compression, CORS
// and security headers, health and metrics endpoints, and the versioned
// public API.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Structured logging
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Rate limiter (per user/IP)
//  8. Compression, CORS, and security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, gen services.Generator, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging
	r.Use(middleware.Logger())

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 8) Compression
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// CORS posture (safe defaults: allow all if none configured)
	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", "X-User-Name"},
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.CORS.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Optional Swagger UI
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/generator
	entSvc := services.NewEntitlementService(db, ledgerRepoShim{}, cfg.Billing.DailyLimit)
	paySvc := &services.PaymentService{
		DB:                db,
		Repo:              intentRepoShim{},
		Ledger:            entSvc,
		IntentTTL:         cfg.Billing.IntentTTL,
		SubscriptionDays:  cfg.Billing.SubscriptionDays,
		SubscriptionPrice: cfg.Billing.SubscriptionPrice,
		Packs:             toPacks(cfg.Billing.CreditPacks),
	}
	chatSvc := &services.ChatService{
		DB:             db,
		Quota:          entSvc,
		Gen:            gen,
		HistoryLimit:   cfg.HistoryLimit,
		MaxPromptRunes: cfg.MaxPromptRunes,
	}

	h := handlers.New(chatSvc, entSvc, paySvc, handlers.Catalog{
		SubscriptionDays:  cfg.Billing.SubscriptionDays,
		SubscriptionPrice: cfg.Billing.SubscriptionPrice,
		Packs:             paySvc.Packs,
	})

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		// Conversation
		api.POST("/messages", h.PostMessage)
		api.GET("/messages", h.ListMessages)
		api.DELETE("/history", h.ClearHistory)

		// Entitlements
		api.GET("/status", h.GetStatus)

		// Purchases
		api.GET("/purchases/packs", h.ListPacks)
		api.POST("/purchases/subscription", h.CreateSubscriptionIntent)
		api.POST("/purchases/messages", h.CreateMessagePackIntent)

		// Payment rail callback
		api.POST("/payments/webhook", h.PaymentWebhook)
	}
}

// toPacks maps config packs onto the service catalog type.
func toPacks(in []config.CreditPack) []services.CreditPack {
	out := make([]services.CreditPack, 0, len(in))
	for _, p := range in {
		out = append(out, services.CreditPack{Count: p.Count, Price: p.Price})
	}
	return out
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
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
