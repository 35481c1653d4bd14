package economy

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fieldlink/reputation-engine/pkg/logger"
)

// Request headers set by the upstream gateway after authentication.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"

	adminRole = "admin"
)

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// MetricsPath serves the Prometheus exporter when non-empty.
	MetricsPath  string
	HealthChecks map[string]HealthCheck
}

// NewRouter builds the gin engine with every economy route registered.
func NewRouter(h *Handler, opts RouterOptions, log *logger.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(log))

	router.GET("/health", healthHandler(opts.HealthChecks))
	if opts.MetricsPath != "" {
		router.GET(opts.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	api := router.Group("/api/v1")
	admin := requireAdmin(h)

	users := api.Group("/users/:id")
	users.GET("/balance", h.GetBalance)
	users.GET("/transactions", h.ListTransactions)
	users.POST("/awards", h.AwardCredit)
	users.POST("/spends", h.SpendCredit)
	users.POST("/purchases", admin, h.CreditPurchase)
	users.PUT("/account", h.EnsureAccount)
	users.GET("/connection-quota", h.GetConnectionQuota)
	users.POST("/connection-quota/consume", h.ConsumeConnectionQuota)
	users.PUT("/connection-limit", admin, h.SetConnectionLimit)
	users.GET("/trust-scores/:role", h.GetTrustScore)
	users.POST("/trust-scores/:role/recompute", h.RecomputeTrustScore)

	api.GET("/rules", h.ListRules)
	api.GET("/rules/:name", h.GetRule)
	api.PUT("/rules/:name", admin, h.SetRule)
	api.GET("/rules/:name/audit", admin, h.ListRuleAudit)

	api.POST("/reviews", h.SubmitReview)
	reviews := api.Group("/reviews/:id")
	reviews.POST("/hide", admin, h.HideReview)
	reviews.POST("/unhide", admin, h.UnhideReview)
	reviews.POST("/dispute", h.OpenDispute)
	reviews.POST("/resolve-dispute", admin, h.ResolveDispute)
	reviews.POST("/hide-with-credits", h.HideReviewWithCredits)

	return router
}

func actorID(c *gin.Context) string {
	return c.GetHeader(HeaderActorID)
}

// requireAdmin rejects callers the gateway did not mark as administrators.
func requireAdmin(h *Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(HeaderActorRole) != adminRole || actorID(c) == "" {
			h.log.Warn().
				Str("path", c.FullPath()).
				Str("actor", actorID(c)).
				Msg("Rejected non-admin request to admin route")
			h.errorResponse(c, http.StatusForbidden, "forbidden", "admin role required", 0)
			return
		}
		c.Next()
	}
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := log.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = log.Warn()
		}
		event.
			Int("status", c.Writer.Status()).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Str("actor", actorID(c)).
			Msg("HTTP request")
	}
}

func healthHandler(checks map[string]HealthCheck) gin.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(gin.H, len(names))
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		state := "healthy"
		if status != http.StatusOK {
			state = "unhealthy"
		}
		c.JSON(status, gin.H{
			"status": state,
			"checks": results,
		})
	}
}
