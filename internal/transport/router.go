package transport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/veropath/grantflow/internal/config"
	"github.com/veropath/grantflow/internal/grant"
	"github.com/veropath/grantflow/internal/idempotency"
	"github.com/veropath/grantflow/internal/observability"
	"github.com/veropath/grantflow/internal/scheduler"
	"github.com/veropath/grantflow/internal/workflow"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	Engine       *workflow.Engine
	Grants       *grant.Manager
	Sweeper      *scheduler.Sweeper
	Idempotency  idempotency.Store
	Ready        observability.ReadinessChecks
	Authenticate func(http.Handler) http.Handler
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(observability.TracingMiddleware)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}

	// Public routes bypass authentication.
	r.Get("/healthz", observability.HandleHealth())
	r.Get("/readyz", observability.HandleReady(deps.Ready))
	r.Method(http.MethodGet, "/metrics", observability.Handler())

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	var idemTTL time.Duration
	if deps.Config.Idempotency.Enabled {
		idemTTL = deps.Config.Idempotency.Store.DefaultTTL
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(ActorContext(deps.Config.Identity.ClaimPaths, logger))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))

		r.Post("/api/requests", handleRequestSubmit(deps.Engine, deps.Idempotency, idemTTL, deps.Metrics))
		r.Get("/api/requests/actionable", handleRequestListActionable(deps.Engine))
		r.Get("/api/requests/{requestId}", handleRequestGet(deps.Engine))
		r.Post("/api/requests/{requestId}/actions", handleRequestAction(deps.Engine, deps.Metrics))

		r.Get("/api/grants", handleGrantList(deps.Grants))
		r.Get("/api/grants/{grantId}", handleGrantGet(deps.Grants))
		r.Post("/api/grants/{grantId}/revoke", handleGrantRevoke(deps.Grants, deps.Metrics))
		r.Post("/api/grants/{grantId}/schedule-revocation", handleGrantScheduleRevocation(deps.Grants))

		r.Post("/api/admin/sweep", handleSweepNow(deps.Sweeper, deps.Metrics))
	})

	return r
}
