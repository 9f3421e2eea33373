package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets  = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	storeDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets      = []float64{100, 1024, 10240, 102400, 1048576}
	sweepBatchBuckets    = []float64{0, 1, 5, 10, 50, 100, 500}
)

// Metrics holds all Prometheus metric instruments for the service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Workflow metrics
	RequestSubmissionsTotal  *prometheus.CounterVec
	WorkflowActionsTotal     *prometheus.CounterVec
	WorkflowCompletionsTotal *prometheus.CounterVec
	TransitionDuration       *prometheus.HistogramVec
	TransitionConflictsTotal *prometheus.CounterVec

	// Grant metrics
	GrantsCreatedTotal   *prometheus.CounterVec
	GrantsRevokedTotal   *prometheus.CounterVec
	GrantsExpiredTotal   prometheus.Counter
	DuplicateGrantsTotal prometheus.Counter

	// Scheduler metrics
	SweepsTotal   *prometheus.CounterVec
	SweepDuration prometheus.Histogram
	SweepExpired  prometheus.Histogram
	SweepRevoked  prometheus.Histogram

	// Notification metrics
	NotificationsTotal *prometheus.CounterVec

	// Idempotency metrics
	IdempotencyReplaysTotal prometheus.Counter
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grantflow_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grantflow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grantflow_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grantflow_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Workflow
		RequestSubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grantflow_request_submissions_total",
			Help: "Total number of submitted requests.",
		}, []string{"kind"}),
		WorkflowActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grantflow_workflow_actions_total",
			Help: "Total number of workflow actions applied.",
		}, []string{"kind", "action", "outcome"}),
		WorkflowCompletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grantflow_workflow_completions_total",
			Help: "Total number of requests reaching a terminal state.",
		}, []string{"kind", "final_status"}),
		TransitionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grantflow_transition_duration_seconds",
			Help:    "Stage transition duration in seconds.",
			Buckets: storeDurationBuckets,
		}, []string{"kind"}),
		TransitionConflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grantflow_transition_conflicts_total",
			Help: "Total number of optimistic lock conflicts on transitions.",
		}, []string{"kind"}),

		// Grants
		GrantsCreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grantflow_grants_created_total",
			Help: "Total number of access grants created.",
		}, []string{"permanent"}),
		GrantsRevokedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grantflow_grants_revoked_total",
			Help: "Total number of grants revoked.",
		}, []string{"reason"}),
		GrantsExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grantflow_grants_expired_total",
			Help: "Total number of grants expired.",
		}),
		DuplicateGrantsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grantflow_duplicate_grants_total",
			Help: "Total number of duplicate grant creations suppressed.",
		}),

		// Scheduler
		SweepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grantflow_sweeps_total",
			Help: "Total number of grant sweeps.",
		}, []string{"status"}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "grantflow_sweep_duration_seconds",
			Help:    "Grant sweep duration in seconds.",
			Buckets: storeDurationBuckets,
		}),
		SweepExpired: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "grantflow_sweep_expired_grants",
			Help:    "Number of grants expired per sweep.",
			Buckets: sweepBatchBuckets,
		}),
		SweepRevoked: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "grantflow_sweep_revoked_grants",
			Help:    "Number of grants revoked per sweep.",
			Buckets: sweepBatchBuckets,
		}),

		// Notifications
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grantflow_notifications_total",
			Help: "Total number of notifications emitted.",
		}, []string{"type", "status"}),

		// Idempotency
		IdempotencyReplaysTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grantflow_idempotency_replays_total",
			Help: "Total number of submissions answered from the idempotency store.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Workflow
		m.RequestSubmissionsTotal,
		m.WorkflowActionsTotal,
		m.WorkflowCompletionsTotal,
		m.TransitionDuration,
		m.TransitionConflictsTotal,
		// Grants
		m.GrantsCreatedTotal,
		m.GrantsRevokedTotal,
		m.GrantsExpiredTotal,
		m.DuplicateGrantsTotal,
		// Scheduler
		m.SweepsTotal,
		m.SweepDuration,
		m.SweepExpired,
		m.SweepRevoked,
		// Notifications
		m.NotificationsTotal,
		// Idempotency
		m.IdempotencyReplaysTotal,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordSubmission records a request submission.
func (m *Metrics) RecordSubmission(kind string) {
	m.RequestSubmissionsTotal.WithLabelValues(kind).Inc()
}

// RecordAction records a workflow action and its outcome.
func (m *Metrics) RecordAction(kind, action, outcome string, duration time.Duration) {
	m.WorkflowActionsTotal.WithLabelValues(kind, action, outcome).Inc()
	m.TransitionDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordCompletion records a request reaching its terminal state.
func (m *Metrics) RecordCompletion(kind, finalStatus string) {
	m.WorkflowCompletionsTotal.WithLabelValues(kind, finalStatus).Inc()
}

// RecordTransitionConflict records an optimistic lock conflict.
func (m *Metrics) RecordTransitionConflict(kind string) {
	m.TransitionConflictsTotal.WithLabelValues(kind).Inc()
}

// RecordGrantCreated records a created grant.
func (m *Metrics) RecordGrantCreated(permanent bool) {
	m.GrantsCreatedTotal.WithLabelValues(strconv.FormatBool(permanent)).Inc()
}

// RecordGrantRevoked records a revoked grant.
func (m *Metrics) RecordGrantRevoked(reason string) {
	m.GrantsRevokedTotal.WithLabelValues(reason).Inc()
}

// RecordGrantExpired records an expired grant.
func (m *Metrics) RecordGrantExpired() {
	m.GrantsExpiredTotal.Inc()
}

// RecordDuplicateGrant records a suppressed duplicate grant creation.
func (m *Metrics) RecordDuplicateGrant() {
	m.DuplicateGrantsTotal.Inc()
}

// RecordSweep records one sweep pass.
func (m *Metrics) RecordSweep(status string, duration time.Duration, expired, revoked int) {
	m.SweepsTotal.WithLabelValues(status).Inc()
	m.SweepDuration.Observe(duration.Seconds())
	m.SweepExpired.Observe(float64(expired))
	m.SweepRevoked.Observe(float64(revoked))
}

// RecordNotification records a notification delivery attempt.
func (m *Metrics) RecordNotification(notificationType, status string) {
	m.NotificationsTotal.WithLabelValues(notificationType, status).Inc()
}

// RecordIdempotencyReplay records a submission answered from cache.
func (m *Metrics) RecordIdempotencyReplay() {
	m.IdempotencyReplaysTotal.Inc()
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
