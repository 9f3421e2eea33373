// Package integration provides a reusable test harness for end-to-end
// testing of the grantflow server. It starts a full HTTP server over
// in-memory stores with a test JWT issuer serving its own JWKS endpoint.
package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/veropath/grantflow/internal/chain"
	"github.com/veropath/grantflow/internal/config"
	"github.com/veropath/grantflow/internal/grant"
	"github.com/veropath/grantflow/internal/idempotency"
	"github.com/veropath/grantflow/internal/notify"
	"github.com/veropath/grantflow/internal/observability"
	"github.com/veropath/grantflow/internal/scheduler"
	"github.com/veropath/grantflow/internal/transport"
	"github.com/veropath/grantflow/internal/workflow"
)

// TestHarness encapsulates a fully wired grantflow instance for
// integration testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	RequestStore     *workflow.MemoryRequestStore
	GrantStore       *grant.MemoryGrantStore
	GrantManager     *grant.Manager
	Engine           *workflow.Engine
	Sweeper          *scheduler.Sweeper
	Notifications    *notify.Recorder
	IdempotencyStore *idempotency.MemoryStore

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	handlerTimeout time.Duration
	idempotency    bool
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// WithoutIdempotency disables submission deduplication.
func WithoutIdempotency() HarnessOption {
	return func(c *harnessConfig) {
		c.idempotency = false
	}
}

// NewTestHarness creates and starts a full grantflow test instance. The
// server is automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout: 10 * time.Second,
		idempotency:    true,
	}
	for _, opt := range opts {
		opt(hc)
	}

	h := &TestHarness{
		t:                t,
		RequestStore:     workflow.NewMemoryRequestStore(),
		GrantStore:       grant.NewMemoryGrantStore(),
		Notifications:    notify.NewRecorder(),
		IdempotencyStore: idempotency.NewMemoryStore(),
	}

	registry := chain.NewRegistry(chain.DefaultChains())
	h.GrantManager = grant.NewManager(h.GrantStore, h.Notifications, nil)
	h.Engine = workflow.NewEngine(registry, h.RequestStore, h.GrantManager, h.Notifications, nil)
	h.Sweeper = scheduler.NewSweeper(h.GrantStore, h.GrantManager, time.Minute, nil)

	h.issuer = newTokenIssuer(t)

	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	h.cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	h.cfg.Identity.Issuer = h.issuer.issuer
	h.cfg.Identity.Audience = h.issuer.audience
	h.cfg.Identity.JWKSURL = h.issuer.JWKSURL()
	h.cfg.Identity.Algorithms = []string{"RS256"}

	var idemStore idempotency.Store
	if hc.idempotency {
		idemStore = h.IdempotencyStore
	}

	jwks := transport.NewJWKSClient(h.issuer.JWKSURL(), 1*time.Hour, nil)

	router := transport.NewRouter(transport.Dependencies{
		Config:       h.cfg,
		Engine:       h.Engine,
		Grants:       h.GrantManager,
		Sweeper:      h.Sweeper,
		Idempotency:  idemStore,
		Ready:        observability.ReadinessChecks{ChainsLoaded: func() bool { return len(registry.Kinds()) > 0 }},
		Authenticate: transport.JWTAuthenticator(h.cfg.Identity, jwks),
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(func() {
		h.server.Close()
	})

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, nil)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, nil)
}

// POSTWithHeaders performs an authenticated POST request with additional headers.
func (h *TestHarness) POSTWithHeaders(path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, headers)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	url := h.server.URL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 10 * time.Second}

	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}
