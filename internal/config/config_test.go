package config

import (
	"testing"
	"time"
)

func TestLoad_valid(t *testing.T) {
	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
	if cfg.Identity.Issuer != "https://auth.example.com" {
		t.Errorf("Identity.Issuer = %q", cfg.Identity.Issuer)
	}
	if cfg.Identity.JWKSURL != "https://auth.example.com/.well-known/jwks.json" {
		t.Errorf("Identity.JWKSURL = %q", cfg.Identity.JWKSURL)
	}
	if cfg.Identity.Audience != "grantflow" {
		t.Errorf("Identity.Audience = %q", cfg.Identity.Audience)
	}
	if len(cfg.Identity.Algorithms) != 2 {
		t.Errorf("Identity.Algorithms = %v, want 2 entries", cfg.Identity.Algorithms)
	}
	if cfg.Chains.File != "/etc/grantflow/chains.yaml" {
		t.Errorf("Chains.File = %q", cfg.Chains.File)
	}
	if cfg.Store.Driver != "postgres" {
		t.Errorf("Store.Driver = %q, want postgres", cfg.Store.Driver)
	}
	if cfg.Store.MaxOpenConns != 10 {
		t.Errorf("Store.MaxOpenConns = %d, want 10", cfg.Store.MaxOpenConns)
	}
	if cfg.Scheduler.SweepInterval != 2*time.Minute {
		t.Errorf("Scheduler.SweepInterval = %v, want 2m", cfg.Scheduler.SweepInterval)
	}
	if cfg.Notifier.Driver != "webhook" {
		t.Errorf("Notifier.Driver = %q, want webhook", cfg.Notifier.Driver)
	}
	if cfg.Notifier.Endpoint != "https://notify.internal/hooks/grantflow" {
		t.Errorf("Notifier.Endpoint = %q", cfg.Notifier.Endpoint)
	}
	if !cfg.Idempotency.Enabled || cfg.Idempotency.Store.Driver != "redis" {
		t.Errorf("Idempotency = %+v, want enabled redis", cfg.Idempotency)
	}
	if cfg.Idempotency.Store.DefaultTTL != 12*time.Hour {
		t.Errorf("Idempotency.Store.DefaultTTL = %v, want 12h", cfg.Idempotency.Store.DefaultTTL)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("Observability.LogLevel = %q, want debug", cfg.Observability.LogLevel)
	}
}

func TestLoad_missing_file(t *testing.T) {
	_, err := Load("testdata/nonexistent.yaml")
	if err == nil {
		t.Fatal("Load() with missing file should return error")
	}
}

func TestLoad_missing_identity(t *testing.T) {
	_, err := Load("testdata/missing_identity.yaml")
	if err == nil {
		t.Fatal("Load() with missing identity should return error")
	}
}

func TestLoad_unsupported_store_driver(t *testing.T) {
	_, err := Load("testdata/bad_driver.yaml")
	if err == nil {
		t.Fatal("Load() with unsupported store driver should return error")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("default Store.Driver = %q, want memory", cfg.Store.Driver)
	}
	if cfg.Scheduler.SweepInterval != 5*time.Minute {
		t.Errorf("default Scheduler.SweepInterval = %v, want 5m", cfg.Scheduler.SweepInterval)
	}
	if cfg.Notifier.Driver != "log" {
		t.Errorf("default Notifier.Driver = %q, want log", cfg.Notifier.Driver)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want info", cfg.Observability.LogLevel)
	}
}

func TestValidate_webhookWithoutEndpoint(t *testing.T) {
	cfg := Defaults()
	cfg.Identity.Issuer = "https://auth.example.com"
	cfg.Identity.Audience = "grantflow"
	cfg.Identity.JWKSURL = "https://auth.example.com/jwks"
	cfg.Notifier.Driver = "webhook"

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() should reject webhook driver without endpoint")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GRANTFLOW_SERVER_PORT", "3000")
	t.Setenv("GRANTFLOW_IDENTITY_ISSUER", "https://env-issuer.com")
	t.Setenv("GRANTFLOW_IDENTITY_JWKS_URL", "https://env-issuer.com/.well-known/jwks.json")
	t.Setenv("GRANTFLOW_IDENTITY_AUDIENCE", "env-audience")
	t.Setenv("GRANTFLOW_OBSERVABILITY_LOG_LEVEL", "error")
	t.Setenv("GRANTFLOW_STORE_DRIVER", "memory")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000 (env override)", cfg.Server.Port)
	}
	if cfg.Identity.Issuer != "https://env-issuer.com" {
		t.Errorf("Identity.Issuer = %q, want env override", cfg.Identity.Issuer)
	}
	if cfg.Identity.Audience != "env-audience" {
		t.Errorf("Identity.Audience = %q, want env override", cfg.Identity.Audience)
	}
	if cfg.Observability.LogLevel != "error" {
		t.Errorf("Observability.LogLevel = %q, want error", cfg.Observability.LogLevel)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("Store.Driver = %q, want memory (env override)", cfg.Store.Driver)
	}
}
