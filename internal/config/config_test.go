package config

import (
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv(ConfigPathEnvVar, "")
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("JWT_REFRESH_SECRET", testSecret+"-refresh")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load(4001)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 4001 {
		t.Fatalf("Port = %d, want 4001", cfg.Port)
	}
	if cfg.AccessTTL() != 900*time.Second {
		t.Fatalf("AccessTTL() = %v", cfg.AccessTTL())
	}
	if cfg.RefreshTTL() != 30*24*time.Hour {
		t.Fatalf("RefreshTTL() = %v", cfg.RefreshTTL())
	}
	if cfg.LLM.Model != "gpt-3.5-turbo" {
		t.Fatalf("LLM.Model = %q", cfg.LLM.Model)
	}
	if len(cfg.FrontendURLs) != 2 {
		t.Fatalf("FrontendURLs = %v", cfg.FrontendURLs)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "5050")
	t.Setenv("JWT_ACCESS_TOKEN_TTL_SECONDS", "120")
	t.Setenv("JWT_REFRESH_TOKEN_TTL_DAYS", "7")
	t.Setenv("FRONTEND_APP_URLS", "https://app.metalearn.dev, https://tutors.metalearn.dev ,")
	t.Setenv("LLM_MODEL", "gpt-4o-mini")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("S3_USE_SSL", "true")

	cfg, err := Load(4000)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 5050 {
		t.Fatalf("Port = %d, want 5050", cfg.Port)
	}
	if cfg.AccessTTL() != 2*time.Minute {
		t.Fatalf("AccessTTL() = %v", cfg.AccessTTL())
	}
	if cfg.RefreshTTL() != 7*24*time.Hour {
		t.Fatalf("RefreshTTL() = %v", cfg.RefreshTTL())
	}
	want := []string{"https://app.metalearn.dev", "https://tutors.metalearn.dev"}
	if strings.Join(cfg.FrontendURLs, "|") != strings.Join(want, "|") {
		t.Fatalf("FrontendURLs = %v, want %v", cfg.FrontendURLs, want)
	}
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Fatalf("LLM.Model = %q", cfg.LLM.Model)
	}
	if cfg.Limits.AuthWindow != 30*time.Second {
		t.Fatalf("Limits.AuthWindow = %v", cfg.Limits.AuthWindow)
	}
	if !cfg.S3.UseSSL {
		t.Fatal("expected S3.UseSSL")
	}
}

func TestLoadRejectsShortSecrets(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, "")
	t.Setenv("JWT_SECRET", "short")
	t.Setenv("JWT_REFRESH_SECRET", testSecret)

	_, err := Load(4000)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "JWT_SECRET must be at least 32 characters") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequireLLM(t *testing.T) {
	var cfg Config
	if err := cfg.RequireLLM(); err == nil {
		t.Fatal("expected missing key error")
	}
	cfg.LLM.APIKey = "sk-test"
	if err := cfg.RequireLLM(); err != nil {
		t.Fatalf("RequireLLM() error = %v", err)
	}
}
