package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestFindConfig_Explicit(t *testing.T) {
	path := writeConfig(t, "listen:\n  port: 9999\n")

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	if _, err := FindConfig("/nonexistent/config.yaml"); err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("listen:\n  port: 8080\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("GRANTDESK_TEST_KEY", "sk-ant-secret")
	path := writeConfig(t, "anthropic:\n  api_key: ${GRANTDESK_TEST_KEY}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Anthropic.APIKey != "sk-ant-secret" {
		t.Errorf("api_key = %q, want %q", cfg.Anthropic.APIKey, "sk-ant-secret")
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "log_level: debug\n"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Listen.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Listen.Port)
	}
	if cfg.Cache.Backend != "memory" {
		t.Errorf("cache backend = %q, want memory", cfg.Cache.Backend)
	}
	if cfg.Cache.TTL() != 24*time.Hour {
		t.Errorf("cache ttl = %v, want 24h", cfg.Cache.TTL())
	}
	if cfg.Tools.Timeout() != 30*time.Second {
		t.Errorf("tool timeout = %v, want 30s", cfg.Tools.Timeout())
	}
	if cfg.Router.ComplexMaxIterations != 20 || cfg.Router.SimpleMaxIterations != 8 {
		t.Errorf("iteration caps = %d/%d, want 20/8",
			cfg.Router.ComplexMaxIterations, cfg.Router.SimpleMaxIterations)
	}
	if cfg.Models.Title != cfg.Models.Fast {
		t.Errorf("title model = %q, want fast model %q", cfg.Models.Title, cfg.Models.Fast)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "bad log level", body: "log_level: loud\n", wantErr: "log_level"},
		{name: "bad log format", body: "log_format: xml\n", wantErr: "log_format"},
		{name: "bad cache backend", body: "cache:\n  backend: memcached\n", wantErr: "cache.backend"},
		{name: "redis without addr", body: "cache:\n  backend: redis\n", wantErr: "cache.addr"},
		{name: "port out of range", body: "listen:\n  port: 70000\n", wantErr: "listen.port"},
		{name: "tiny reasoning budget", body: "router:\n  reasoning_budget: 100\n", wantErr: "reasoning_budget"},
		{
			name:    "budget above max tokens",
			body:    "anthropic:\n  max_tokens: 4096\nrouter:\n  reasoning_budget: 8000\n",
			wantErr: "max_tokens",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfigured(t *testing.T) {
	cfg := Default()
	if cfg.CRM.Configured() || cfg.DocStore.Configured() || cfg.MQTT.Configured() {
		t.Error("default config should leave integrations unconfigured")
	}
	cfg.CRM.BaseURL = "https://crm.example.com"
	if !cfg.CRM.Configured() {
		t.Error("CRM with base_url should be configured")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{" trace ", LevelTrace},
		{"debug", slog.LevelDebug},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if err != nil {
			t.Errorf("ParseLogLevel(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := ParseLogLevel("verbose"); err == nil {
		t.Error("ParseLogLevel(verbose) should error")
	}
}

func TestReplaceLogLevelNames(t *testing.T) {
	a := ReplaceLogLevelNames(nil, slog.Any(slog.LevelKey, LevelTrace))
	if a.Value.String() != "TRACE" {
		t.Errorf("trace level rendered as %q, want TRACE", a.Value.String())
	}
	b := ReplaceLogLevelNames(nil, slog.Any(slog.LevelKey, slog.LevelInfo))
	if b.Value.Any().(slog.Level) != slog.LevelInfo {
		t.Errorf("info level should pass through unchanged")
	}
}
