package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Addr != ":8080" {
		t.Fatalf("addr = %q", cfg.Addr)
	}
	if !cfg.RequireCaptcha {
		t.Fatal("captcha must be required by default")
	}
	if cfg.MaxDepth != 5 || cfg.PageSize != 25 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Fanout.Workers != 2 || cfg.Fanout.QueueSize != 256 {
		t.Fatalf("unexpected fanout defaults %+v", cfg.Fanout)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("QUIBBLE_ADDR", ":9999")
	t.Setenv("QUIBBLE_REQUIRE_CAPTCHA", "false")
	t.Setenv("QUIBBLE_CAPTCHA_TTL", "90s")
	t.Setenv("QUIBBLE_FANOUT_WORKERS", "7")

	cfg := Load()
	if cfg.Addr != ":9999" {
		t.Fatalf("addr = %q", cfg.Addr)
	}
	if cfg.RequireCaptcha {
		t.Fatal("captcha override ignored")
	}
	if cfg.CaptchaTTL != 90*time.Second {
		t.Fatalf("captcha ttl = %v", cfg.CaptchaTTL)
	}
	if cfg.Fanout.Workers != 7 {
		t.Fatalf("fanout workers = %d", cfg.Fanout.Workers)
	}
}

func TestPortFallback(t *testing.T) {
	t.Setenv("PORT", "3000")
	cfg := Load()
	if cfg.Addr != ":3000" {
		t.Fatalf("addr = %q, want :3000", cfg.Addr)
	}

	t.Setenv("QUIBBLE_ADDR", ":4000")
	cfg = Load()
	if cfg.Addr != ":4000" {
		t.Fatalf("QUIBBLE_ADDR must win over PORT, got %q", cfg.Addr)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quibble.yml")
	content := []byte(`
addr: ":7070"
require_captcha: false
captcha_ttl: 2m
page_size: 10
fanout:
  workers: 4
  backoff: 100ms
rate_limits:
  comment_per_minute: 5
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("QUIBBLE_CONFIG", path)

	cfg := Load()
	if cfg.Addr != ":7070" {
		t.Fatalf("addr = %q", cfg.Addr)
	}
	if cfg.RequireCaptcha {
		t.Fatal("require_captcha: false ignored")
	}
	if cfg.CaptchaTTL != 2*time.Minute {
		t.Fatalf("captcha ttl = %v", cfg.CaptchaTTL)
	}
	if cfg.PageSize != 10 {
		t.Fatalf("page size = %d", cfg.PageSize)
	}
	if cfg.Fanout.Workers != 4 || cfg.Fanout.Backoff != 100*time.Millisecond {
		t.Fatalf("fanout = %+v", cfg.Fanout)
	}
	if cfg.RateLimits.CommentPerMinute != 5 {
		t.Fatalf("rate limit = %d", cfg.RateLimits.CommentPerMinute)
	}
	// File values not set fall back to defaults.
	if cfg.DBPath != "quibble.db" {
		t.Fatalf("db path = %q", cfg.DBPath)
	}
}

func TestEnvWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quibble.yml")
	if err := os.WriteFile(path, []byte("addr: \":7070\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("QUIBBLE_CONFIG", path)
	t.Setenv("QUIBBLE_ADDR", ":5050")

	cfg := Load()
	if cfg.Addr != ":5050" {
		t.Fatalf("addr = %q, env must win over file", cfg.Addr)
	}
}
