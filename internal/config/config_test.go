package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Scheduler.TickSeconds != 5 {
		t.Fatalf("tick_seconds = %d", cfg.Scheduler.TickSeconds)
	}
	if cfg.TickInterval() != 5*time.Second {
		t.Fatalf("tick interval = %s", cfg.TickInterval())
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault()))
	if err != nil {
		t.Fatalf("template does not parse: %v", err)
	}
	if cfg.Scheduler.FeedBuffer != 64 {
		t.Fatalf("feed_buffer = %d", cfg.Scheduler.FeedBuffer)
	}
}

func TestFromYAMLRejectsBadValues(t *testing.T) {
	cases := []string{
		"scheduler:\n  tick_seconds: -1\n",
		"delivery:\n  secret: abc\n",
		"upcoming:\n  default_limit: -5\n",
		"scheduler: [not, a, map]\n",
	}
	for _, raw := range cases {
		if _, err := FromYAML([]byte(raw)); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestLoadOptional(t *testing.T) {
	workspace := t.TempDir()
	cfg, err := LoadOptional(workspace)
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if cfg != nil {
		t.Fatal("missing file should return nil config")
	}

	raw := "scheduler:\n  tick_seconds: 2\n  feed_buffer: 16\ndelivery:\n  url: http://localhost:9999/hook\n  timeout_seconds: 3\n"
	if err := os.WriteFile(filepath.Join(workspace, "cradle.yml"), []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err = LoadOptional(workspace)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Scheduler.TickSeconds != 2 || cfg.Delivery.URL == "" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.DeliveryTimeout() != 3*time.Second {
		t.Fatalf("delivery timeout = %s", cfg.DeliveryTimeout())
	}
}
