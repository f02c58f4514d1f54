package config

import (
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.Port != "3001" {
		t.Fatalf("Port = %q, want 3001", cfg.Port)
	}
	if cfg.WSPort != "1234" {
		t.Fatalf("WSPort = %q, want 1234", cfg.WSPort)
	}
	if cfg.SnapshotThreshold != 200 {
		t.Fatalf("SnapshotThreshold = %d, want 200", cfg.SnapshotThreshold)
	}
	if cfg.SnapshotSizeLimit != 5*1024*1024 {
		t.Fatalf("SnapshotSizeLimit = %d, want 5 MiB", cfg.SnapshotSizeLimit)
	}
	if cfg.Debounce != 2*time.Second || cfg.MaxDebounce != 10*time.Second {
		t.Fatalf("debounce = %s/%s, want 2s/10s", cfg.Debounce, cfg.MaxDebounce)
	}
	if cfg.WorkerInterval != 30*time.Second {
		t.Fatalf("WorkerInterval = %s, want 30s", cfg.WorkerInterval)
	}
	if cfg.SnapshotBucket != "crdt-snapshots" {
		t.Fatalf("SnapshotBucket = %q", cfg.SnapshotBucket)
	}
}

func TestMillisecondEnvParsing(t *testing.T) {
	t.Setenv("HOCUSPOCUS_DEBOUNCE", "1500")
	cfg := LoadConfig()
	if cfg.Debounce != 1500*time.Millisecond {
		t.Fatalf("Debounce = %s, want 1.5s", cfg.Debounce)
	}
}

func TestValidateRequiresAuthBackend(t *testing.T) {
	t.Setenv("AUTH_SERVICE_URL", "")
	t.Setenv("JWT_SECRET", "")
	cfg := LoadConfig()
	cfg.AuthServiceURL = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error with neither JWT secret nor auth service")
	}
}

func TestValidateRejectsWildcardOriginsInProduction(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("ALLOWED_ORIGINS", "*")
	cfg := LoadConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for wildcard origins in production")
	}

	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com")
	cfg = LoadConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("explicit origins rejected: %v", err)
	}
}

func TestValidateRejectsInvertedDebounce(t *testing.T) {
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("HOCUSPOCUS_DEBOUNCE", "5000")
	t.Setenv("HOCUSPOCUS_MAX_DEBOUNCE", "1000")
	cfg := LoadConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when max debounce < debounce")
	}
}

func TestSplitOrigins(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", " https://a.example.com , https://b.example.com ,")
	cfg := LoadConfig()
	if len(cfg.AllowedOrigins) != 2 {
		t.Fatalf("got %d origins, want 2: %v", len(cfg.AllowedOrigins), cfg.AllowedOrigins)
	}
	if cfg.AllowedOrigins[0] != "https://a.example.com" {
		t.Fatalf("origin[0] = %q", cfg.AllowedOrigins[0])
	}
}
