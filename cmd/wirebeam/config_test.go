package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Addr != ":8000" {
		t.Errorf("addr = %q, want :8000", cfg.Addr)
	}
	if cfg.SessionTTL != 10*time.Minute {
		t.Errorf("session_ttl = %v, want 10m", cfg.SessionTTL)
	}
	if cfg.GraceDelay != 10*time.Second {
		t.Errorf("grace_delay = %v, want 10s", cfg.GraceDelay)
	}
	if cfg.OTPLength != 6 {
		t.Errorf("otp_length = %d, want 6", cfg.OTPLength)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("log_format = %q, want text", cfg.LogFormat)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("WIREBEAM_ADDR", ":9001")
	t.Setenv("WIREBEAM_GRACE_DELAY", "30s")
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Addr != ":9001" {
		t.Errorf("addr = %q, want :9001", cfg.Addr)
	}
	if cfg.GraceDelay != 30*time.Second {
		t.Errorf("grace_delay = %v, want 30s", cfg.GraceDelay)
	}
}

func TestLoadConfigFileOverlayWinsOverEnv(t *testing.T) {
	t.Setenv("WIREBEAM_ADDR", ":9001")
	path := filepath.Join(t.TempDir(), "config.toml")
	content := "addr = \":7777\"\nsession_ttl = \"5m\"\nserver_name = \"beam-prod\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Addr != ":7777" {
		t.Errorf("addr = %q, want :7777 (file wins)", cfg.Addr)
	}
	if cfg.SessionTTL != 5*time.Minute {
		t.Errorf("session_ttl = %v, want 5m", cfg.SessionTTL)
	}
	if cfg.ServerName != "beam-prod" {
		t.Errorf("server_name = %q, want beam-prod", cfg.ServerName)
	}
	// Keys absent from the file keep their env/default values.
	if cfg.GraceDelay != 10*time.Second {
		t.Errorf("grace_delay = %v, want default 10s", cfg.GraceDelay)
	}
}

func TestLoadConfigRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("grace_delay = \"soon\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := loadConfig(path); err == nil {
		t.Fatal("loadConfig accepted an unparseable duration")
	}
}

func TestLoadConfigRejectsBadLogLevel(t *testing.T) {
	t.Setenv("WIREBEAM_LOG_LEVEL", "loud")
	if _, err := loadConfig(""); err == nil {
		t.Fatal("loadConfig accepted an unknown log level")
	}
}
