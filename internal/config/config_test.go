package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load() with explicit missing path should error")
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q, want :8080", cfg.Server.Addr)
	}
	if cfg.Status.Cutoff.Std() != 24*time.Hour {
		t.Errorf("Status.Cutoff = %v, want 24h", cfg.Status.Cutoff.Std())
	}
	if cfg.Status.CacheTTL.Std() != 67*time.Second {
		t.Errorf("Status.CacheTTL = %v, want 67s", cfg.Status.CacheTTL.Std())
	}
	if got := cfg.Status.Tiers; len(got) != 4 || got[0] != 0 || got[3] != -1 {
		t.Errorf("Status.Tiers = %v, want [0 1 2 -1]", got)
	}
}

func TestLoadFile(t *testing.T) {
	raw := `
server:
  addr: ":9000"
  watch_interval: "5s"
database:
  path: "/srv/mirrorhub/data.db"
status:
  cutoff: "48h"
  bad_delay: "12h"
  tiers: [0, 1]
checker:
  cron: "@hourly"
  timeout: "3s"
  workers: 4
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr != ":9000" {
		t.Errorf("Server.Addr = %q, want :9000", cfg.Server.Addr)
	}
	if cfg.Server.WatchInterval.Std() != 5*time.Second {
		t.Errorf("Server.WatchInterval = %v, want 5s", cfg.Server.WatchInterval.Std())
	}
	if cfg.Database.Path != "/srv/mirrorhub/data.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Status.Cutoff.Std() != 48*time.Hour {
		t.Errorf("Status.Cutoff = %v, want 48h", cfg.Status.Cutoff.Std())
	}
	if cfg.Checker.Cron != "@hourly" {
		t.Errorf("Checker.Cron = %q", cfg.Checker.Cron)
	}
	if cfg.Checker.Workers != 4 {
		t.Errorf("Checker.Workers = %d, want 4", cfg.Checker.Workers)
	}

	// untouched sections keep defaults
	if cfg.Auth.JWTIssuer != "mirrorhub" {
		t.Errorf("Auth.JWTIssuer = %q, want mirrorhub", cfg.Auth.JWTIssuer)
	}
	if cfg.Status.ErrorCutoff.Std() != 7*24*time.Hour {
		t.Errorf("Status.ErrorCutoff = %v, want 168h", cfg.Status.ErrorCutoff.Std())
	}
}

func TestLoadBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("status:\n  cutoff: \"yesterday\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load() with bad duration should error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MIRRORHUB_DB_PATH", "/tmp/override.db")
	t.Setenv("MIRRORHUB_JWT_SECRET", "super-secret")
	t.Setenv("MIRRORHUB_ADDR", ":7000")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != "/tmp/override.db" {
		t.Errorf("Database.Path = %q, want /tmp/override.db", cfg.Database.Path)
	}
	if cfg.Auth.JWTSecret != "super-secret" {
		t.Errorf("Auth.JWTSecret = %q", cfg.Auth.JWTSecret)
	}
	if cfg.Server.Addr != ":7000" {
		t.Errorf("Server.Addr = %q, want :7000", cfg.Server.Addr)
	}
}

func TestValidTier(t *testing.T) {
	s := StatusConfig{Tiers: []int{0, 1, 2, -1}}

	testCases := []struct {
		tier int
		want bool
	}{
		{0, true},
		{1, true},
		{2, true},
		{-1, true},
		{3, false},
		{99, false},
	}

	for _, tc := range testCases {
		if got := s.ValidTier(tc.tier); got != tc.want {
			t.Errorf("ValidTier(%d) = %v, want %v", tc.tier, got, tc.want)
		}
	}
}
