package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "COMFY_HOST", "COMFY_TRACK_TIMEOUT", "JOBSTORE"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Port != "7070" {
		t.Errorf("Port = %q, want 7070", cfg.Port)
	}
	// The service must not default to the render backend's own port,
	// or a single-host deployment binds against it.
	if strings.HasSuffix(cfg.ComfyHost, ":"+cfg.Port) {
		t.Errorf("Port %q collides with ComfyHost %q", cfg.Port, cfg.ComfyHost)
	}
	if cfg.TrackTimeout != 600*time.Second {
		t.Errorf("TrackTimeout = %s, want 600s", cfg.TrackTimeout)
	}
	if cfg.JobStoreType != "file" {
		t.Errorf("JobStoreType = %q, want file", cfg.JobStoreType)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9191")
	t.Setenv("COMFY_TRACK_TIMEOUT", "30s")
	t.Setenv("RATE_LIMIT_RPS", "10.5")
	t.Setenv("S3_USE_SSL", "false")

	cfg := Load()

	if cfg.Port != "9191" {
		t.Errorf("Port = %q, want 9191", cfg.Port)
	}
	if cfg.TrackTimeout != 30*time.Second {
		t.Errorf("TrackTimeout = %s, want 30s", cfg.TrackTimeout)
	}
	if cfg.RateLimitRPS != 10.5 {
		t.Errorf("RateLimitRPS = %v, want 10.5", cfg.RateLimitRPS)
	}
	if cfg.S3UseSSL {
		t.Error("S3UseSSL should be overridden to false")
	}
}
