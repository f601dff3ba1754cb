package config

import (
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected config to load successfully, got error: %v", err)
	}

	if cfg.Namespace != "default" {
		t.Errorf("expected default namespace to be %q, got %q", "default", cfg.Namespace)
	}
	if cfg.NATS.WorkerPoolSize != 10 {
		t.Errorf("expected default worker pool size to be 10, got %d", cfg.NATS.WorkerPoolSize)
	}
	if cfg.Telemetry.Enabled {
		t.Errorf("expected telemetry to be disabled by default")
	}
	if cfg.DelayPollInterval.Seconds() != 1 {
		t.Errorf("expected default delay poll interval to be 1s, got %v", cfg.DelayPollInterval)
	}
}

func TestLoad_EnvOverridesDefault(t *testing.T) {
	t.Setenv("ORCHESTRA_NAMESPACE", "team-a")
	t.Setenv("ORCHESTRA_DEBUG", "true")
	bindEnvVars()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected config to load successfully, got error: %v", err)
	}
	if cfg.Namespace != "team-a" {
		t.Errorf("expected env override of namespace, got %q", cfg.Namespace)
	}
	if !cfg.Debug {
		t.Errorf("expected debug to be enabled via ORCHESTRA_DEBUG")
	}
}
