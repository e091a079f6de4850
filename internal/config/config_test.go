package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Clear any env vars that might interfere
	envVars := []string{
		"AAEQ_API_ADDR", "AAEQ_OUTPUT", "AAEQ_SAMPLE_RATE", "AAEQ_CHANNELS",
		"AAEQ_BUFFER_MS", "AAEQ_HEADROOM_DB", "AAEQ_DLNA_BIND", "AAEQ_DLNA_PUSH",
		"AAEQ_ANP_NODE", "AAEQ_ANP_CONTROL_URL", "AAEQ_STATE_DIR",
		"AAEQ_POLL_INTERVAL_MS", "AAEQ_DEFAULT_PRESET", "AAEQ_PROFILE", "AAEQ_DEBUG",
	}
	for _, k := range envVars {
		os.Unsetenv(k)
	}

	cfg := Load()

	if cfg.APIAddr != "127.0.0.1:8737" {
		t.Errorf("APIAddr = %q, want loopback default", cfg.APIAddr)
	}
	if cfg.Output != "local_dac" {
		t.Errorf("Output = %q, want 'local_dac'", cfg.Output)
	}
	if cfg.SampleRate != 48000 {
		t.Errorf("SampleRate = %d, want 48000", cfg.SampleRate)
	}
	if cfg.Channels != 2 {
		t.Errorf("Channels = %d, want 2", cfg.Channels)
	}
	if cfg.BufferMs != 150 {
		t.Errorf("BufferMs = %d, want 150", cfg.BufferMs)
	}
	if cfg.HeadroomDB != -3.0 {
		t.Errorf("HeadroomDB = %f, want -3.0", cfg.HeadroomDB)
	}
	if cfg.PollInterval != time.Second {
		t.Errorf("PollInterval = %v, want 1s", cfg.PollInterval)
	}
	if cfg.DefaultPreset != "Flat" {
		t.Errorf("DefaultPreset = %q, want 'Flat'", cfg.DefaultPreset)
	}
	if cfg.ActiveProfile != 1 {
		t.Errorf("ActiveProfile = %d, want 1", cfg.ActiveProfile)
	}
	if cfg.Debug {
		t.Error("Debug should default to false")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("AAEQ_API_ADDR", "127.0.0.1:9999")
	t.Setenv("AAEQ_OUTPUT", "anp")
	t.Setenv("AAEQ_SAMPLE_RATE", "96000")
	t.Setenv("AAEQ_BUFFER_MS", "250")
	t.Setenv("AAEQ_HEADROOM_DB", "-6.0")
	t.Setenv("AAEQ_ANP_NODE", "10.0.0.20:46000")
	t.Setenv("AAEQ_POLL_INTERVAL_MS", "500")
	t.Setenv("AAEQ_DEFAULT_PRESET", "Warm")
	t.Setenv("AAEQ_PROFILE", "3")
	t.Setenv("AAEQ_DEBUG", "true")

	cfg := Load()

	if cfg.APIAddr != "127.0.0.1:9999" {
		t.Errorf("APIAddr = %q, want env override", cfg.APIAddr)
	}
	if cfg.Output != "anp" {
		t.Errorf("Output = %q, want 'anp'", cfg.Output)
	}
	if cfg.SampleRate != 96000 {
		t.Errorf("SampleRate = %d, want 96000", cfg.SampleRate)
	}
	if cfg.BufferMs != 250 {
		t.Errorf("BufferMs = %d, want 250", cfg.BufferMs)
	}
	if cfg.HeadroomDB != -6.0 {
		t.Errorf("HeadroomDB = %f, want -6.0", cfg.HeadroomDB)
	}
	if cfg.AnpNodeAddr != "10.0.0.20:46000" {
		t.Errorf("AnpNodeAddr = %q, want env override", cfg.AnpNodeAddr)
	}
	if cfg.PollInterval != 500*time.Millisecond {
		t.Errorf("PollInterval = %v, want 500ms", cfg.PollInterval)
	}
	if cfg.DefaultPreset != "Warm" {
		t.Errorf("DefaultPreset = %q, want 'Warm'", cfg.DefaultPreset)
	}
	if cfg.ActiveProfile != 3 {
		t.Errorf("ActiveProfile = %d, want 3", cfg.ActiveProfile)
	}
	if !cfg.Debug {
		t.Error("Debug should be true from env")
	}
}

func TestEnvIntInvalidFallsBack(t *testing.T) {
	t.Setenv("AAEQ_SAMPLE_RATE", "not-a-number")
	cfg := Load()
	if cfg.SampleRate != 48000 {
		t.Errorf("Invalid int env should fallback to default: got %d, want 48000", cfg.SampleRate)
	}
}

func TestEnvBoolInvalidFallsBack(t *testing.T) {
	t.Setenv("AAEQ_DEBUG", "maybe")
	cfg := Load()
	if cfg.Debug {
		t.Error("Invalid bool env should fallback to false")
	}
}
