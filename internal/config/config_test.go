package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	t.Parallel()

	cfg := Default()

	if cfg.Host != "0.0.0.0" {
		t.Errorf("Host = %q, want 0.0.0.0", cfg.Host)
	}
	if cfg.Port != 8088 {
		t.Errorf("Port = %d, want 8088", cfg.Port)
	}
	if cfg.HeartbeatCheckIntervalSeconds != 15 {
		t.Errorf("HeartbeatCheckIntervalSeconds = %d, want 15", cfg.HeartbeatCheckIntervalSeconds)
	}
	if cfg.ClientTimeoutSeconds != 60 {
		t.Errorf("ClientTimeoutSeconds = %d, want 60", cfg.ClientTimeoutSeconds)
	}
	if cfg.GroupRetentionSeconds != 30 {
		t.Errorf("GroupRetentionSeconds = %d, want 30", cfg.GroupRetentionSeconds)
	}
	if cfg.MaxCustomSharedDataBytes != 64*1024 {
		t.Errorf("MaxCustomSharedDataBytes = %d, want %d", cfg.MaxCustomSharedDataBytes, 64*1024)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults = %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	content := `{
		"host": "127.0.0.1",
		"port": 9099,
		"environment": "development",
		"client_timeout_seconds": 120
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want 127.0.0.1", cfg.Host)
	}
	if cfg.Port != 9099 {
		t.Errorf("Port = %d, want 9099", cfg.Port)
	}
	if !cfg.IsDevelopment() {
		t.Error("IsDevelopment() = false, want true")
	}
	if cfg.ClientTimeout() != 2*time.Minute {
		t.Errorf("ClientTimeout() = %v, want 2m", cfg.ClientTimeout())
	}
	// Unset keys fall back to defaults.
	if cfg.HeartbeatCheckIntervalSeconds != 15 {
		t.Errorf("HeartbeatCheckIntervalSeconds = %d, want default 15", cfg.HeartbeatCheckIntervalSeconds)
	}
}

func TestLoadFileEnvOverride(t *testing.T) {
	// t.Setenv forbids t.Parallel.
	t.Setenv("SATHUB_PORT", "9500")

	path := filepath.Join(t.TempDir(), ConfigFileName)
	if err := os.WriteFile(path, []byte(`{"port": 9099}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Port != 9500 {
		t.Errorf("Port = %d, want env override 9500", cfg.Port)
	}
}

func TestLoadFileInvalidJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ConfigFileName)
	if err := os.WriteFile(path, []byte(`{broken`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := LoadFile(path); err == nil {
		t.Fatal("LoadFile() error = nil, want parse error")
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Port = 0
	cfg.ClientTimeoutSeconds = 0
	cfg.SendBufferSize = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want errors")
	}
	for _, want := range []string{"port", "client_timeout_seconds", "send_buffer_size"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error %q does not mention %s", err, want)
		}
	}
}

func TestAddr(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Host = "10.0.0.5"
	cfg.Port = 8088
	if got := cfg.Addr(); got != "10.0.0.5:8088" {
		t.Errorf("Addr() = %q, want 10.0.0.5:8088", got)
	}
}

func TestDurations(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if cfg.HeartbeatCheckInterval() != 15*time.Second {
		t.Errorf("HeartbeatCheckInterval() = %v", cfg.HeartbeatCheckInterval())
	}
	if cfg.ClientTimeout() != 60*time.Second {
		t.Errorf("ClientTimeout() = %v", cfg.ClientTimeout())
	}
	if cfg.GroupRetention() != 30*time.Second {
		t.Errorf("GroupRetention() = %v", cfg.GroupRetention())
	}
}
