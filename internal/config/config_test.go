package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Verify defaults
	if cfg.Paths.JobsDir != "jobs" {
		t.Errorf("Paths.JobsDir = %q, want %q", cfg.Paths.JobsDir, "jobs")
	}
	if cfg.Paths.StateDir != "state" {
		t.Errorf("Paths.StateDir = %q, want %q", cfg.Paths.StateDir, "state")
	}
	if cfg.Runner.Workers != 4 {
		t.Errorf("Runner.Workers = %d, want %d", cfg.Runner.Workers, 4)
	}
	if cfg.Runner.FileTimeout != 10*time.Minute {
		t.Errorf("Runner.FileTimeout = %v, want %v", cfg.Runner.FileTimeout, 10*time.Minute)
	}
	if !cfg.Status.Enabled {
		t.Error("Status.Enabled = false, want true")
	}
	if cfg.Status.Port != 8080 {
		t.Errorf("Status.Port = %d, want %d", cfg.Status.Port, 8080)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
}

func TestLoad_OverrideDefaults(t *testing.T) {
	os.Setenv("EDCFEED_JOBS_DIR", "/etc/edcfeed/jobs")
	os.Setenv("RUNNER_WORKERS", "8")
	os.Setenv("STATUS_PORT", "9090")
	os.Setenv("LOG_LEVEL", "debug")
	defer func() {
		os.Unsetenv("EDCFEED_JOBS_DIR")
		os.Unsetenv("RUNNER_WORKERS")
		os.Unsetenv("STATUS_PORT")
		os.Unsetenv("LOG_LEVEL")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Paths.JobsDir != "/etc/edcfeed/jobs" {
		t.Errorf("Paths.JobsDir = %q, want %q", cfg.Paths.JobsDir, "/etc/edcfeed/jobs")
	}
	if cfg.Runner.Workers != 8 {
		t.Errorf("Runner.Workers = %d, want %d", cfg.Runner.Workers, 8)
	}
	if cfg.Status.Port != 9090 {
		t.Errorf("Status.Port = %d, want %d", cfg.Status.Port, 9090)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestLoad_Duration(t *testing.T) {
	os.Setenv("RUNNER_FILE_TIMEOUT", "45s")
	os.Setenv("RUNNER_WATCH_DEBOUNCE", "1m30s")
	defer func() {
		os.Unsetenv("RUNNER_FILE_TIMEOUT")
		os.Unsetenv("RUNNER_WATCH_DEBOUNCE")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Runner.FileTimeout != 45*time.Second {
		t.Errorf("Runner.FileTimeout = %v, want %v", cfg.Runner.FileTimeout, 45*time.Second)
	}
	if cfg.Runner.WatchDebounce != 90*time.Second {
		t.Errorf("Runner.WatchDebounce = %v, want %v", cfg.Runner.WatchDebounce, 90*time.Second)
	}
}

func TestLoad_InvalidValue(t *testing.T) {
	os.Setenv("RUNNER_WORKERS", "many")
	defer os.Unsetenv("RUNNER_WORKERS")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for non-numeric RUNNER_WORKERS")
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := validConfig()
	cfg.Status.Port = 99999

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for invalid port")
	}
	if !contains(err.Error(), "STATUS_PORT") {
		t.Errorf("error should mention STATUS_PORT: %v", err)
	}
}

func TestValidate_NonPositiveWorkers(t *testing.T) {
	cfg := validConfig()
	cfg.Runner.Workers = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for zero workers")
	}
	if !contains(err.Error(), "RUNNER_WORKERS") {
		t.Errorf("error should mention RUNNER_WORKERS: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "verbose"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for invalid log level")
	}
	if !contains(err.Error(), "LOG_LEVEL") {
		t.Errorf("error should mention LOG_LEVEL: %v", err)
	}
}

func TestStatusAddr(t *testing.T) {
	tests := []struct {
		host string
		port int
		want string
	}{
		{"", 8080, ":8080"},
		{"0.0.0.0", 8080, "0.0.0.0:8080"},
		{"127.0.0.1", 3000, "127.0.0.1:3000"},
		{"localhost", 443, "localhost:443"},
	}

	for _, tt := range tests {
		cfg := &StatusConfig{Host: tt.host, Port: tt.port}
		got := cfg.Addr()
		if got != tt.want {
			t.Errorf("Addr() with host=%q, port=%d = %q, want %q", tt.host, tt.port, got, tt.want)
		}
	}
}

func TestConfigString(t *testing.T) {
	cfg := validConfig()

	str := cfg.String()
	if !contains(str, "jobs") {
		t.Error("String() should contain jobs dir")
	}
	if !contains(str, "8080") {
		t.Error("String() should contain status port")
	}
	if !contains(str, "info") {
		t.Error("String() should contain log level")
	}
}

func validConfig() *Config {
	return &Config{
		Paths: PathsConfig{JobsDir: "jobs", StateDir: "state", WorkDir: "work"},
		Runner: RunnerConfig{
			Workers:       4,
			FileTimeout:   time.Minute,
			WatchDebounce: time.Second,
		},
		Status: StatusConfig{
			Enabled:         true,
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || len(s) > 0 && containsHelper(s, substr))
}

func containsHelper(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
