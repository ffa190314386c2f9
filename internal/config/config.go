// Package config holds the two configuration layers of the feeder: the
// process-level settings loaded from environment variables, and the
// per-job TOML files describing each equipment feed. Everything is
// validated on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all process-level configuration.
// All settings can be configured via environment variables.
type Config struct {
	Paths   PathsConfig
	Runner  RunnerConfig
	Status  StatusConfig
	Logging LoggingConfig
}

// PathsConfig locates the directories the feeder owns.
type PathsConfig struct {
	// JobsDir contains the per-job TOML files (default: jobs)
	JobsDir string `env:"EDCFEED_JOBS_DIR" default:"jobs"`

	// StateDir holds cursor files and the run history database (default: state)
	StateDir string `env:"EDCFEED_STATE_DIR" default:"state"`

	// WorkDir receives local copies of inputs read from network shares (default: work)
	WorkDir string `env:"EDCFEED_WORK_DIR" default:"work"`
}

// RunnerConfig holds processing settings shared by all jobs.
type RunnerConfig struct {
	// Workers is the number of jobs processed in parallel (default: 4)
	Workers int `env:"RUNNER_WORKERS" default:"4"`

	// FileTimeout bounds the processing of a single input file (default: 10m)
	FileTimeout time.Duration `env:"RUNNER_FILE_TIMEOUT" default:"10m"`

	// WatchDebounce is how long a watched file must stay quiet before a
	// triggered run starts; equipment writes exports in bursts (default: 500ms)
	WatchDebounce time.Duration `env:"RUNNER_WATCH_DEBOUNCE" default:"500ms"`
}

// StatusConfig holds the status API server settings.
type StatusConfig struct {
	// Enabled controls whether the daemon serves the status API (default: true)
	Enabled bool `env:"STATUS_ENABLED" default:"true"`

	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"STATUS_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"STATUS_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading a request (default: 15s)
	ReadTimeout time.Duration `env:"STATUS_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing a response (default: 30s)
	WriteTimeout time.Duration `env:"STATUS_WRITE_TIMEOUT" default:"30s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"STATUS_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"STATUS_SHUTDOWN_TIMEOUT" default:"30s"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the status listen address in host:port format.
func (c *StatusConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
