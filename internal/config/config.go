// Package config loads the judge queuer's runtime configuration from the
// environment, following the same DefaultConfig+LoadFromEnv layering the
// rest of the daemon's components expect at startup.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// SchedulerConfig holds the overhead and timing knobs that govern VM sizing,
// placement, and idle eviction (spec §7 environment variables).
type SchedulerConfig struct {
	MinCPUs      int           `json:"min_cpus"`       // MIN_CPUS, default 1
	MinMemoryMB  int           `json:"min_memory_mb"`  // MIN_MEMORY, default 512
	MaxVMIdle    time.Duration `json:"max_vm_idle"`    // MAX_VM_IDLE_TIME, default 60s; 0 = immediate eviction
	NoDownSizing bool          `json:"no_down_sizing"` // NO_DOWN_SIZING, suppresses idle eviction entirely

	ProvisionTimeout      time.Duration `json:"provision_timeout"`       // bound on waiting for a runner connect after growing capacity
	ProvisionPollInterval time.Duration `json:"provision_poll_interval"` // discovery-pass polling cadence while waiting on provisioning
	MaxIdleQueue          int           `json:"max_idle_queue"`          // per-worker bound on queued-but-not-yet-running requests
}

// DaemonConfig holds process-level settings: bind address and log level.
type DaemonConfig struct {
	HTTPAddr string `json:"http_addr"`
	LogLevel string `json:"log_level"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled          bool      `json:"enabled"`
	Namespace        string    `json:"namespace"`
	HistogramBuckets []float64 `json:"histogram_buckets"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text, json
}

// RedisConfig holds the connection settings for the cross-instance runner-
// connect notifier. Addr empty disables Redis and falls back to an
// in-process notifier, which is correct for a single-instance deployment.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Channel  string `json:"channel"`
}

// Config is the central configuration struct embedding all component configs.
type Config struct {
	Scheduler SchedulerConfig `json:"scheduler"`
	Daemon    DaemonConfig    `json:"daemon"`
	Metrics   MetricsConfig   `json:"metrics"`
	Logging   LoggingConfig   `json:"logging"`
	Redis     RedisConfig     `json:"redis"`
}

// DefaultConfig returns a Config populated with the spec's documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			MinCPUs:               1,
			MinMemoryMB:           512,
			MaxVMIdle:             60 * time.Second,
			NoDownSizing:          false,
			ProvisionTimeout:      10 * time.Minute,
			ProvisionPollInterval: time.Second,
			MaxIdleQueue:          3,
		},
		Daemon: DaemonConfig{
			HTTPAddr: ":8080",
			LogLevel: "info",
		},
		Metrics: MetricsConfig{
			Enabled:          true,
			Namespace:        "judgequeuer",
			HistogramBuckets: []float64{.001, .005, .025, .1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Redis: RedisConfig{
			Channel: "judgequeuer:runner-connect",
		},
	}
}

// LoadFromEnv applies environment variable overrides to cfg, reusing the
// spec's own variable names (MIN_CPUS, MIN_MEMORY, MAX_VM_IDLE_TIME,
// NO_DOWN_SIZING) rather than inventing a new prefix for them, since those
// names are the queuer's public deployment contract.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("MIN_CPUS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.MinCPUs = n
		}
	}
	if v := os.Getenv("MIN_MEMORY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.MinMemoryMB = n
		}
	}
	if v := os.Getenv("MAX_VM_IDLE_TIME"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.MaxVMIdle = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("NO_DOWN_SIZING"); v != "" {
		cfg.Scheduler.NoDownSizing = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("PROVISION_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.ProvisionTimeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("PROVISION_POLL_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.ProvisionPollInterval = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("MAX_IDLE_QUEUE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.MaxIdleQueue = n
		}
	}
	if v := os.Getenv("JUDGEQUEUER_HTTP_ADDR"); v != "" {
		cfg.Daemon.HTTPAddr = v
	}
	if v := os.Getenv("JUDGEQUEUER_LOG_LEVEL"); v != "" {
		cfg.Daemon.LogLevel = v
		cfg.Logging.Level = v
	}
	if v := os.Getenv("JUDGEQUEUER_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("JUDGEQUEUER_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("JUDGEQUEUER_METRICS_NAMESPACE"); v != "" {
		cfg.Metrics.Namespace = v
	}
	if v := os.Getenv("JUDGEQUEUER_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("JUDGEQUEUER_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("JUDGEQUEUER_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
	if v := os.Getenv("JUDGEQUEUER_REDIS_CHANNEL"); v != "" {
		cfg.Redis.Channel = v
	}
}

// Load returns DefaultConfig with environment overrides applied — the
// single entry point cmd/judgequeuerd uses at startup.
func Load() *Config {
	cfg := DefaultConfig()
	LoadFromEnv(cfg)
	return cfg
}
