package config

import (
	"os"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Scheduler.MinCPUs != 1 {
		t.Errorf("MinCPUs = %d, want 1", cfg.Scheduler.MinCPUs)
	}
	if cfg.Scheduler.MinMemoryMB != 512 {
		t.Errorf("MinMemoryMB = %d, want 512", cfg.Scheduler.MinMemoryMB)
	}
	if cfg.Scheduler.MaxVMIdle != 60*time.Second {
		t.Errorf("MaxVMIdle = %v, want 60s", cfg.Scheduler.MaxVMIdle)
	}
	if cfg.Scheduler.NoDownSizing {
		t.Error("NoDownSizing should default false")
	}
	if cfg.Scheduler.MaxIdleQueue != 3 {
		t.Errorf("MaxIdleQueue = %d, want 3", cfg.Scheduler.MaxIdleQueue)
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	for k, v := range map[string]string{
		"MIN_CPUS":         "2",
		"MIN_MEMORY":       "1024",
		"MAX_VM_IDLE_TIME":  "0",
		"NO_DOWN_SIZING":    "True",
	} {
		t.Setenv(k, v)
	}

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.Scheduler.MinCPUs != 2 {
		t.Errorf("MinCPUs = %d, want 2", cfg.Scheduler.MinCPUs)
	}
	if cfg.Scheduler.MinMemoryMB != 1024 {
		t.Errorf("MinMemoryMB = %d, want 1024", cfg.Scheduler.MinMemoryMB)
	}
	if cfg.Scheduler.MaxVMIdle != 0 {
		t.Errorf("MaxVMIdle = %v, want 0 (immediate eviction)", cfg.Scheduler.MaxVMIdle)
	}
	if !cfg.Scheduler.NoDownSizing {
		t.Error("NoDownSizing should be true after NO_DOWN_SIZING=True")
	}
}

func TestLoadFromEnvIgnoresUnset(t *testing.T) {
	os.Unsetenv("MIN_CPUS")
	cfg := DefaultConfig()
	before := cfg.Scheduler.MinCPUs
	LoadFromEnv(cfg)
	if cfg.Scheduler.MinCPUs != before {
		t.Errorf("unset MIN_CPUS should not change default, got %d want %d", cfg.Scheduler.MinCPUs, before)
	}
}
