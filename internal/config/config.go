// Package config loads process-level configuration for the agent runtime
// from YAML, mirroring the teacher's YAML-first convention for operational
// configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level process configuration.
type Config struct {
	// HTTPAddr is the listen address for the HTTP/WS edge.
	HTTPAddr string `yaml:"http_addr"`
	// Storage selects the Storage backend ("memory" or "redis").
	Storage StorageConfig `yaml:"storage"`
	// Loop configures Agent Loop bounds.
	Loop LoopConfig `yaml:"loop"`
	// EventLogSize bounds the per-instance event ring buffer.
	EventLogSize int `yaml:"event_log_size"`
	// HibernateAfter is how long an instance's mailbox goroutine waits with
	// no work before it exits and snapshots the event ring (this runtime's
	// rendering of hibernation); the Instance itself stays in memory.
	HibernateAfter time.Duration `yaml:"hibernate_after"`
}

// StorageConfig selects and configures the durable Store backend.
type StorageConfig struct {
	// Backend is "memory" or "redis".
	Backend string `yaml:"backend"`
	// RedisAddr is the address of the Redis server when Backend == "redis".
	RedisAddr string `yaml:"redis_addr"`
}

// LoopConfig bounds the Agent Loop's per-tick resource use.
type LoopConfig struct {
	// ToolsPerTick caps how many pending tool calls a single tick executes.
	ToolsPerTick int `yaml:"tools_per_tick"`
	// MaxSteps is loaded and defaulted here, but no component reads it: the
	// Agent Loop has no step cap, and runs are not failed on step count.
	MaxSteps int `yaml:"max_steps"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		Storage:  StorageConfig{Backend: "memory"},
		Loop: LoopConfig{
			ToolsPerTick: 4,
			MaxSteps:     256,
		},
		EventLogSize:   500,
		HibernateAfter: 5 * time.Minute,
	}
}

// Load reads and parses a YAML configuration file, filling in defaults for
// any field left zero-valued.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.Loop.ToolsPerTick <= 0 {
		cfg.Loop.ToolsPerTick = Default().Loop.ToolsPerTick
	}
	if cfg.Loop.MaxSteps <= 0 {
		cfg.Loop.MaxSteps = Default().Loop.MaxSteps
	}
	if cfg.EventLogSize <= 0 {
		cfg.EventLogSize = Default().EventLogSize
	}
	if cfg.HibernateAfter <= 0 {
		cfg.HibernateAfter = Default().HibernateAfter
	}
	return cfg, nil
}
