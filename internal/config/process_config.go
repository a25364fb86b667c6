// Package config defines authorityd's process configuration: a single
// YAML document covering its control surface, policy file, and storage
// backend selection.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ProcessConfig configures the authorityd process: where its policy rules
// live, where its forensic log and lease backing are persisted, and how
// its control surface is exposed.
type ProcessConfig struct {
	HTTPAddr       string        `yaml:"http_addr"`
	LogLevel       string        `yaml:"log_level"`
	PolicyFile     string        `yaml:"policy_file"`
	ForensicBackend string       `yaml:"forensic_backend"` // "memory" or "badger"
	ForensicPath   string        `yaml:"forensic_path"`
	LeaseBackend   string        `yaml:"lease_backend"` // "memory" or "redis"
	RedisAddr      string        `yaml:"redis_addr"`
	HeartbeatSweep time.Duration `yaml:"heartbeat_sweep"`
}

// DefaultProcessConfig returns sane defaults for local development: an
// in-memory forensic log and lease store, no policy file, HTTP on 8080.
func DefaultProcessConfig() ProcessConfig {
	return ProcessConfig{
		HTTPAddr:        ":8080",
		LogLevel:        "info",
		ForensicBackend: "memory",
		LeaseBackend:    "memory",
		HeartbeatSweep:  200 * time.Millisecond,
	}
}

// LoadProcessConfig reads a YAML ProcessConfig from path, applying
// DefaultProcessConfig for any field the file leaves zero-valued.
func LoadProcessConfig(path string) (ProcessConfig, error) {
	cfg := DefaultProcessConfig()
	buf, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read process config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse process config %s: %w", path, err)
	}
	return cfg, nil
}
