package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// TracerConfig holds OpenTelemetry settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // stdout, noop
}

// MemoryConfig holds memory-store settings.
type MemoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // sqlite database file
}

// LLMConfig holds settings for the agent HTTP client.
type LLMConfig struct {
	ConnTimeout string  `yaml:"conn_timeout"` // duration string, default "5s"
	RespTimeout string  `yaml:"resp_timeout"` // duration string, default "120s"
	RatePerSec  float64 `yaml:"rate_per_sec"` // 0 disables client-side rate limiting
	RateBurst   int     `yaml:"rate_burst"`
}

// OrchestratorConfig holds the orchestration toggles and tuning knobs.
type OrchestratorConfig struct {
	UseMemory          *bool  `yaml:"use_memory,omitempty"`
	UseGroupMemory     *bool  `yaml:"use_group_memory,omitempty"`
	UseDelegation      *bool  `yaml:"use_delegation,omitempty"`
	UsePrimaryRephrase *bool  `yaml:"use_primary_rephrase,omitempty"`
	FailureThreshold   uint32 `yaml:"failure_threshold"`   // consecutive failures before cooldown, default 2
	Cooldown           string `yaml:"cooldown"`            // duration string, default "30s"
	RequestTimeout     string `yaml:"request_timeout"`     // default "30s"
	ChainedTimeout     string `yaml:"chained_timeout"`     // default "60s"
	RetryDelay         string `yaml:"retry_delay"`         // default "1s"
	HealthCheckEvery   string `yaml:"health_check_every"`  // "" disables the monitor
	HealthCheckTimeout string `yaml:"health_check_timeout"` // default "2s"
}

// Config is the top-level application configuration.
type Config struct {
	AgentsFile   string             `yaml:"agents_file"` // JSON agents document
	Logger       LoggerConfig       `yaml:"logger"`
	Tracer       TracerConfig       `yaml:"tracer"`
	Memory       MemoryConfig       `yaml:"memory"`
	LLM          LLMConfig          `yaml:"llm"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
}

// Default returns a Config with every field at its default.
func Default() Config {
	on := true
	return Config{
		AgentsFile: "agents_config.json",
		Logger:     LoggerConfig{Level: "info", Format: "text", Output: "stderr"},
		Tracer:     TracerConfig{Enabled: false, Exporter: "noop"},
		Memory:     MemoryConfig{Enabled: true, Path: "agora.db"},
		Orchestrator: OrchestratorConfig{
			UseMemory:          &on,
			UseGroupMemory:     &on,
			UseDelegation:      &on,
			UsePrimaryRephrase: &on,
			FailureThreshold:   2,
		},
	}
}

// Load reads a YAML config file, applying defaults for absent fields.
// A missing file is not an error: the defaults are returned.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.AgentsFile == "" {
		cfg.AgentsFile = "agents_config.json"
	}
	if cfg.Orchestrator.FailureThreshold == 0 {
		cfg.Orchestrator.FailureThreshold = 2
	}
	return cfg, nil
}

// Bool resolves an optional toggle against its default.
func Bool(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// Duration parses a duration string, falling back to def when the field
// is empty or malformed.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
