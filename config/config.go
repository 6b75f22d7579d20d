// Package config loads file-based configuration for the orchestrator. All
// values are optional; zero values fall back to the package defaults used by
// the functional options of each component.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/flowmesh/trust"
)

// Duration wraps time.Duration for yaml decoding of values like "30m".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// TrustConfig tunes the admission gate.
type TrustConfig struct {
	Threshold       float64       `yaml:"threshold"`
	Weights         trust.Weights `yaml:"weights"`
	DenyList        []string      `yaml:"deny_list"`
	SecurityCeiling float64       `yaml:"security_ceiling"`
}

// SessionConfig tunes the session manager.
type SessionConfig struct {
	IdleTimeout   Duration `yaml:"idle_timeout"`
	SweepInterval Duration `yaml:"sweep_interval"`
	NonBlocking   bool     `yaml:"non_blocking"`
}

// WorkflowConfig tunes the engine and the diagnostic agent.
type WorkflowConfig struct {
	MaxTaskLen        int `yaml:"max_task_len"`
	RetryBudget       int `yaml:"retry_budget"`
	WatchdogThreshold int `yaml:"watchdog_threshold"`
}

// SignalConfig points the NDJSON signal log at a file. Empty path disables
// the durable log.
type SignalConfig struct {
	Path string `yaml:"path"`
}

// PluginsConfig controls directory loading of plugin artifacts.
type PluginsConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

// ServerConfig tunes the HTTP front end.
type ServerConfig struct {
	Addr         string   `yaml:"addr"`
	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
}

// LoggingConfig selects level and format of the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// Config is the root configuration document.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Trust    TrustConfig    `yaml:"trust"`
	Session  SessionConfig  `yaml:"session"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Signal   SignalConfig   `yaml:"signal"`
	Plugins  PluginsConfig  `yaml:"plugins"`
	Server   ServerConfig   `yaml:"server"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Trust: TrustConfig{
			Threshold:       0.7,
			Weights:         trust.DefaultWeights,
			SecurityCeiling: 0.2,
		},
		Session: SessionConfig{
			IdleTimeout:   Duration(30 * time.Minute),
			SweepInterval: Duration(time.Minute),
		},
		Workflow: WorkflowConfig{
			MaxTaskLen:        4096,
			RetryBudget:       2,
			WatchdogThreshold: 2,
		},
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  Duration(15 * time.Second),
			WriteTimeout: Duration(30 * time.Second),
		},
	}
}

// LoadFile reads a YAML config, layered over the defaults.
func LoadFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// LoadEnv loads a .env file into the process environment when present. A
// missing file is not an error; explicit environment always wins.
func LoadEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}
