// Package config loads LMGate settings from built-in defaults, a YAML file
// and LMGATE_ environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file read when no path is given.
const DefaultPath = "config/lmgate.yaml"

// EnvPrefix marks environment overrides. Nesting levels are separated by a
// double underscore: LMGATE_SERVER__PORT=9090 sets server.port.
const EnvPrefix = "LMGATE_"

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	Auth      AuthConfig      `yaml:"auth"`
	Stats     StatsConfig     `yaml:"stats"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig configures the API server hosting /auth, /stats and management.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// ProxyConfig configures the observing reverse proxy.
type ProxyConfig struct {
	Port      int        `yaml:"port"`
	Upstreams []Upstream `yaml:"upstreams"`
}

// Upstream routes requests whose path starts with Prefix to Target.
type Upstream struct {
	Prefix string `yaml:"prefix"`
	Target string `yaml:"target"`
}

// AuthConfig configures the API key allow-list.
type AuthConfig struct {
	AllowlistPath string `yaml:"allowlist_path"`
}

// Stats delivery modes.
const (
	StatsModeLocal     = "local"
	StatsModeCollector = "collector"
)

// StatsConfig configures how usage is reported.
type StatsConfig struct {
	Mode                    string `yaml:"mode"`
	OutputPath              string `yaml:"output_path"`
	MaxSizeMB               int    `yaml:"max_size_mb"`
	MaxBodyBytes            int    `yaml:"max_body_bytes"`
	CollectorURL            string `yaml:"collector_url"`
	CollectorTimeoutSeconds int    `yaml:"collector_timeout_seconds"`
}

// DatabaseConfig optionally mirrors usage records into a database.
type DatabaseConfig struct {
	Driver              string `yaml:"driver"`
	DSN                 string `yaml:"dsn"`
	Dir                 string `yaml:"dir"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Disabled    bool    `yaml:"disabled"`
	ServiceName string  `yaml:"service_name"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8081},
		Proxy: ProxyConfig{
			Port: 8080,
			Upstreams: []Upstream{
				{Prefix: "/openai", Target: "https://api.openai.com"},
				{Prefix: "/anthropic", Target: "https://api.anthropic.com"},
				{Prefix: "/google", Target: "https://aiplatform.googleapis.com"},
			},
		},
		Auth: AuthConfig{AllowlistPath: "/data/allowlist.csv"},
		Stats: StatsConfig{
			Mode:                    StatsModeLocal,
			OutputPath:              "/data/stats.jsonl",
			MaxSizeMB:               100,
			MaxBodyBytes:            2 << 20,
			CollectorURL:            "http://lmgate:8081/stats",
			CollectorTimeoutSeconds: 5,
		},
		Database:  DatabaseConfig{WriteTimeoutSeconds: 5},
		Logging:   LoggingConfig{Level: "info"},
		Telemetry: TelemetryConfig{ServiceName: "lmgate", SampleRatio: 1},
	}
}

// Load reads the configuration. A missing file at the default path is not an
// error; a missing file at an explicit path is.
func Load(path string) (*Config, error) {
	// .env is optional; a real environment variable always wins over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := applyEnv(cfg, os.Environ()); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.Stats.Mode {
	case StatsModeLocal:
		if c.Stats.OutputPath == "" {
			return fmt.Errorf("stats.output_path is required in %s mode", StatsModeLocal)
		}
	case StatsModeCollector:
		if c.Stats.CollectorURL == "" {
			return fmt.Errorf("stats.collector_url is required in %s mode", StatsModeCollector)
		}
	default:
		return fmt.Errorf("unknown stats.mode %q", c.Stats.Mode)
	}
	for _, u := range c.Proxy.Upstreams {
		if !strings.HasPrefix(u.Prefix, "/") || u.Target == "" {
			return fmt.Errorf("invalid upstream %q -> %q", u.Prefix, u.Target)
		}
	}
	return nil
}

// applyEnv overlays LMGATE_ variables onto cfg by turning them into a nested
// YAML document and decoding it over the current values.
func applyEnv(cfg *Config, environ []string) error {
	overrides := map[string]any{}
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		parts := strings.Split(strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), "__")
		target := overrides
		for _, part := range parts[:len(parts)-1] {
			next, ok := target[part].(map[string]any)
			if !ok {
				next = map[string]any{}
				target[part] = next
			}
			target = next
		}
		target[parts[len(parts)-1]] = coerce(value)
	}
	if len(overrides) == 0 {
		return nil
	}
	data, err := yaml.Marshal(overrides)
	if err != nil {
		return fmt.Errorf("encode env overrides: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("apply env overrides: %w", err)
	}
	return nil
}

func coerce(value string) any {
	switch strings.ToLower(value) {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.Atoi(value); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}
