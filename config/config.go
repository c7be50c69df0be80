// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Policy  PolicyConfig  `yaml:"policy"`
	Compose ComposeConfig `yaml:"compose"`
	Actors  []ActorConfig `yaml:"actors"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// StoreConfig selects and configures the document store driver.
type StoreConfig struct {
	Driver string `yaml:"driver"` // "memory", "fs" or "sqlite"
	Root   string `yaml:"root"`   // fs: docroot directory
	Watch  bool   `yaml:"watch"`  // fs: reload documents edited out of band
	Path   string `yaml:"path"`   // sqlite: database file
}

// PolicyConfig configures the authorization layer.
type PolicyConfig struct {
	RuleDoc         string        `yaml:"rule_doc"`         // path of the rule document
	Admins          []string      `yaml:"admins"`           // actors with unconditional access
	AdminGroup      string        `yaml:"admin_group"`      // group whose members are admins
	RefreshInterval time.Duration `yaml:"refresh_interval"` // rule index staleness recheck
}

// ComposeConfig tunes server-side composition.
type ComposeConfig struct {
	MaxIncludeDepth int `yaml:"max_include_depth"`
}

// ActorConfig is one entry in the actor table.
type ActorConfig struct {
	Name         string `yaml:"name"`
	PasswordHash string `yaml:"password_hash"` // bcrypt
	Admin        bool   `yaml:"admin"`
}

// LoggingConfig configures logging output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
}

// MetricsConfig configures the /_/metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
// Useful for container deployments where no config file is mounted.
//
// Environment variables:
//
//	PAGELOVE_SERVER_HOST      - Server host (default: 0.0.0.0)
//	PAGELOVE_SERVER_PORT      - Server port (default: 8080)
//	PAGELOVE_STORE_DRIVER     - Store driver: memory, fs or sqlite
//	PAGELOVE_STORE_ROOT       - Docroot directory for the fs driver
//	PAGELOVE_STORE_PATH       - Database file for the sqlite driver
//	PAGELOVE_RULE_DOC         - Rule document path (default: /auth.html)
//	PAGELOVE_ADMINS           - Comma-separated admin actor names
//	PAGELOVE_LOG_LEVEL        - Log level: debug, info, warn, error
//	PAGELOVE_LOG_FORMAT       - Log format: json or console
//	PAGELOVE_METRICS_ENABLED  - Enable /_/metrics (default: true)
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback tries to load from file, falls back to environment
// variables.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	if HasEnvConfig() {
		return LoadFromEnv()
	}

	return nil, fmt.Errorf("no configuration found: provide a config file or set PAGELOVE_STORE_DRIVER")
}

// HasEnvConfig returns true if essential environment variables are set.
func HasEnvConfig() bool {
	return os.Getenv("PAGELOVE_STORE_DRIVER") != ""
}

// applyEnvOverrides applies PAGELOVE_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PAGELOVE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("PAGELOVE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PAGELOVE_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("PAGELOVE_STORE_ROOT"); v != "" {
		cfg.Store.Root = v
	}
	if v := os.Getenv("PAGELOVE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("PAGELOVE_RULE_DOC"); v != "" {
		cfg.Policy.RuleDoc = v
	}
	if v := os.Getenv("PAGELOVE_ADMINS"); v != "" {
		cfg.Policy.Admins = nil
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				cfg.Policy.Admins = append(cfg.Policy.Admins, name)
			}
		}
	}
	if v := os.Getenv("PAGELOVE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PAGELOVE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("PAGELOVE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
}

func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
	}
	if cfg.Store.Root == "" {
		cfg.Store.Root = "docroot"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "pagelove.db"
	}
	if cfg.Policy.RuleDoc == "" {
		cfg.Policy.RuleDoc = "/auth.html"
	}
	if cfg.Policy.RefreshInterval == 0 {
		cfg.Policy.RefreshInterval = 2 * time.Second
	}
	if cfg.Compose.MaxIncludeDepth == 0 {
		cfg.Compose.MaxIncludeDepth = 8
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	switch cfg.Store.Driver {
	case "memory", "fs", "sqlite":
	default:
		return fmt.Errorf("store.driver must be memory, fs or sqlite, got %q", cfg.Store.Driver)
	}
	if !strings.HasPrefix(cfg.Policy.RuleDoc, "/") {
		return fmt.Errorf("policy.rule_doc must be an absolute document path, got %q", cfg.Policy.RuleDoc)
	}
	for _, a := range cfg.Actors {
		if a.Name == "" {
			return fmt.Errorf("actors entries need a name")
		}
		if a.Name == "*" {
			return fmt.Errorf("actor name %q is reserved for rules", a.Name)
		}
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", cfg.Logging.Level)
	}
	return nil
}
