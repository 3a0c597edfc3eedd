// Package config loads and validates the chorus YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level chorus configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Bus       BusConfig       `yaml:"bus"`
	Session   SessionConfig   `yaml:"session"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Router    RouterConfig    `yaml:"router"`
	Security  SecurityConfig  `yaml:"security"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Providers []Provider      `yaml:"providers"`
	Personas  PersonasConfig  `yaml:"personas"`
}

// ServerConfig configures the admin HTTP server.
type ServerConfig struct {
	HTTPPort     int           `yaml:"http_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DatabaseConfig configures the persona directory store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // Postgres connection string
}

// RedisConfig configures the session snapshot store. Leave Addr empty
// to run without snapshots (sessions then live only in memory).
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
}

// BusConfig configures the NATS gateway bus.
type BusConfig struct {
	URL            string        `yaml:"url"`
	StreamName     string        `yaml:"stream_name"`
	Timeout        time.Duration `yaml:"timeout"`
	ConsumerPrefix string        `yaml:"consumer_prefix,omitempty"`
}

// SessionConfig controls session lifetimes.
type SessionConfig struct {
	DMTTL    time.Duration `yaml:"dm_ttl"`
	GuildTTL time.Duration `yaml:"guild_ttl"`
}

// DispatchConfig controls completion dispatch policy.
type DispatchConfig struct {
	BlackoutDuration time.Duration `yaml:"blackout_duration"`
	PendingGrace     time.Duration `yaml:"pending_grace"`
	PendingMaxAge    time.Duration `yaml:"pending_max_age"`
	CallTimeout      time.Duration `yaml:"call_timeout"`
	DefaultPrompt    string        `yaml:"default_prompt"`
	DefaultModelPath string        `yaml:"default_model_path"`
	Temperature      float64       `yaml:"temperature"`
	MaxTokens        int           `yaml:"max_tokens"`
}

// RouterConfig controls message routing.
type RouterConfig struct {
	MentionMarker string `yaml:"mention_marker"`
	Workers       int    `yaml:"workers"`

	// Proxy detection: messages matching any of these are never
	// routed back into a persona.
	ProxyOwnerIDs         []string `yaml:"proxy_owner_ids"`
	ProxyApplicationIDs   []string `yaml:"proxy_application_ids"`
	ProxyUsernamePatterns []string `yaml:"proxy_username_patterns"`
}

// SecurityConfig configures admin API authentication.
type SecurityConfig struct {
	EnableAuth bool   `yaml:"enable_auth"`
	JWTSecret  string `yaml:"jwt_secret"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Provider describes one completion provider.
type Provider struct {
	ID       string `yaml:"id"`
	Type     string `yaml:"type"` // openai, anthropic, local, custom, ollama
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key,omitempty"`
	Model    string `yaml:"model,omitempty"`
	Enabled  bool   `yaml:"enabled"`
}

// PersonasConfig holds persona-related static configuration.
type PersonasConfig struct {
	// Problematic lists personas with known bad behavior and the canned
	// replies shown when they leak internal errors.
	Problematic []ProblematicPersona `yaml:"problematic"`
}

// ProblematicPersona pairs a persona with curated fallback replies.
type ProblematicPersona struct {
	Name            string   `yaml:"name"`
	Fallbacks       []string `yaml:"fallbacks"`
	ErrorSubstrings []string `yaml:"error_substrings,omitempty"`
}

// LoadFromFile loads configuration from a YAML file. Environment
// variables (e.g. ${CHORUS_JWT_SECRET}) are expanded before parsing.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that could only fail at runtime.
func (c *Config) Validate() error {
	if c.Security.EnableAuth && c.Security.JWTSecret == "" {
		return fmt.Errorf("security.jwt_secret is required when auth is enabled")
	}
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider entries must have an id")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true
	}
	if c.Session.DMTTL < 0 || c.Session.GuildTTL < 0 {
		return fmt.Errorf("session TTLs must not be negative")
	}
	return nil
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:     8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Bus: BusConfig{
			URL:        "nats://localhost:4222",
			StreamName: "CHORUS",
			Timeout:    10 * time.Second,
		},
		Session: SessionConfig{
			DMTTL:    2 * time.Hour,
			GuildTTL: 30 * time.Minute,
		},
		Dispatch: DispatchConfig{
			BlackoutDuration: 10 * time.Minute,
			PendingGrace:     5 * time.Second,
			PendingMaxAge:    2 * time.Minute,
			CallTimeout:      45 * time.Second,
			DefaultPrompt:    "Say hello and introduce yourself briefly.",
			Temperature:      0.9,
		},
		Router: RouterConfig{
			MentionMarker: "@",
			Workers:       8,
		},
		Security: SecurityConfig{
			EnableAuth: true,
		},
	}
}
