// Package config provides configuration loading and validation for rerankd.
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then RERANKD_-prefixed environment variables. Files must live in an
// allowed directory and carry restrictive permissions before they are read.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration for the rerankd daemon.
type Config struct {
	Server        ServerConfig        `koanf:"server" json:"server" yaml:"server"`
	Store         StoreConfig         `koanf:"store" json:"store" yaml:"store"`
	Transport     TransportConfig     `koanf:"transport" json:"transport" yaml:"transport"`
	Events        EventsConfig        `koanf:"events" json:"events" yaml:"events"`
	Observability ObservabilityConfig `koanf:"observability" json:"observability" yaml:"observability"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string   `koanf:"host" json:"host" yaml:"host"`
	Port            int      `koanf:"port" json:"port" yaml:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout" json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// StoreConfig controls on-disk persistence of connectors, models, and
// pipelines.
type StoreConfig struct {
	// Path is the directory holding the JSON state files.
	Path string `koanf:"path" json:"path" yaml:"path"`
	// Watch enables hot reload of state files edited outside the API.
	Watch bool `koanf:"watch" json:"watch" yaml:"watch"`
}

// TransportConfig bounds outbound calls to remote scoring services.
type TransportConfig struct {
	// Timeout is the per-call deadline applied when a connector does not
	// declare its own.
	Timeout Duration `koanf:"timeout" json:"timeout" yaml:"timeout"`
	// RateLimit throttles outbound scoring calls per connector.
	RateLimit RateLimitConfig `koanf:"rate_limit" json:"rate_limit" yaml:"rate_limit"`
	// MaxDocuments caps the batch size sent to a remote service in one call.
	MaxDocuments int `koanf:"max_documents" json:"max_documents" yaml:"max_documents"`
}

// RateLimitConfig configures a token-bucket limiter for outbound calls.
type RateLimitConfig struct {
	RPS   float64 `koanf:"rps" json:"rps" yaml:"rps"`
	Burst int     `koanf:"burst" json:"burst" yaml:"burst"`
}

// EventsConfig controls lifecycle event publication over NATS.
type EventsConfig struct {
	Enabled       bool   `koanf:"enabled" json:"enabled" yaml:"enabled"`
	URL           string `koanf:"url" json:"url" yaml:"url"`
	SubjectPrefix string `koanf:"subject_prefix" json:"subject_prefix" yaml:"subject_prefix"`
}

// ObservabilityConfig groups logging and telemetry settings.
type ObservabilityConfig struct {
	ServiceName    string          `koanf:"service_name" json:"service_name" yaml:"service_name"`
	ServiceVersion string          `koanf:"service_version" json:"service_version" yaml:"service_version"`
	LogLevel       string          `koanf:"log_level" json:"log_level" yaml:"log_level"`
	LogFormat      string          `koanf:"log_format" json:"log_format" yaml:"log_format"`
	Telemetry      TelemetryConfig `koanf:"telemetry" json:"telemetry" yaml:"telemetry"`
}

// TelemetryConfig controls the OpenTelemetry export pipeline.
type TelemetryConfig struct {
	Enabled         bool     `koanf:"enabled" json:"enabled" yaml:"enabled"`
	Endpoint        string   `koanf:"endpoint" json:"endpoint" yaml:"endpoint"`
	Protocol        string   `koanf:"protocol" json:"protocol" yaml:"protocol"`
	Insecure        bool     `koanf:"insecure" json:"insecure" yaml:"insecure"`
	SamplingRate    float64  `koanf:"sampling_rate" json:"sampling_rate" yaml:"sampling_rate"`
	MetricsEnabled  bool     `koanf:"metrics_enabled" json:"metrics_enabled" yaml:"metrics_enabled"`
	MetricsInterval Duration `koanf:"metrics_interval" json:"metrics_interval" yaml:"metrics_interval"`
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "rerankd-state"
	}
	return filepath.Join(home, ".config", "rerankd", "state")
}

// Default returns a Config populated with built-in defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 7700
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if c.Store.Path == "" {
		c.Store.Path = defaultStorePath()
	}
	if c.Transport.Timeout == 0 {
		c.Transport.Timeout = Duration(30 * time.Second)
	}
	if c.Transport.RateLimit.RPS == 0 {
		c.Transport.RateLimit.RPS = 10
	}
	if c.Transport.RateLimit.Burst == 0 {
		c.Transport.RateLimit.Burst = 20
	}
	if c.Transport.MaxDocuments == 0 {
		c.Transport.MaxDocuments = 1000
	}
	if c.Events.URL == "" {
		c.Events.URL = "nats://127.0.0.1:4222"
	}
	if c.Events.SubjectPrefix == "" {
		c.Events.SubjectPrefix = "rerankd"
	}
	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = "rerankd"
	}
	if c.Observability.LogLevel == "" {
		c.Observability.LogLevel = "info"
	}
	if c.Observability.LogFormat == "" {
		c.Observability.LogFormat = "json"
	}
	if c.Observability.Telemetry.Protocol == "" {
		c.Observability.Telemetry.Protocol = "grpc"
	}
	if c.Observability.Telemetry.SamplingRate == 0 {
		c.Observability.Telemetry.SamplingRate = 1.0
	}
	if c.Observability.Telemetry.MetricsInterval == 0 {
		c.Observability.Telemetry.MetricsInterval = Duration(60 * time.Second)
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() < time.Second {
		return fmt.Errorf("server.shutdown_timeout must be at least 1s, got %s", c.Server.ShutdownTimeout.Duration())
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	if c.Transport.Timeout.Duration() < 100*time.Millisecond {
		return fmt.Errorf("transport.timeout must be at least 100ms, got %s", c.Transport.Timeout.Duration())
	}
	if c.Transport.RateLimit.RPS <= 0 {
		return fmt.Errorf("transport.rate_limit.rps must be positive, got %g", c.Transport.RateLimit.RPS)
	}
	if c.Transport.RateLimit.Burst < 1 {
		return fmt.Errorf("transport.rate_limit.burst must be at least 1, got %d", c.Transport.RateLimit.Burst)
	}
	if c.Transport.MaxDocuments < 1 {
		return fmt.Errorf("transport.max_documents must be at least 1, got %d", c.Transport.MaxDocuments)
	}
	if c.Events.Enabled && c.Events.URL == "" {
		return fmt.Errorf("events.url must be set when events are enabled")
	}
	switch c.Observability.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("observability.log_level must be one of trace, debug, info, warn, error; got %q", c.Observability.LogLevel)
	}
	switch c.Observability.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("observability.log_format must be json or console, got %q", c.Observability.LogFormat)
	}
	if c.Observability.Telemetry.Enabled {
		if c.Observability.Telemetry.Endpoint == "" {
			return fmt.Errorf("observability.telemetry.endpoint must be set when telemetry is enabled")
		}
		switch c.Observability.Telemetry.Protocol {
		case "grpc", "http":
		default:
			return fmt.Errorf("observability.telemetry.protocol must be grpc or http, got %q", c.Observability.Telemetry.Protocol)
		}
		if c.Observability.Telemetry.SamplingRate < 0 || c.Observability.Telemetry.SamplingRate > 1 {
			return fmt.Errorf("observability.telemetry.sampling_rate must be within [0, 1], got %g", c.Observability.Telemetry.SamplingRate)
		}
	}
	return nil
}
