package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	HTTP    HTTPConfig    `yaml:"http"`
	Router  RouterConfig  `yaml:"router"`
	Auth    AuthConfig    `yaml:"auth"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig contains the transport boundary configuration. These values
// are loaded once at startup and immutable for the process lifetime.
type ServerConfig struct {
	ListenPort      int    `yaml:"listen_port"`
	BindAddress     string `yaml:"bind_address"`
	MaxPeers        int    `yaml:"max_peers"`
	BufferSize      int    `yaml:"buffer_size"`
	PollTimeoutMs   int    `yaml:"poll_timeout_ms"`
	PeerIdleTimeout int    `yaml:"peer_idle_timeout"` // seconds
}

// HTTPConfig contains the monitoring HTTP API configuration.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// RouterConfig contains the worker lane configuration.
type RouterConfig struct {
	// Lanes is the number of worker lanes. Zero means one lane per
	// available CPU.
	Lanes int `yaml:"lanes"`
}

// AuthConfig contains the handshake verification configuration.
type AuthConfig struct {
	ServerID         string `yaml:"server_id"`
	HandshakeTimeout int    `yaml:"handshake_timeout"` // seconds
	MaxClockSkew     int    `yaml:"max_clock_skew"`    // seconds
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a configuration with every field at its default value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenPort:      7777,
			BindAddress:     "0.0.0.0",
			MaxPeers:        1000,
			BufferSize:      65536,
			PollTimeoutMs:   100,
			PeerIdleTimeout: 60,
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Address: "127.0.0.1",
			Port:    9090,
		},
		Router: RouterConfig{
			Lanes: 0,
		},
		Auth: AuthConfig{
			ServerID:         "",
			HandshakeTimeout: 30,
			MaxClockSkew:     60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file, applies environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	// Missing .env is not an error; explicit env vars still apply.
	_ = godotenv.Load()

	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

// applyEnvOverrides lets deployments override the file without editing it.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PULSE_LISTEN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.ListenPort = port
		}
	}
	if v := os.Getenv("PULSE_BIND_ADDRESS"); v != "" {
		c.Server.BindAddress = v
	}
	if v := os.Getenv("PULSE_MAX_PEERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.MaxPeers = n
		}
	}
	if v := os.Getenv("PULSE_LANES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Router.Lanes = n
		}
	}
	if v := os.Getenv("PULSE_SERVER_ID"); v != "" {
		c.Auth.ServerID = v
	}
	if v := os.Getenv("PULSE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate performs validation of the full configuration.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}
	if err := c.Router.Validate(); err != nil {
		return fmt.Errorf("router config: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// Validate validates server configuration.
func (s *ServerConfig) Validate() error {
	if s.ListenPort < 1 || s.ListenPort > 65535 {
		return fmt.Errorf("listen_port must be between 1 and 65535, got %d", s.ListenPort)
	}
	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}
	if s.MaxPeers < 1 {
		return fmt.Errorf("max_peers must be at least 1, got %d", s.MaxPeers)
	}
	if s.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", s.BufferSize)
	}
	if s.PollTimeoutMs < 1 {
		return fmt.Errorf("poll_timeout_ms must be at least 1, got %d", s.PollTimeoutMs)
	}
	if s.PeerIdleTimeout < 1 {
		return fmt.Errorf("peer_idle_timeout must be at least 1 second, got %d", s.PeerIdleTimeout)
	}
	return nil
}

// Validate validates HTTP configuration.
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
		}
		if h.Address == "" {
			return fmt.Errorf("address cannot be empty when HTTP is enabled")
		}
	}
	return nil
}

// Validate validates router configuration.
func (r *RouterConfig) Validate() error {
	if r.Lanes < 0 {
		return fmt.Errorf("lanes cannot be negative, got %d", r.Lanes)
	}
	return nil
}

// Validate validates auth configuration.
func (a *AuthConfig) Validate() error {
	if a.ServerID == "" {
		return fmt.Errorf("server_id cannot be empty")
	}
	if a.HandshakeTimeout < 1 {
		return fmt.Errorf("handshake_timeout must be at least 1 second, got %d", a.HandshakeTimeout)
	}
	if a.MaxClockSkew < 1 {
		return fmt.Errorf("max_clock_skew must be at least 1 second, got %d", a.MaxClockSkew)
	}
	return nil
}

// Validate validates logging configuration.
func (l *LoggingConfig) Validate() error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("level must be one of debug/info/warn/error, got %q", l.Level)
	}
	switch l.Format {
	case "text", "json":
	default:
		return fmt.Errorf("format must be text or json, got %q", l.Format)
	}
	return nil
}

// LaneCount resolves the configured lane count, defaulting to the number of
// available CPUs.
func (r *RouterConfig) LaneCount() int {
	if r.Lanes > 0 {
		return r.Lanes
	}
	return runtime.NumCPU()
}

// GetPollTimeout returns the transport poll timeout as a duration.
func (s *ServerConfig) GetPollTimeout() time.Duration {
	return time.Duration(s.PollTimeoutMs) * time.Millisecond
}

// GetPeerIdleTimeout returns the peer idle timeout as a duration.
func (s *ServerConfig) GetPeerIdleTimeout() time.Duration {
	return time.Duration(s.PeerIdleTimeout) * time.Second
}

// GetHandshakeTimeout returns the auth deadline window as a duration.
func (a *AuthConfig) GetHandshakeTimeout() time.Duration {
	return time.Duration(a.HandshakeTimeout) * time.Second
}

// GetMaxClockSkew returns the handshake replay window as a duration.
func (a *AuthConfig) GetMaxClockSkew() time.Duration {
	return time.Duration(a.MaxClockSkew) * time.Second
}
