// Package config loads and validates the gateway's application
// configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sigmod/ns-server/errors"
)

// Config represents the complete gateway configuration
type Config struct {
	// ListenAddress is the address the HTTP surface binds to
	ListenAddress string `json:"listen_address"`

	// UIPrefix is the pluggable-UI path prefix proxied requests arrive
	// under (default "/_p")
	UIPrefix string `json:"ui_prefix,omitempty"`

	// PluginDir is the configuration directory holding plugin spec files
	PluginDir string `json:"plugin_dir,omitempty"`

	// PluginOverrides are inline plugin specs processed before the
	// directory sources, so their prefixes win collisions
	PluginOverrides []json.RawMessage `json:"plugin_overrides,omitempty"`

	// LocalAddress is the local interface backends are reached on
	// (default 127.0.0.1)
	LocalAddress string `json:"local_address,omitempty"`

	// IdentityHeader carries the caller's session token to backends
	IdentityHeader string `json:"identity_header,omitempty"`

	// ServicePorts maps service names to the cluster-config keys holding
	// their REST ports; empty entries fall back to the built-in table
	ServicePorts map[string]string `json:"service_ports,omitempty"`

	// LocalServices names the services scheduled on this node and their
	// REST ports, seeding the node state when no external membership
	// source is wired
	LocalServices map[string]int `json:"local_services,omitempty"`

	// ProxyTimeoutStr bounds one relay attempt (default "60s")
	ProxyTimeoutStr string `json:"proxy_timeout,omitempty"`

	// MaxWaitStr bounds one long-poll suspension cycle (default "25s")
	MaxWaitStr string `json:"max_wait,omitempty"`

	// MaxRequestSize limits request body size in bytes (default: 10MB)
	MaxRequestSize int64 `json:"max_request_size,omitempty"`

	// RateLimit caps requests per second per gateway; 0 disables limiting
	RateLimit float64 `json:"rate_limit,omitempty"`

	// RateBurst is the limiter burst size when RateLimit is set
	RateBurst int `json:"rate_burst,omitempty"`

	// NATS configures the optional cluster change bridge
	NATS NATSConfig `json:"nats,omitempty"`

	// parsed durations (internal use)
	proxyTimeout time.Duration
	maxWait      time.Duration
}

// NATSConfig configures the configuration-change bridge. An empty URL
// disables the bridge; the gateway then runs standalone.
type NATSConfig struct {
	URL     string `json:"url,omitempty"`
	Subject string `json:"subject,omitempty"`
}

// Default returns a configuration with every optional field at its default.
func Default() *Config {
	cfg := &Config{
		ListenAddress:  ":8091",
		UIPrefix:       "/_p",
		LocalAddress:   "127.0.0.1",
		IdentityHeader: "ns-server-auth-token",
		MaxRequestSize: 10 << 20,
	}
	// Defaults always validate
	_ = cfg.Validate()
	return cfg
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "Config", "Load", "read config file")
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Load", "parse config file")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the configuration is usable and parses duration fields.
func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"listen_address cannot be empty")
	}

	if !strings.HasPrefix(c.UIPrefix, "/") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("ui_prefix must start with /, got %q", c.UIPrefix))
	}

	if c.MaxRequestSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size must be positive")
	}

	if c.RateLimit < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"rate_limit cannot be negative")
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		// A limiter with zero burst rejects everything
		c.RateBurst = int(c.RateLimit)
		if c.RateBurst < 1 {
			c.RateBurst = 1
		}
	}

	var err error
	c.proxyTimeout, err = parseDuration(c.ProxyTimeoutStr, 60*time.Second)
	if err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "parse proxy_timeout")
	}
	c.maxWait, err = parseDuration(c.MaxWaitStr, 25*time.Second)
	if err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "parse max_wait")
	}

	return nil
}

// ProxyTimeout returns the parsed relay timeout
func (c *Config) ProxyTimeout() time.Duration { return c.proxyTimeout }

// MaxWait returns the parsed long-poll cycle bound
func (c *Config) MaxWait() time.Duration { return c.maxWait }

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %v", d)
	}
	return d, nil
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg}
}

// Get returns the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "SafeConfig", "Update",
			"config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}
