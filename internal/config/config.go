// Package config provides configuration management for the session gateway.
// It handles loading and parsing YAML configuration files, and provides
// structured access to application settings including the server port, the
// session-identity endpoint, the login entry point, retry pacing, and
// logging behavior.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default retry pacing applied when the configuration leaves the
// corresponding fields unset.
const (
	// DefaultProbeTimeout bounds a single identity probe.
	DefaultProbeTimeout = 10 * time.Second

	// DefaultRetryBaseDelay is the delay before the first retry after a
	// transient failure. Subsequent delays double until the cap.
	DefaultRetryBaseDelay = 1 * time.Second

	// DefaultRetryMaxDelay caps the exponential retry delay.
	DefaultRetryMaxDelay = 60 * time.Second
)

// Config represents the gateway's configuration, loaded from a YAML file.
type Config struct {
	// Port is the TCP port the gateway listens on.
	Port int `yaml:"port" json:"port"`

	// IdentityURL is the session-identity endpoint probed before protected
	// content is served. A 401 from this endpoint means "no active session";
	// any other failure is treated as a backend problem.
	IdentityURL string `yaml:"identity-url" json:"identity-url"`

	// LoginURL is the login entry point surfaced to unauthenticated
	// visitors. The gateway links to it; it never navigates there itself.
	LoginURL string `yaml:"login-url" json:"login-url"`

	// AppUpstream is the base URL of the protected application. Requests
	// are reverse-proxied to it once the session check passes.
	AppUpstream string `yaml:"app-upstream" json:"app-upstream"`

	// ProxyURL is the URL of an optional proxy server to use for outbound
	// probe requests. Supports http, https, and socks5 schemes.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url"`

	// ProbeTimeout bounds a single identity probe. A probe that exceeds it
	// counts as a transient failure, not a cancellation.
	ProbeTimeout time.Duration `yaml:"probe-timeout" json:"probe-timeout"`

	// RetryBaseDelay is the delay before the first retry after a transient
	// probe failure.
	RetryBaseDelay time.Duration `yaml:"retry-base-delay" json:"retry-base-delay"`

	// RetryMaxDelay caps the exponentially growing retry delay.
	RetryMaxDelay time.Duration `yaml:"retry-max-delay" json:"retry-max-delay"`

	// Debug enables debug-level logging and gin debug mode.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile redirects application logs to rotating files instead of stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogsMaxTotalSizeMB caps the total size of the logs directory.
	// 0 disables the cleanup.
	LogsMaxTotalSizeMB int `yaml:"logs-max-total-size-mb" json:"logs-max-total-size-mb"`
}

// LoadConfig reads the YAML file at configFile, applies defaults, and
// validates the result.
func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", configFile, err)
	}
	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", configFile, err)
	}
	cfg.applyDefaults()
	if err = cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8317
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		c.RetryMaxDelay = c.RetryBaseDelay
	}
}

func (c *Config) validate() error {
	if err := requireURL("identity-url", c.IdentityURL); err != nil {
		return err
	}
	if err := requireURL("login-url", c.LoginURL); err != nil {
		return err
	}
	if err := requireURL("app-upstream", c.AppUpstream); err != nil {
		return err
	}
	return nil
}

func requireURL(field, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("config: %s is required", field)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("config: %s is not a valid URL: %w", field, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("config: %s must use http or https, got %q", field, parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("config: %s is missing host information", field)
	}
	return nil
}
