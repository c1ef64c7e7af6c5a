// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SynthStack Contributors

// Package config loads authcore configuration from defaults, a YAML file,
// the environment and command-line flags, in that order of precedence.
package config

import (
	"net/url"
	"slices"
	"time"

	"github.com/samber/oops"
)

// Config is the complete authcore configuration.
type Config struct {
	ActiveProvider string          `yaml:"active_provider" jsonschema:"enum=local,enum=remote,description=Provider that handles writes when none is named"`
	Providers      ProvidersConfig `yaml:"providers"`
	Auth           AuthConfig      `yaml:"auth"`
	Database       DatabaseConfig  `yaml:"database"`
	HTTP           HTTPConfig      `yaml:"http"`
	Metrics        MetricsConfig   `yaml:"metrics"`
	Log            LogConfig       `yaml:"log"`
	Mail           MailConfig      `yaml:"mail"`
}

// ProvidersConfig enables and tunes the identity providers.
type ProvidersConfig struct {
	Local  LocalConfig  `yaml:"local"`
	Remote RemoteConfig `yaml:"remote"`
}

// LocalConfig configures the password provider backed by PostgreSQL.
type LocalConfig struct {
	Enabled bool `yaml:"enabled"`
}

// RemoteConfig configures the provider that delegates to an identity service.
type RemoteConfig struct {
	Enabled           bool          `yaml:"enabled"`
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries" jsonschema:"minimum=0,maximum=10"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
	SkipLocallySigned bool          `yaml:"skip_locally_signed"`
}

// AuthConfig holds token, session and lockout settings.
type AuthConfig struct {
	SigningSecret            string        `yaml:"signing_secret" jsonschema:"minLength=32"`
	Issuer                   string        `yaml:"issuer"`
	RequireEmailVerification bool          `yaml:"require_email_verification"`
	SessionDurationHours     int           `yaml:"session_duration_hours" jsonschema:"minimum=1"`
	AccessTokenTTL           time.Duration `yaml:"access_token_ttl"`
	MaxFailedAttempts        int           `yaml:"max_failed_attempts" jsonschema:"minimum=1"`
	LockoutDurationMinutes   int           `yaml:"lockout_duration_minutes" jsonschema:"minimum=1"`
	HashWorkers              int           `yaml:"hash_workers" jsonschema:"minimum=0"`
}

// DatabaseConfig locates PostgreSQL.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns" jsonschema:"minimum=0"`
}

// HTTPConfig configures the API listener and the auth gate.
type HTTPConfig struct {
	Addr        string   `yaml:"addr"`
	PublicPaths []string `yaml:"public_paths"`
}

// MetricsConfig configures the metrics and health listener. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig selects the log format and level.
type LogConfig struct {
	Format string `yaml:"format" jsonschema:"enum=json,enum=text"`
	Level  string `yaml:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// MailConfig sizes the outbound mail dispatcher. LinkBase prefixes the
// verification and reset links placed in message bodies.
type MailConfig struct {
	QueueSize int    `yaml:"queue_size" jsonschema:"minimum=1"`
	Workers   int    `yaml:"workers" jsonschema:"minimum=1"`
	LinkBase  string `yaml:"link_base"`
}

// SessionDuration is Auth.SessionDurationHours as a duration.
func (c *Config) SessionDuration() time.Duration {
	return time.Duration(c.Auth.SessionDurationHours) * time.Hour
}

// LockoutDuration is Auth.LockoutDurationMinutes as a duration.
func (c *Config) LockoutDuration() time.Duration {
	return time.Duration(c.Auth.LockoutDurationMinutes) * time.Minute
}

// Validate checks cross-field rules that the schema cannot express.
func (c *Config) Validate() error {
	enabled := c.EnabledProviders()
	if len(enabled) == 0 {
		return oops.Code("CONFIG_INVALID").Errorf("at least one provider must be enabled")
	}
	if !slices.Contains(enabled, c.ActiveProvider) {
		return oops.Code("CONFIG_INVALID").
			With("active_provider", c.ActiveProvider).
			Errorf("active_provider %q is not an enabled provider", c.ActiveProvider)
	}
	if c.Providers.Remote.Enabled {
		u, err := url.Parse(c.Providers.Remote.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return oops.Code("CONFIG_INVALID").
				With("base_url", c.Providers.Remote.BaseURL).
				Errorf("providers.remote.base_url must be an absolute URL")
		}
	}
	if c.Providers.Local.Enabled || c.Providers.Remote.SkipLocallySigned {
		if len(c.Auth.SigningSecret) < 32 {
			return oops.Code("CONFIG_INVALID").Errorf("auth.signing_secret must be at least 32 bytes")
		}
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return oops.Code("CONFIG_INVALID").Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if c.Mail.QueueSize < 1 || c.Mail.Workers < 1 {
		return oops.Code("CONFIG_INVALID").Errorf("mail.queue_size and mail.workers must be positive")
	}
	return nil
}

// EnabledProviders lists enabled provider names in scan order.
func (c *Config) EnabledProviders() []string {
	var out []string
	if c.Providers.Local.Enabled {
		out = append(out, "local")
	}
	if c.Providers.Remote.Enabled {
		out = append(out, "remote")
	}
	return out
}

const redacted = "[redacted]"

// Redacted returns a copy that is safe to print.
func (c *Config) Redacted() *Config {
	cp := *c
	cp.HTTP.PublicPaths = slices.Clone(c.HTTP.PublicPaths)
	if cp.Auth.SigningSecret != "" {
		cp.Auth.SigningSecret = redacted
	}
	if u, err := url.Parse(cp.Database.URL); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
			cp.Database.URL = u.String()
		}
	}
	return &cp
}
