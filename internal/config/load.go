// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SynthStack Contributors

package config

import (
	"bytes"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Environment variables read by Load.
const (
	EnvSigningSecret = "AUTHCORE_SIGNING_SECRET"
	EnvDatabaseURL   = "DATABASE_URL"
)

// Defaults.
const (
	DefaultHTTPAddr    = "127.0.0.1:8080"
	DefaultMetricsAddr = "127.0.0.1:9100"
	DefaultLinkBase    = "http://localhost:8080"
)

func defaults() map[string]any {
	return map[string]any{
		"active_provider": "local",
		"providers": map[string]any{
			"local": map[string]any{"enabled": true},
			"remote": map[string]any{
				"enabled":             false,
				"timeout":             10 * time.Second,
				"max_retries":         2,
				"retry_backoff":       100 * time.Millisecond,
				"skip_locally_signed": false,
			},
		},
		"auth": map[string]any{
			"issuer":                     "authcore",
			"require_email_verification": false,
			"session_duration_hours":     168,
			"access_token_ttl":           time.Hour,
			"max_failed_attempts":        5,
			"lockout_duration_minutes":   30,
			"hash_workers":               0,
		},
		"database": map[string]any{"max_conns": 0},
		"http": map[string]any{
			"addr":         DefaultHTTPAddr,
			"public_paths": []string{"/auth/*", "/healthz"},
		},
		"metrics": map[string]any{"addr": DefaultMetricsAddr},
		"log":     map[string]any{"format": "json", "level": "info"},
		"mail":    map[string]any{"queue_size": 256, "workers": 2, "link_base": DefaultLinkBase},
	}
}

// mapProvider feeds a nested map to koanf.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, oops.Errorf("mapProvider does not support ReadBytes")
}

func (m mapProvider) Read() (map[string]any, error) {
	return m, nil
}

// envProvider reads the secrets that may not live in the config file.
func envProvider(getenv func(string) string) mapProvider {
	out := map[string]any{}
	if v := getenv(EnvSigningSecret); v != "" {
		out["auth"] = map[string]any{"signing_secret": v}
	}
	if v := getenv(EnvDatabaseURL); v != "" {
		out["database"] = map[string]any{"url": v}
	}
	return out
}

// flagKeys maps command-line flags to config keys. Flags not listed are not
// configuration.
var flagKeys = map[string]string{
	"active-provider": "active_provider",
	"http-addr":       "http.addr",
	"metrics-addr":    "metrics.addr",
	"log-format":      "log.format",
	"log-level":       "log.level",
	"database-url":    "database.url",
	"remote-url":      "providers.remote.base_url",
}

// BindFlags registers the configuration flags on fs. Their defaults are
// informational; Load only applies flags that were set or have no other
// source.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("active-provider", "local", "provider used for writes (local or remote)")
	fs.String("http-addr", DefaultHTTPAddr, "API listen address")
	fs.String("metrics-addr", DefaultMetricsAddr, "metrics/health listen address (empty = disabled)")
	fs.String("log-format", "json", "log format (json or text)")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("database-url", "", "PostgreSQL URL (default: $DATABASE_URL)")
	fs.String("remote-url", "", "identity service base URL")
}

// Options customises Load.
type Options struct {
	// Path of the YAML file. Empty means no file.
	Path string
	// Flags, when non-nil, is applied last.
	Flags *pflag.FlagSet
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// Load builds the effective configuration and validates it.
func Load(opts Options) (*Config, error) {
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	k := koanf.New(".")
	if err := k.Load(mapProvider(defaults()), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "defaults").Wrap(err)
	}

	if opts.Path != "" {
		data, err := os.ReadFile(opts.Path)
		if err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", opts.Path).Wrap(err)
		}
		if err := ValidateYAML(data); err != nil {
			return nil, oops.Code("CONFIG_SCHEMA_INVALID").With("path", opts.Path).Wrap(err)
		}
		if len(bytes.TrimSpace(data)) > 0 {
			if err := k.Load(file.Provider(opts.Path), yaml.Parser()); err != nil {
				return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", opts.Path).Wrap(err)
			}
		}
	}

	if err := k.Load(envProvider(getenv), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "environment").Wrap(err)
	}

	if opts.Flags != nil {
		p := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(p, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("operation", "unmarshal").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
