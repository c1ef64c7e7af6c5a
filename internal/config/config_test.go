// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SynthStack Contributors

package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synthstack/authcore/pkg/errutil"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func fakeEnv(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "authcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(Options{Getenv: fakeEnv(map[string]string{EnvSigningSecret: testSecret})})
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.ActiveProvider)
	assert.True(t, cfg.Providers.Local.Enabled)
	assert.False(t, cfg.Providers.Remote.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Providers.Remote.Timeout)
	assert.Equal(t, 2, cfg.Providers.Remote.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.Providers.Remote.RetryBackoff)
	assert.Equal(t, "authcore", cfg.Auth.Issuer)
	assert.Equal(t, testSecret, cfg.Auth.SigningSecret)
	assert.Equal(t, 168*time.Hour, cfg.SessionDuration())
	assert.Equal(t, time.Hour, cfg.Auth.AccessTokenTTL)
	assert.Equal(t, 5, cfg.Auth.MaxFailedAttempts)
	assert.Equal(t, 30*time.Minute, cfg.LockoutDuration())
	assert.Equal(t, DefaultHTTPAddr, cfg.HTTP.Addr)
	assert.ElementsMatch(t, []string{"/auth/*", "/healthz"}, cfg.HTTP.PublicPaths)
	assert.Equal(t, DefaultMetricsAddr, cfg.Metrics.Addr)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 256, cfg.Mail.QueueSize)
	assert.Equal(t, 2, cfg.Mail.Workers)
	assert.Equal(t, DefaultLinkBase, cfg.Mail.LinkBase)
}

func TestLoad_MissingSecret(t *testing.T) {
	_, err := Load(Options{Getenv: fakeEnv(nil)})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
active_provider: remote
providers:
  remote:
    enabled: true
    base_url: https://id.example.com
    timeout: 3s
    max_retries: 4
auth:
  signing_secret: `+testSecret+`
  issuer: example
  session_duration_hours: 12
log:
  format: text
  level: debug
`)
	cfg, err := Load(Options{Path: path, Getenv: fakeEnv(nil)})
	require.NoError(t, err)

	assert.Equal(t, "remote", cfg.ActiveProvider)
	assert.Equal(t, []string{"local", "remote"}, cfg.EnabledProviders())
	assert.Equal(t, "https://id.example.com", cfg.Providers.Remote.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Providers.Remote.Timeout)
	assert.Equal(t, 4, cfg.Providers.Remote.MaxRetries)
	assert.Equal(t, "example", cfg.Auth.Issuer)
	assert.Equal(t, 12*time.Hour, cfg.SessionDuration())
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "debug", cfg.Log.Level)
	// untouched keys keep their defaults
	assert.Equal(t, 5, cfg.Auth.MaxFailedAttempts)
}

func TestLoad_EmptyFile(t *testing.T) {
	path := writeConfig(t, "")
	cfg, err := Load(Options{Path: path, Getenv: fakeEnv(map[string]string{EnvSigningSecret: testSecret})})
	require.NoError(t, err)
	assert.Equal(t, "authcore", cfg.Auth.Issuer)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(Options{Path: filepath.Join(t.TempDir(), "nope.yaml"), Getenv: fakeEnv(nil)})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_LOAD_FAILED")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
auth:
  signing_secret: `+testSecret+`
database:
  url: postgres://file@localhost/authcore
`)
	env := fakeEnv(map[string]string{
		EnvDatabaseURL:   "postgres://env@localhost/authcore",
		EnvSigningSecret: strings.Repeat("z", 40),
	})
	cfg, err := Load(Options{Path: path, Getenv: env})
	require.NoError(t, err)
	assert.Equal(t, "postgres://env@localhost/authcore", cfg.Database.URL)
	assert.Equal(t, strings.Repeat("z", 40), cfg.Auth.SigningSecret)
}

func TestLoad_FlagPrecedence(t *testing.T) {
	path := writeConfig(t, `
auth:
  signing_secret: `+testSecret+`
log:
  format: text
`)
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	fs.String("config", "", "not a config key")
	require.NoError(t, fs.Parse([]string{
		"--database-url", "postgres://flag@localhost/authcore",
		"--http-addr", ":9999",
		"--config", "ignored.yaml",
	}))

	env := fakeEnv(map[string]string{EnvDatabaseURL: "postgres://env@localhost/authcore"})
	cfg, err := Load(Options{Path: path, Flags: fs, Getenv: env})
	require.NoError(t, err)

	assert.Equal(t, "postgres://flag@localhost/authcore", cfg.Database.URL, "set flag beats env")
	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, "text", cfg.Log.Format, "unset flag must not clobber the file")
	assert.Equal(t, DefaultMetricsAddr, cfg.Metrics.Addr)
}

func TestLoad_SchemaRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown top-level key", "bogus: 1\n"},
		{"unknown nested key", "auth:\n  pepper: x\n"},
		{"bad duration", "providers:\n  remote:\n    timeout: ten seconds\n"},
		{"wrong type", "auth:\n  max_failed_attempts: lots\n"},
		{"below minimum", "auth:\n  max_failed_attempts: 0\n"},
		{"bad enum", "log:\n  format: xml\n"},
		{"short secret", "auth:\n  signing_secret: tooshort\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.body)
			_, err := Load(Options{Path: path, Getenv: fakeEnv(map[string]string{EnvSigningSecret: testSecret})})
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "CONFIG_SCHEMA_INVALID")
		})
	}
}

func TestValidateYAML_Malformed(t *testing.T) {
	err := ValidateYAML([]byte("auth: [unclosed"))
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_SCHEMA_INVALID")
}

func validConfig() *Config {
	return &Config{
		ActiveProvider: "local",
		Providers: ProvidersConfig{
			Local: LocalConfig{Enabled: true},
		},
		Auth: AuthConfig{SigningSecret: testSecret},
		Log:  LogConfig{Format: "json", Level: "info"},
		Mail: MailConfig{QueueSize: 1, Workers: 1},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"no providers", func(c *Config) { c.Providers.Local.Enabled = false }, "at least one provider"},
		{"active not enabled", func(c *Config) { c.ActiveProvider = "remote" }, "not an enabled provider"},
		{"unknown active", func(c *Config) { c.ActiveProvider = "ldap" }, "not an enabled provider"},
		{"remote without url", func(c *Config) { c.Providers.Remote.Enabled = true }, "base_url"},
		{"remote relative url", func(c *Config) {
			c.Providers.Remote.Enabled = true
			c.Providers.Remote.BaseURL = "/identity"
		}, "base_url"},
		{"remote only needs no secret", func(c *Config) {
			c.Providers.Local.Enabled = false
			c.Providers.Remote.Enabled = true
			c.Providers.Remote.BaseURL = "https://id.example.com"
			c.ActiveProvider = "remote"
			c.Auth.SigningSecret = ""
		}, ""},
		{"skip locally signed needs secret", func(c *Config) {
			c.Providers.Local.Enabled = false
			c.Providers.Remote.Enabled = true
			c.Providers.Remote.BaseURL = "https://id.example.com"
			c.Providers.Remote.SkipLocallySigned = true
			c.ActiveProvider = "remote"
			c.Auth.SigningSecret = ""
		}, "signing_secret"},
		{"short secret", func(c *Config) { c.Auth.SigningSecret = "short" }, "signing_secret"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"zero mail workers", func(c *Config) { c.Mail.Workers = 0 }, "mail"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
		})
	}
}

func TestRedacted(t *testing.T) {
	cfg := validConfig()
	cfg.Database.URL = "postgres://authcore:hunter2@db:5432/authcore?sslmode=disable"
	cfg.HTTP.PublicPaths = []string{"/healthz"}

	out := cfg.Redacted()
	assert.Equal(t, "[redacted]", out.Auth.SigningSecret)
	assert.NotContains(t, out.Database.URL, "hunter2")
	assert.Contains(t, out.Database.URL, "authcore:xxxxx@db:5432")

	// the original is untouched
	assert.Equal(t, testSecret, cfg.Auth.SigningSecret)
	assert.Contains(t, cfg.Database.URL, "hunter2")
	out.HTTP.PublicPaths[0] = "/changed"
	assert.Equal(t, "/healthz", cfg.HTTP.PublicPaths[0])
}

func TestRedacted_NoPassword(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.SigningSecret = ""
	cfg.Database.URL = "postgres://localhost/authcore"

	out := cfg.Redacted()
	assert.Empty(t, out.Auth.SigningSecret)
	assert.Equal(t, "postgres://localhost/authcore", out.Database.URL)
}

func TestGenerateSchema(t *testing.T) {
	data, err := GenerateSchema()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, SchemaID, doc["$id"])

	props, ok := doc["properties"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"active_provider", "providers", "auth", "database", "http", "metrics", "log", "mail"} {
		assert.Contains(t, props, key)
	}

	auth := props["auth"].(map[string]any)["properties"].(map[string]any)
	ttl := auth["access_token_ttl"].(map[string]any)
	assert.Equal(t, "string", ttl["type"])
	assert.Equal(t, durationPattern, ttl["pattern"])
}
