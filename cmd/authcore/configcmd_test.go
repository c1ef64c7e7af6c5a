// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SynthStack Contributors

package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/synthstack/authcore/internal/config"
)

func TestConfigShow_RedactsSecrets(t *testing.T) {
	t.Setenv("AUTHCORE_SIGNING_SECRET", testSecret)
	t.Setenv("DATABASE_URL", "postgres://authcore:hunter2@db/authcore")
	path := writeConfig(t, "auth:\n  issuer: example\n")

	root, out := testRoot(t, NewConfigCmd())
	root.SetArgs([]string{"config", "show", "--config", path, "--log-level", "debug"})
	require.NoError(t, root.Execute())

	text := out.String()
	assert.NotContains(t, text, testSecret)
	assert.NotContains(t, text, "hunter2")

	var shown config.Config
	require.NoError(t, yaml.Unmarshal([]byte(text), &shown))
	assert.Equal(t, "example", shown.Auth.Issuer)
	assert.Equal(t, "[redacted]", shown.Auth.SigningSecret)
	assert.Equal(t, "debug", shown.Log.Level)
}

func TestConfigShow_InvalidConfig(t *testing.T) {
	t.Setenv("AUTHCORE_SIGNING_SECRET", "")
	t.Setenv("DATABASE_URL", "")

	root, _ := testRoot(t, NewConfigCmd())
	root.SetArgs([]string{"config", "show"})
	require.Error(t, root.Execute())
}

func TestConfigSchema(t *testing.T) {
	root, out := testRoot(t, NewConfigCmd())
	root.SetArgs([]string{"config", "schema"})
	require.NoError(t, root.Execute())

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &doc))
	assert.Equal(t, config.SchemaID, doc["$id"])
}
