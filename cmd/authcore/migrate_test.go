// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SynthStack Contributors

package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synthstack/authcore/pkg/errutil"
)

type fakeMigrator struct {
	version uint
	dirty   bool
	pending []uint
	upErr   error
	calls   []string
	forced  int
	closed  bool
	gotURL  string
}

func (m *fakeMigrator) Up() error {
	m.calls = append(m.calls, "up")
	return m.upErr
}

func (m *fakeMigrator) Down() error {
	m.calls = append(m.calls, "down")
	return nil
}

func (m *fakeMigrator) Version() (uint, bool, error) {
	return m.version, m.dirty, nil
}

func (m *fakeMigrator) Force(v int) error {
	m.calls = append(m.calls, "force")
	m.forced = v
	return nil
}

func (m *fakeMigrator) PendingMigrations() ([]uint, error) {
	return m.pending, nil
}

func (m *fakeMigrator) Close() error {
	m.closed = true
	return nil
}

func (m *fakeMigrator) factory(url string) (Migrator, error) {
	m.gotURL = url
	return m, nil
}

func runMigrate(t *testing.T, m *fakeMigrator, args ...string) (string, error) {
	t.Helper()
	t.Setenv("AUTHCORE_SIGNING_SECRET", testSecret)
	t.Setenv("DATABASE_URL", "postgres://authcore@localhost/authcore")
	root, out := testRoot(t, NewMigrateCmd(m.factory))
	root.SetArgs(append([]string{"migrate"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestParseForceVersion(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantVersion int
		wantErr     bool
	}{
		{name: "valid integer", input: "3", wantVersion: 3},
		{name: "zero is valid", input: "0", wantVersion: 0},
		{name: "leading whitespace is handled", input: "  42", wantVersion: 42},
		{name: "non-numeric returns error", input: "abc", wantErr: true},
		{name: "empty string returns error", input: "", wantErr: true},
		{name: "whitespace only returns error", input: "   ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseForceVersion(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, "INVALID_VERSION")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantVersion, got)
		})
	}
}

func TestMigrateUp(t *testing.T) {
	m := &fakeMigrator{pending: []uint{1}}
	out, err := runMigrate(t, m, "up")
	require.NoError(t, err)

	assert.Equal(t, []string{"up"}, m.calls)
	assert.True(t, m.closed)
	assert.Equal(t, "postgres://authcore@localhost/authcore", m.gotURL)
	assert.Contains(t, out, "Applying 1 migration(s)")
	assert.Contains(t, out, "Migrations completed successfully")
}

func TestMigrateUp_NothingPending(t *testing.T) {
	m := &fakeMigrator{}
	out, err := runMigrate(t, m, "up")
	require.NoError(t, err)
	assert.Empty(t, m.calls)
	assert.Contains(t, out, "Schema is up to date")
}

func TestMigrateUp_Failure(t *testing.T) {
	m := &fakeMigrator{pending: []uint{1}, upErr: errors.New("syntax error")}
	_, err := runMigrate(t, m, "up")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_FAILED")
	assert.True(t, m.closed)
}

func TestMigrateDown_RequiresConfirmation(t *testing.T) {
	m := &fakeMigrator{}
	_, err := runMigrate(t, m, "down")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIRMATION_REQUIRED")
	assert.Empty(t, m.calls)

	_, err = runMigrate(t, m, "down", "--yes")
	require.NoError(t, err)
	assert.Equal(t, []string{"down"}, m.calls)
}

func TestMigrateVersion(t *testing.T) {
	m := &fakeMigrator{version: 1, dirty: true, pending: nil}
	out, err := runMigrate(t, m, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "version 1 (000001_auth_core)")
	assert.Contains(t, out, "dirty")
	assert.Contains(t, out, "0 pending")
}

func TestMigrateForce(t *testing.T) {
	m := &fakeMigrator{}
	out, err := runMigrate(t, m, "force", "1")
	require.NoError(t, err)
	assert.Equal(t, 1, m.forced)
	assert.Contains(t, out, "Forced version 1")
}

func TestMigrate_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("AUTHCORE_SIGNING_SECRET", testSecret)
	t.Setenv("DATABASE_URL", "")
	m := &fakeMigrator{}
	root, _ := testRoot(t, NewMigrateCmd(m.factory))
	root.SetArgs([]string{"migrate", "up"})

	err := root.Execute()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	assert.Empty(t, m.gotURL)
}
