// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SynthStack Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/synthstack/authcore/internal/config"
	"github.com/synthstack/authcore/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the authcore CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authcore",
		Short: "authcore - multi-provider authentication and sessions",
		Long: `authcore issues, verifies, rotates and revokes sessions for end users
against a local password store or a remote identity service.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: $XDG_CONFIG_HOME/authcore/config.yaml)")
	config.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd(nil))
	cmd.AddCommand(NewMigrateCmd(nil))
	cmd.AddCommand(NewPruneSessionsCmd(nil))
	cmd.AddCommand(NewUserCmd(nil))
	cmd.AddCommand(NewConfigCmd())

	return cmd
}

// loadConfig resolves the effective configuration for cmd. Without --config
// the XDG config file is used when it exists.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := configFile
	if path == "" {
		found, err := xdg.DefaultConfigFile()
		if err != nil {
			return nil, err //nolint:wrapcheck // carries its own code
		}
		path = found
	}
	//nolint:wrapcheck // config errors carry their own codes
	return config.Load(config.Options{Path: path, Flags: cmd.Flags()})
}
