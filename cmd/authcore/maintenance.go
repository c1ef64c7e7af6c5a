// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SynthStack Contributors

package main

import (
	"context"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// NewPruneSessionsCmd creates the prune-sessions subcommand. A nil opener
// connects with the configured database URL.
func NewPruneSessionsCmd(open StoreOpener) *cobra.Command {
	if open == nil {
		open = defaultStoreOpener
	}
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune-sessions",
		Short: "Delete expired and long-revoked sessions",
		Long: `Delete sessions whose expiry has passed, and revoked sessions that were
deactivated longer ago than --older-than.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan < 0 {
				return oops.Code("INVALID_ARGUMENT").Errorf("--older-than must not be negative")
			}
			return withStore(cmd, open, func(ctx context.Context, st Store) error {
				n, err := st.DeleteExpiredSessions(ctx, time.Now().Add(-olderThan))
				if err != nil {
					return oops.Code("PRUNE_FAILED").With("operation", "delete expired sessions").Wrap(err)
				}
				cmd.Printf("Deleted %d session(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "only prune sessions that ended at least this long ago")
	return cmd
}

// NewUserCmd creates the user command group for operator actions.
func NewUserCmd(open StoreOpener) *cobra.Command {
	if open == nil {
		open = defaultStoreOpener
	}
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Operator actions on user accounts",
	}
	cmd.AddCommand(newBanCmd(open, "ban", true), newBanCmd(open, "unban", false))
	return cmd
}

func newBanCmd(open StoreOpener, use string, banned bool) *cobra.Command {
	short := "Ban a user; their tokens stop verifying immediately"
	if !banned {
		short = "Lift a user's ban"
	}
	return &cobra.Command{
		Use:   use + " EMAIL",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, open, func(ctx context.Context, st Store) error {
				user, err := st.GetUserByEmail(ctx, args[0])
				if err != nil {
					return oops.Code("USER_LOOKUP_FAILED").With("email", args[0]).Wrap(err)
				}
				if err := st.SetBanned(ctx, user.ID, banned); err != nil {
					return oops.Code("USER_UPDATE_FAILED").With("user_id", user.ID.String()).Wrap(err)
				}
				cmd.Printf("%s %sned (%s)\n", user.Email, use, user.ID)
				return nil
			})
		},
	}
}

func withStore(cmd *cobra.Command, open StoreOpener, fn func(context.Context, Store) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database.url (or DATABASE_URL) is required")
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	st, release, err := open(ctx, cfg)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer release()
	return fn(ctx, st)
}
