// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/auth/postgres"
	"github.com/gatehouse/gatehouse/internal/config"
	"github.com/gatehouse/gatehouse/internal/logging"
	"github.com/gatehouse/gatehouse/internal/store"
)

// newSweepCmd creates the sweep subcommand. Expiry is enforced lazily at
// resolve time, so the sweep exists only to keep the sessions table from
// accumulating dead rows; run it from cron or a scheduled job.
func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, nil)
			if err != nil {
				return err
			}

			logging.SetDefault("gatehouse", version, cfg.Log.Format)
			logger := slog.Default()

			ctx := cmd.Context()
			pool, err := store.Connect(ctx, cfg.DatabaseURL())
			if err != nil {
				return err
			}
			defer pool.Close()

			service, err := auth.NewServiceWithLogger(
				postgres.NewIdentityRepository(pool),
				postgres.NewSessionRepository(pool),
				auth.NewArgon2idHasher(),
				cfg.Session.Lifetime,
				logger,
			)
			if err != nil {
				return err
			}

			deleted, err := service.SweepExpired(ctx)
			if err != nil {
				return err
			}

			logger.Info("expired sessions swept", "deleted", deleted)
			cmd.Printf("Deleted %d expired session(s)\n", deleted)
			return nil
		},
	}
}
