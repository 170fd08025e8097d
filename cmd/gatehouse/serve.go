// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/auth/postgres"
	"github.com/gatehouse/gatehouse/internal/config"
	"github.com/gatehouse/gatehouse/internal/logging"
	"github.com/gatehouse/gatehouse/internal/observability"
	"github.com/gatehouse/gatehouse/internal/store"
	"github.com/gatehouse/gatehouse/internal/web"
)

const shutdownTimeout = 5 * time.Second

// newServeCmd creates the serve subcommand. Flags use dotted koanf keys so
// they merge into the same configuration tree as the file and environment.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authentication gateway",
		Long: `Start the HTTP server that serves the public pages, the register and
login endpoints, and the protected secrets page. Pending schema migrations
are applied before the server starts listening.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd)
		},
	}

	cmd.Flags().String("server.listen", config.DefaultListenAddr, "web listen address")
	cmd.Flags().String("server.metrics", config.DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("log.format", config.DefaultLogFormat, "log format (json or text)")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	logging.SetDefault("gatehouse", version, cfg.Log.Format)
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.DatabaseURL())
	if err != nil {
		return err
	}
	defer pool.Close()

	logger.Info("database connected")

	// Apply pending migrations before serving. golang-migrate holds its own
	// connection, so close it once the schema is current.
	migrator, err := store.NewMigrator(cfg.DatabaseURL())
	if err != nil {
		return err
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close() //nolint:errcheck
		return err
	}
	if err := migrator.Close(); err != nil {
		return err
	}

	identities := postgres.NewIdentityRepository(pool)
	sessions := postgres.NewSessionRepository(pool)
	hasher := auth.NewArgon2idHasher()

	service, err := auth.NewServiceWithLogger(identities, sessions, hasher, cfg.Session.Lifetime, logger)
	if err != nil {
		return err
	}

	// Observability server is optional; readiness follows the pool ping.
	var obsServer *observability.Server
	var metrics *observability.Metrics
	if cfg.Server.Metrics != "" {
		obsServer = observability.NewServer(cfg.Server.Metrics, func() bool {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pool.Ping(pingCtx) == nil
		})
		metrics = obsServer.Metrics()
	}

	webServer, err := web.NewServer(cfg.Server.Listen, service, cfg.Session.Secret, metrics, logger)
	if err != nil {
		return err
	}

	var obsErrCh <-chan error
	if obsServer != nil {
		obsErrCh, err = obsServer.Start()
		if err != nil {
			return oops.With("operation", "start observability server").Wrap(err)
		}
	}

	webErrCh, err := webServer.Start()
	if err != nil {
		if obsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = obsServer.Stop(shutdownCtx) //nolint:errcheck
		}
		return oops.With("operation", "start web server").Wrap(err)
	}

	logger.Info("gatehouse ready", "listen", webServer.Addr())

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr := <-webErrCh:
		if serveErr != nil {
			runErr = oops.With("operation", "serve web").Wrap(serveErr)
		}
	case serveErr := <-obsErrCh:
		if serveErr != nil {
			runErr = oops.With("operation", "serve observability").Wrap(serveErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := webServer.Stop(shutdownCtx); err != nil {
		logger.Warn("error stopping web server", "error", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return runErr
}
