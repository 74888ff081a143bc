package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/throttlecove/throttlecove/internal/app"
	"github.com/throttlecove/throttlecove/internal/config"
	"github.com/throttlecove/throttlecove/internal/observability"
	"github.com/throttlecove/throttlecove/internal/repository"
)

func main() {
	root := &cobra.Command{
		Use:   "throttlecove",
		Short: "ThrottleCove rider platform backend",
	}
	root.AddCommand(newServeCommand(), newCleanupSessionsCommand())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, lp, err := observability.InitLogging(ctx, cfg)
			if err != nil {
				return err
			}
			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			if lp != nil {
				a.Observability.LoggerProvider = lp
			}
			return a.Run(ctx)
		},
	}
}

func newCleanupSessionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup-sessions",
		Short: "Delete expired session rows and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, _, err := observability.InitLogging(context.Background(), cfg)
			if err != nil {
				return err
			}
			db, err := repository.OpenDB(cfg.DBDriver, cfg.DBDSN)
			if err != nil {
				return err
			}
			removed, err := repository.NewSessionRepository(db).CleanupExpired()
			if err != nil {
				return err
			}
			logger.Info("expired sessions removed", "count", removed)
			return nil
		},
	}
}
