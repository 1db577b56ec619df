package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/funds-transfer-engine/internal/config"
	"github.com/sheikh-saqib/funds-transfer-engine/internal/logger"
	"github.com/sheikh-saqib/funds-transfer-engine/internal/storage/postgres"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "server",
		Short:         "Funds-transfer engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd())
	return root
}

// newServeCmd runs the HTTP API until SIGINT or SIGTERM.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			return serve(cmd.Context(), cfg, log)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply postgres schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			if cfg.DatabaseDSN == "" {
				return fmt.Errorf("migrate: DATABASE_DSN is not set")
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			db, err := postgres.Open(ctx, cfg.DatabaseDSN)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := postgres.Migrate(ctx, db); err != nil {
				return err
			}
			log.Info("migrations applied")

			if cfg.SeedFile == "" {
				return nil
			}
			return seedPostgres(ctx, postgres.NewPostgresLedgerStore(db), cfg.SeedFile, log)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "Migration timeout")
	return cmd
}

// seedPostgres opens the accounts in path. Accounts that already exist are
// left untouched so migrate can be rerun.
func seedPostgres(ctx context.Context, store *postgres.PostgresLedgerStore, path string, log *zap.Logger) error {
	accounts, err := config.LoadSeed(path)
	if err != nil {
		return err
	}

	var opened int
	for _, acc := range accounts {
		err := store.OpenAccount(ctx, acc)
		if errors.Is(err, postgres.ErrAccountExists) {
			log.Debug("seed account exists", zap.String("account", acc.Handle))
			continue
		}
		if err != nil {
			return fmt.Errorf("seed account %s: %w", acc.Handle, err)
		}
		opened++
	}
	log.Info("accounts seeded", zap.Int("opened", opened), zap.Int("total", len(accounts)))
	return nil
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
