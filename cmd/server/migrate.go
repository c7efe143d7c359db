package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/soaringjerry/Formsy/internal/config"
	"github.com/soaringjerry/Formsy/internal/db"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(opts)
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			logger.Info("migrations up to date", "module", "server", "driver", cfg.DBDriver)
			return store.Close()
		},
	}
}

// openStore connects the configured driver and brings its schema up to date.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (db.Store, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	switch cfg.DBDriver {
	case "memory":
		logger.Warn("memory driver selected; data is lost on restart", "module", "server")
		return db.NewMemoryStore(), nil
	case "postgres":
		gdb, err := db.ConnectPostgres(ctx, cfg.PostgresURL, cfg.MaxDBConns)
		if err != nil {
			return nil, err
		}
		store := db.NewPostgresStore(gdb, logger)
		if err := db.RunPostgresMigrations(ctx, gdb, cfg.MigrationsDir); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		return store, nil
	default:
		sqlDB, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		store, err := db.NewSQLiteStore(sqlDB, logger)
		if err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
		if err := db.RunMigrations(ctx, sqlDB, cfg.MigrationsDir); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		return store, nil
	}
}
