package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soaringjerry/Formsy/internal/api"
	"github.com/soaringjerry/Formsy/internal/config"
	"github.com/soaringjerry/Formsy/internal/jobs"
	"github.com/soaringjerry/Formsy/internal/middleware"
	"github.com/soaringjerry/Formsy/internal/utils"
)

// Set with -ldflags "-X main.commit=... -X main.buildTime=...".
var (
	commit    = ""
	buildTime = ""
)

type rootOptions struct {
	ConfigPath string
	EnvFile    string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "formsy",
		Short:         "Formsy form and submission server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", utils.SafeEnv("FORMSY_CONFIG", "formsy.yaml"), "path to the YAML config file")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "path to a dotenv file")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the export-job relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	})
	cmd.AddCommand(newMigrateCommand(opts))
	return cmd
}

func loadConfig(opts *rootOptions) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(opts.ConfigPath, opts.EnvFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func runServe(parent context.Context, opts *rootOptions) error {
	cfg, logger, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Warn("close store failed", "module", "server", "error", cerr)
		}
	}()

	auth := middleware.NewAuthenticator(cfg.JWTSecret)
	if auth.UsingDevSecret() {
		logger.Warn("FORMSY_JWT_SECRET not set; using the development signing secret", "module", "server")
	}

	router := api.NewRouter(logger, store, auth, api.Options{
		CORSOrigins: cfg.CORSOrigins,
		StaticDir:   cfg.StaticDir,
		TokenTTL:    cfg.TokenTTL,
		Commit:      utils.SafeEnv("FORMSY_COMMIT", commit),
		BuildTime:   utils.SafeEnv("FORMSY_BUILD_TIME", buildTime),
	})

	relayDone := make(chan struct{})
	if cfg.Relay.Enabled {
		publisher, err := newPublisher(cfg.Relay, logger)
		if err != nil {
			return err
		}
		relay := jobs.NewRelay(logger, store, publisher, cfg.Relay.PollInterval, cfg.Relay.BatchSize, cfg.Relay.MaxAttempts)
		go func() {
			defer close(relayDone)
			defer publisher.Close()
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("export relay stopped", "module", "relay", "error", err)
			}
		}()
	} else {
		close(relayDone)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("formsy server listening", "module", "server", "addr", cfg.Addr, "driver", cfg.DBDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			stop()
			<-relayDone
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info("shutting down", "module", "server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "module", "server", "error", err)
	}
	<-relayDone
	return nil
}
