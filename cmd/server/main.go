package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connector-queue-manager/internal/bootstrap"
	"connector-queue-manager/internal/brokerstats"
	"connector-queue-manager/internal/config"
	appcron "connector-queue-manager/internal/cron"
	"connector-queue-manager/internal/db"
	"connector-queue-manager/internal/events"
	"connector-queue-manager/internal/logging"
	"connector-queue-manager/internal/repository"
	"connector-queue-manager/internal/server"
	"connector-queue-manager/internal/service"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "connector-queue-manager",
		Short:         "Manages RabbitMQ queues for connectors",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file loaded before reading the environment")

	serveCmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the HTTP API, startup reconciliation and scheduled jobs",
		Aliases: []string{"start"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := runServe(ctx, cfg, logger); err != nil {
				logger.Error("server exited", "error", err)
				return err
			}
			return nil
		},
	}
	rootCmd.AddCommand(serveCmd)

	versionCmd := &cobra.Command{
		Use:   "broker-version",
		Short: "Print the broker version and check it against an expected prefix",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			expected, _ := cmd.Flags().GetString("expect")
			if expected == "" {
				expected = cfg.ExpectedBrokerVersion
			}

			p, err := bootstrap.NewProvider(cfg)
			if err != nil {
				return err
			}
			defer p.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.BrokerTimeout)
			defer cancel()
			err = checkBrokerVersion(ctx, brokerstats.NewAggregator(p, logger), expected, cmd.OutOrStdout())
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
			}
			return err
		},
	}
	versionCmd.Flags().String("expect", "", "expected version prefix, e.g. 3.11 (defaults to EXPECTED_BROKER_VERSION)")
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}

// setup loads the dotenv file, the logger and the config, in that order
func setup(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	loaded := config.LoadDotEnv(envFile)

	logger, err := logging.Bootstrap(logging.BootstrapOptions{Command: cmd.Name(), Writer: cmd.ErrOrStderr()})
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logging: %w", err)
	}
	if loaded != "" {
		logger.Debug("loaded env file", "path", loaded)
	}

	cfg, err := config.LoadFromEnv(os.LookupEnv)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

type versionSource interface {
	BrokerVersion(ctx context.Context) (string, error)
}

var errVersionMismatch = errors.New("broker version mismatch")

// checkBrokerVersion writes the broker version to w and fails when it does
// not match the expected prefix. An empty expectation accepts any version.
func checkBrokerVersion(ctx context.Context, src versionSource, expected string, w io.Writer) error {
	version, err := src.BrokerVersion(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, version)
	if expected == "" {
		return nil
	}
	if !brokerstats.CheckVersion(version, expected) {
		return fmt.Errorf("%w: got %s, want %s", errVersionMismatch, version, expected)
	}
	return nil
}

func runServe(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	p, err := bootstrap.NewProvider(cfg)
	if err != nil {
		return fmt.Errorf("init queue provider: %w", err)
	}

	opts := service.Options{
		Exchanges:      bootstrap.Exchanges(cfg),
		Timeout:        cfg.BrokerTimeout,
		ConnectRetries: cfg.BrokerConnectRetries,
		Events:         events.Nop{},
		Logger:         logger,
	}

	if cfg.PostgresURI != "" {
		database, err := db.Connect(ctx, cfg.PostgresURI)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer database.Close()
		if err := database.Migrate(ctx); err != nil {
			return err
		}
		opts.Store = repository.NewRepository(database.DB, logger)
	} else {
		logger.Warn("POSTGRES_URI not set, registry is kept in memory only")
	}

	if cfg.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATSURL, cfg.EventsSubject, logger)
		if err != nil {
			return fmt.Errorf("connect to nats: %w", err)
		}
		defer pub.Close()
		opts.Events = pub
	}

	svc := service.NewQueueService(p, opts)
	if err := svc.Connect(ctx); err != nil {
		return err
	}
	defer svc.Disconnect()

	result, err := svc.Bootstrap(ctx)
	if err != nil {
		return fmt.Errorf("startup reconciliation: %w", err)
	}
	logger.Info("startup reconciliation finished",
		"restored", result.Restored, "ensured", len(result.Ensured),
		"skipped", len(result.Skipped), "errors", len(result.Errors))

	version, err := svc.BrokerVersion(ctx)
	switch {
	case err != nil:
		logger.Warn("could not read broker version", "error", err)
	case !brokerstats.CheckVersion(version, cfg.ExpectedBrokerVersion):
		logger.Warn("unexpected broker version", "version", version, "expected", cfg.ExpectedBrokerVersion)
	default:
		logger.Info("broker version", "version", version)
	}

	sched := appcron.NewScheduler(svc, appcron.Schedules{
		Health:  cfg.HealthSchedule,
		Metrics: cfg.MetricsSchedule,
	}, logger)
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	srv := server.New(cfg, svc, logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
