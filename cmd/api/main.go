// Package main is the entry point for the Polly notification API server.
//
// It loads configuration (with SSM secret resolution outside local mode),
// builds the repositories over a pgx pool, wires the domain handlers into the
// core chassis, and serves HTTP. Graceful shutdown is handled via OS signal
// interception (SIGINT, SIGTERM).
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

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"polly/internal/api/handlers"
	"polly/internal/config"
	"polly/internal/core"
	"polly/internal/db"
	"polly/internal/external"
	notifcore "polly/internal/notifications/core"
	"polly/internal/notifications/email"
	"polly/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := core.NewLogger(cfg.LogLevel, cfg.Service, cfg.Environment)
	typedLogger := core.NewLoggerAdapter(logger)
	logger.Info("polly API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.NewPool(ctx, cfg.Database)
	cancel()
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	clock := types.RealClock{}
	queueRepo := db.NewQueueRepository(pool, clock).WithStaleGrace(cfg.Notifier.StaleGrace)
	prefRepo := db.NewPreferenceRepository(pool)
	ledgerRepo := db.NewLedgerRepository(pool)
	userRepo := db.NewUserRepository(pool)

	renderer, err := email.NewRenderer(cfg.Server.AppBaseURL)
	if err != nil {
		return fmt.Errorf("initializing template renderer: %w", err)
	}

	provider := newEmailProvider(cfg, typedLogger)

	metrics, err := newMetrics(cfg, typedLogger)
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}

	processor := notifcore.NewProcessor(
		queueRepo,
		ledgerRepo,
		prefRepo,
		userRepo,
		renderer,
		provider,
		notifcore.NewPolicyEngine(typedLogger),
		metrics,
		typedLogger,
		notifcore.ProcessorConfig{
			Concurrency:  cfg.Notifier.Concurrency,
			ChunkSize:    cfg.Notifier.ChunkSize,
			ChunkPause:   cfg.Notifier.ChunkPause,
			EmailEnabled: cfg.Feature.EnableEmail,
		},
	)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.HealthProbes = []core.HealthProbe{
		core.PoolProbe{ProbeName: "database", Pinger: pool},
	}

	prefHandler := handlers.NewPreferenceHandler(prefRepo, logger)
	notifHandler := handlers.NewNotificationHandler(
		queueRepo, ledgerRepo, userRepo, renderer, provider, logger,
	)
	jobHandler := handlers.NewJobHandler(processor, clock, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, prefHandler.Mount, notifHandler.Mount)
	srv.InternalRouteRegistrars = append(srv.InternalRouteRegistrars, jobHandler.Mount)

	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// newEmailProvider returns the configured outbound email provider: SendGrid in
// production, the in-memory stub in test mode or when another provider name is
// configured.
func newEmailProvider(cfg *config.Config, logger types.Logger) external.EmailProvider {
	if cfg.IsTestMode || cfg.Email.Provider != "sendgrid" {
		logger.Warn("using stub email provider",
			"provider", cfg.Email.Provider,
			"test_mode", cfg.IsTestMode,
		)
		return external.NewStubEmailProvider(logger)
	}

	return external.NewSendGridClient(
		&http.Client{Timeout: 10 * time.Second},
		external.SendGridClientConfig{
			APIKey:      cfg.Email.SendGridAPIKey,
			FromAddress: cfg.Email.FromAddress,
			FromName:    cfg.Email.FromName,
			ReplyTo:     cfg.Email.ReplyTo,
			Logger:      logger,
		},
	)
}

// newMetrics builds the CloudWatch metrics recorder, or a no-op one when
// metrics are disabled.
func newMetrics(cfg *config.Config, logger types.Logger) (notifcore.NotificationMetrics, error) {
	if !cfg.Observability.EnableMetrics {
		return notifcore.NoopMetrics{}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.AWS.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS SDK config: %w", err)
	}

	client := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	return notifcore.NewCloudWatchNotificationMetrics(
		client, cfg.Observability.MetricNamespace, logger,
	), nil
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}
