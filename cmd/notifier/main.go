// Package main is the entrypoint for the notifier Lambda function.
//
// The notifier is invoked on a fixed schedule (EventBridge rule, every
// minute). Each invocation acquires a distributed job lock so overlapping
// schedules cannot double-process, sweeps entries stuck in processing back to
// scheduled, then claims and dispatches one batch of due notifications.
//
// Cold start wires the full delivery pipeline: pgx pool, repositories,
// template renderer, email provider, CloudWatch metrics, and the processor.
//
// In local mode (APP_ENV=local) the handler runs once against the current
// time and exits, which makes ad-hoc runs and integration tests trivial.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/google/uuid"

	"polly/internal/config"
	"polly/internal/core"
	"polly/internal/db"
	"polly/internal/external"
	notifcore "polly/internal/notifications/core"
	"polly/internal/notifications/email"
	"polly/internal/types"
)

// stuckThreshold is how long an entry may sit in processing before the sweep
// assumes its worker died and returns it to scheduled.
const stuckThreshold = 30 * time.Minute

// RunPayload is the EventBridge invocation payload. Both fields are optional:
// ReferenceTime overrides "now" for backfills and deterministic runs, Limit
// overrides the configured batch size.
type RunPayload struct {
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
	Limit         int        `json:"limit,omitempty"`
}

// RunReport is the handler's return value, surfaced in Lambda logs.
type RunReport struct {
	Skipped  bool                  `json:"skipped,omitempty"`
	Requeued int64                 `json:"requeued"`
	Batch    notifcore.BatchResult `json:"batch"`
}

// BatchRunner executes one delivery batch.
type BatchRunner interface {
	RunBatch(ctx context.Context, now time.Time, limit int) (notifcore.BatchResult, error)
}

// StuckSweeper returns abandoned processing entries to the schedulable pool.
type StuckSweeper interface {
	RequeueStuck(ctx context.Context, olderThan time.Time) (int64, error)
}

// JobLocker abstracts distributed lock acquisition.
type JobLocker interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
}

// Handler holds the dependencies for the notifier Lambda handler.
type Handler struct {
	Processor BatchRunner
	Sweeper   StuckSweeper
	JobLock   JobLocker
	Clock     types.Clock
	Logger    types.Logger
	WorkerID  string
	BatchSize int
	LockTTL   time.Duration
}

// Handle runs one scheduled delivery cycle.
func (h *Handler) Handle(ctx context.Context, payload RunPayload) (RunReport, error) {
	now := h.Clock.Now()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}

	limit := h.BatchSize
	if payload.Limit > 0 {
		limit = payload.Limit
	}

	log := h.Logger.With("worker_id", h.WorkerID, "reference_time", now.Format(time.RFC3339))

	// One runner per minute-slot; a retry of the same slot is a no-op while
	// the original holds the lock.
	lockID := "notifier:" + now.Truncate(time.Minute).Format("2006-01-02T15:04")
	acquired, err := h.JobLock.Acquire(ctx, lockID, h.WorkerID, h.LockTTL)
	if err != nil {
		return RunReport{}, fmt.Errorf("acquiring job lock %s: %w", lockID, err)
	}
	if !acquired {
		log.Info("job lock held by another worker, skipping run", "lock_id", lockID)
		return RunReport{Skipped: true}, nil
	}

	requeued, err := h.Sweeper.RequeueStuck(ctx, now.Add(-stuckThreshold))
	if err != nil {
		// The sweep failing must not block delivery of due entries.
		log.Error("failed to requeue stuck entries", "error", err)
	} else if requeued > 0 {
		log.Warn("requeued stuck processing entries", "requeued", requeued)
	}

	result, err := h.Processor.RunBatch(ctx, now, limit)
	if err != nil {
		return RunReport{Requeued: requeued}, fmt.Errorf("running delivery batch: %w", err)
	}

	log.Info("delivery cycle complete",
		"claimed", result.Claimed,
		"sent", result.Sent,
		"failed", result.Failed,
		"skipped", result.Skipped,
		"requeued", requeued,
	)

	return RunReport{Requeued: requeued, Batch: result}, nil
}

func main() {
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger := core.NewLogger(cfg.LogLevel, cfg.Service, cfg.Environment)
	typedLogger := core.NewLoggerAdapter(logger)
	logger.Info("notifier initializing (cold start)",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.NewPool(ctx, cfg.Database)
	cancel()
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	clock := types.RealClock{}
	queueRepo := db.NewQueueRepository(pool, clock).WithStaleGrace(cfg.Notifier.StaleGrace)
	prefRepo := db.NewPreferenceRepository(pool)
	ledgerRepo := db.NewLedgerRepository(pool)
	userRepo := db.NewUserRepository(pool)
	lockRepo := db.NewJobLockRepository(pool, clock)

	renderer, err := email.NewRenderer(cfg.Server.AppBaseURL)
	if err != nil {
		logger.Error("failed to initialize template renderer", "error", err)
		os.Exit(1)
	}

	var provider external.EmailProvider
	if cfg.IsTestMode || cfg.Email.Provider != "sendgrid" {
		logger.Warn("using stub email provider", "provider", cfg.Email.Provider)
		provider = external.NewStubEmailProvider(typedLogger)
	} else {
		provider = external.NewSendGridClient(
			&http.Client{Timeout: 10 * time.Second},
			external.SendGridClientConfig{
				APIKey:      cfg.Email.SendGridAPIKey,
				FromAddress: cfg.Email.FromAddress,
				FromName:    cfg.Email.FromName,
				ReplyTo:     cfg.Email.ReplyTo,
				Logger:      typedLogger,
			},
		)
	}

	var metrics notifcore.NotificationMetrics = notifcore.NoopMetrics{}
	if cfg.Observability.EnableMetrics {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.AWS.Region),
		)
		if err != nil {
			logger.Error("failed to load AWS SDK config", "error", err)
			os.Exit(1)
		}
		cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		metrics = notifcore.NewCloudWatchNotificationMetrics(
			cwClient, cfg.Observability.MetricNamespace, typedLogger,
		)
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

	handler := &Handler{
		Processor: processor,
		Sweeper:   queueRepo,
		JobLock:   lockRepo,
		Clock:     clock,
		Logger:    typedLogger,
		WorkerID:  uuid.NewString(),
		BatchSize: cfg.Notifier.BatchSize,
		LockTTL:   cfg.Notifier.LockTTL,
	}

	logger.Info("notifier initialized", "batch_size", cfg.Notifier.BatchSize)

	// Local mode: run a single cycle and exit.
	if cfg.Environment == "local" {
		report, err := handler.Handle(context.Background(), RunPayload{})
		pool.Close()
		if err != nil {
			logger.Error("delivery cycle failed", "error", err)
			os.Exit(1)
		}
		logger.Info("local run complete",
			"claimed", report.Batch.Claimed,
			"sent", report.Batch.Sent,
			"failed", report.Batch.Failed,
			"skipped", report.Batch.Skipped,
		)
		return
	}

	lambda.Start(handler.Handle)
}
