// Package main is the entrypoint for the poll-events Lambda function.
//
// It consumes PollCreatedMessage payloads from the poll-events SQS queue and
// hands them to the scheduler, which fans out notification queue entries.
// Delivery is at-least-once; the scheduler is idempotent per (user, poll,
// type), so redelivered messages are harmless.
//
// Lambda SQS integration uses partial batch responses: messages that fail
// processing are returned in batchItemFailures so SQS retries only those.
//
// In local mode (APP_ENV=local) the handler reads one JSON SQS event from
// stdin instead of starting the Lambda runtime:
//
//	echo '{"Records":[{"messageId":"1","body":"{...}"}]}' | go run ./cmd/poll-events
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"polly/internal/config"
	"polly/internal/core"
	"polly/internal/db"
	"polly/internal/scheduler"
	"polly/internal/types"
)

// PollScheduler is the subset of the scheduler the handler drives.
type PollScheduler interface {
	OnPollCreated(ctx context.Context, poll types.Poll) (int, error)
	ScheduleNewPollAnnouncements(ctx context.Context, poll types.Poll) (int, error)
}

// Handler holds the dependencies for the poll-events Lambda handler.
type Handler struct {
	scheduler PollScheduler
	logger    types.Logger
}

// Handle processes an SQS event containing one or more poll-created messages.
// Each message is processed independently; failures are reported per item.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processMessage(ctx, record); err != nil {
			h.logger.Error("failed to process SQS message",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

// processMessage schedules notifications for a single poll-created event.
func (h *Handler) processMessage(ctx context.Context, record events.SQSMessage) error {
	var msg types.PollCreatedMessage
	if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
		h.logger.Error("failed to unmarshal poll-created message",
			"message_id", record.MessageId,
			"error", err.Error(),
		)
		// Permanent parse failure: ACK instead of poisoning the queue.
		return nil
	}
	if msg.PollID == "" {
		h.logger.Error("poll-created message missing poll_id",
			"message_id", record.MessageId,
		)
		return nil
	}

	if msg.TraceID != "" {
		ctx = types.WithRequestID(ctx, msg.TraceID)
	}

	logger := h.logger.With(
		"poll_id", msg.PollID,
		"creator_id", msg.CreatorID,
		"trace_id", msg.TraceID,
	)
	logger.Info("processing poll-created event")

	poll := msg.Poll()

	deadline, err := h.scheduler.OnPollCreated(ctx, poll)
	if err != nil {
		return fmt.Errorf("scheduling deadline notifications: %w", err)
	}

	announcements, err := h.scheduler.ScheduleNewPollAnnouncements(ctx, poll)
	if err != nil {
		return fmt.Errorf("scheduling new-poll announcements: %w", err)
	}

	logger.Info("poll-created event processed",
		"deadline_entries", deadline,
		"announcement_entries", announcements,
	)

	return nil
}

func main() {
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger := core.NewLogger(cfg.LogLevel, cfg.Service, cfg.Environment)
	typedLogger := core.NewLoggerAdapter(logger)
	logger.Info("poll-events worker initializing (cold start)",
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
	pollRepo := db.NewPollRepository(pool)

	sched := scheduler.NewScheduler(queueRepo, prefRepo, pollRepo, clock, typedLogger)

	handler := &Handler{scheduler: sched, logger: typedLogger}

	logger.Info("poll-events worker initialized")

	// Local mode: read one SQS event from stdin and exit.
	if cfg.Environment == "local" {
		logger.Info("APP_ENV=local: reading SQS event from stdin")
		payload, err := io.ReadAll(os.Stdin)
		if err != nil {
			logger.Error("failed to read stdin", "error", err)
			os.Exit(1)
		}
		if len(payload) == 0 {
			logger.Error("no input received on stdin")
			os.Exit(1)
		}
		var sqsEvent events.SQSEvent
		if err := json.Unmarshal(payload, &sqsEvent); err != nil {
			logger.Error("failed to parse stdin as SQS event", "error", err)
			os.Exit(1)
		}

		response, err := handler.Handle(context.Background(), sqsEvent)
		pool.Close()
		if err != nil {
			logger.Error("handler execution failed", "error", err)
			os.Exit(1)
		}
		if len(response.BatchItemFailures) > 0 {
			respJSON, _ := json.MarshalIndent(response, "", "  ")
			fmt.Fprintln(os.Stderr, string(respJSON))
			os.Exit(1)
		}
		logger.Info("handler execution completed",
			"records_processed", len(sqsEvent.Records),
		)
		return
	}

	lambda.Start(handler.Handle)
}
