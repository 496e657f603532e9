// Package main is an operator CLI that publishes a poll-created event to the
// poll-events SQS queue. The production producer is the poll CRUD service;
// this tool covers local development, smoke tests against a deployed queue,
// and manual backfills when an event was lost upstream.
//
// Usage:
//
//	publish-poll-event -poll poll_123 -creator user_1 -question "Lunch spot?" \
//	    -end 2026-03-12T18:00:00Z
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"polly/internal/config"
	"polly/internal/core"
	"polly/internal/queue"
	"polly/internal/types"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("publish-poll-event", flag.ContinueOnError)
	pollID := fs.String("poll", "", "poll ID (required)")
	creatorID := fs.String("creator", "", "creator user ID (required)")
	question := fs.String("question", "", "poll question")
	options := fs.String("options", "", "comma-separated poll options")
	end := fs.String("end", "", "poll end time, RFC3339 (omit for open-ended polls)")
	traceID := fs.String("trace", "", "trace ID (generated when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	msg, err := buildMessage(*pollID, *creatorID, *question, *options, *end, *traceID, time.Now().UTC())
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := core.NewLogger(cfg.LogLevel, cfg.Service, cfg.Environment)
	typedLogger := core.NewLoggerAdapter(logger)

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.AWS.Region),
	)
	if err != nil {
		return fmt.Errorf("loading AWS SDK config: %w", err)
	}
	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	publisher := queue.NewPollEventPublisher(client, cfg.AWS, typedLogger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := publisher.PublishPollCreated(ctx, msg); err != nil {
		return fmt.Errorf("publishing poll-created event: %w", err)
	}
	return nil
}

// buildMessage validates the flag inputs and assembles the event payload.
func buildMessage(pollID, creatorID, question, options, end, traceID string, now time.Time) (types.PollCreatedMessage, error) {
	if pollID == "" {
		return types.PollCreatedMessage{}, fmt.Errorf("-poll is required")
	}
	if creatorID == "" {
		return types.PollCreatedMessage{}, fmt.Errorf("-creator is required")
	}

	msg := types.PollCreatedMessage{
		PollID:    pollID,
		Question:  question,
		CreatorID: creatorID,
		CreatedAt: now,
		TraceID:   traceID,
	}

	if options != "" {
		for _, opt := range strings.Split(options, ",") {
			if opt = strings.TrimSpace(opt); opt != "" {
				msg.Options = append(msg.Options, opt)
			}
		}
	}

	if end != "" {
		endTime, err := time.Parse(time.RFC3339, end)
		if err != nil {
			return types.PollCreatedMessage{}, fmt.Errorf("parsing -end: %w", err)
		}
		endTime = endTime.UTC()
		msg.EndTime = &endTime
	}

	return msg, nil
}
