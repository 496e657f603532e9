// Package queue provides the SQS-based producer for poll lifecycle events.
// The poll CRUD layer publishes a PollCreatedMessage here; the poll-events
// worker consumes it and hands it to the scheduler.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"polly/internal/config"
	"polly/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// PollEventPublisher serializes poll lifecycle events and sends them to the
// poll-events SQS queue. Delivery is at-least-once; consumers rely on the
// notification queue's dedup key for idempotency.
type PollEventPublisher struct {
	client   SQSSender
	queueURL string
	logger   types.Logger
}

// NewPollEventPublisher creates a publisher targeting the poll-events queue
// from the AWS configuration.
func NewPollEventPublisher(client SQSSender, awsCfg config.AWSConfig, logger types.Logger) *PollEventPublisher {
	return &PollEventPublisher{
		client:   client,
		queueURL: awsCfg.PollEventsQueue,
		logger:   logger,
	}
}

// PublishPollCreated sends a poll-created event. A trace ID is generated when
// the message does not already carry one so the consumer side can correlate
// its logs with the producer's.
func (p *PollEventPublisher) PublishPollCreated(ctx context.Context, msg types.PollCreatedMessage) error {
	if msg.TraceID == "" {
		msg.TraceID = uuid.NewString()
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal PollCreatedMessage: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String("poll_created"),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send PollCreatedMessage to %s: %w", p.queueURL, err)
	}

	p.logger.Info("poll-created event published",
		"queue_url", p.queueURL,
		"poll_id", msg.PollID,
		"creator_id", msg.CreatorID,
		"trace_id", msg.TraceID,
	)

	return nil
}
