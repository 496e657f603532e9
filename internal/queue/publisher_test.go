package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"polly/internal/config"
	"polly/internal/types"
)

type mockLogger struct{}

func (l *mockLogger) Info(msg string, args ...any)  {}
func (l *mockLogger) Error(msg string, args ...any) {}
func (l *mockLogger) Warn(msg string, args ...any)  {}
func (l *mockLogger) With(args ...any) types.Logger { return l }

type mockSQSSender struct {
	input   *sqs.SendMessageInput
	sendErr error
}

func (m *mockSQSSender) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.input = params
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	return &sqs.SendMessageOutput{}, nil
}

func newTestPublisher(sender *mockSQSSender) *PollEventPublisher {
	return NewPollEventPublisher(sender, config.AWSConfig{
		PollEventsQueue: "https://sqs.us-east-1.amazonaws.com/123/poll-events",
	}, &mockLogger{})
}

func TestPublishPollCreated(t *testing.T) {
	sender := &mockSQSSender{}
	pub := newTestPublisher(sender)

	msg := types.PollCreatedMessage{
		PollID:    "poll_1",
		Question:  "Where to eat?",
		CreatorID: "user_1",
		CreatedAt: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		TraceID:   "trace-1",
	}

	if err := pub.PublishPollCreated(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sender.input == nil {
		t.Fatal("no message sent")
	}
	if got := *sender.input.QueueUrl; got != "https://sqs.us-east-1.amazonaws.com/123/poll-events" {
		t.Errorf("queue URL = %s", got)
	}

	attr, ok := sender.input.MessageAttributes["event_type"]
	if !ok || *attr.StringValue != "poll_created" {
		t.Errorf("event_type attribute = %+v", attr)
	}

	var decoded types.PollCreatedMessage
	if err := json.Unmarshal([]byte(*sender.input.MessageBody), &decoded); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if decoded.PollID != "poll_1" || decoded.TraceID != "trace-1" {
		t.Errorf("decoded message = %+v", decoded)
	}
}

func TestPublishPollCreated_GeneratesTraceID(t *testing.T) {
	sender := &mockSQSSender{}
	pub := newTestPublisher(sender)

	msg := types.PollCreatedMessage{PollID: "poll_1", CreatorID: "user_1"}
	if err := pub.PublishPollCreated(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded types.PollCreatedMessage
	if err := json.Unmarshal([]byte(*sender.input.MessageBody), &decoded); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if decoded.TraceID == "" {
		t.Error("publisher must stamp a trace ID when the message has none")
	}
}

func TestPublishPollCreated_SendFailure(t *testing.T) {
	sender := &mockSQSSender{sendErr: errors.New("throttled")}
	pub := newTestPublisher(sender)

	err := pub.PublishPollCreated(context.Background(), types.PollCreatedMessage{PollID: "poll_1"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, sender.sendErr) {
		t.Errorf("error must wrap the SQS failure, got: %v", err)
	}
}
