package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"polly/internal/types"
)

type nopLogger struct{}

func (l *nopLogger) Info(msg string, args ...any)  {}
func (l *nopLogger) Error(msg string, args ...any) {}
func (l *nopLogger) Warn(msg string, args ...any)  {}
func (l *nopLogger) With(args ...any) types.Logger { return l }

type fakeScheduler struct {
	createdErr     error
	announceErr    error
	polls          []types.Poll
	lastCtx        context.Context
	announcedPolls []types.Poll
}

func (s *fakeScheduler) OnPollCreated(ctx context.Context, poll types.Poll) (int, error) {
	s.lastCtx = ctx
	s.polls = append(s.polls, poll)
	if s.createdErr != nil {
		return 0, s.createdErr
	}
	return 3, nil
}

func (s *fakeScheduler) ScheduleNewPollAnnouncements(ctx context.Context, poll types.Poll) (int, error) {
	s.announcedPolls = append(s.announcedPolls, poll)
	if s.announceErr != nil {
		return 0, s.announceErr
	}
	return 5, nil
}

func sqsRecord(messageID, body string) events.SQSMessage {
	return events.SQSMessage{MessageId: messageID, Body: body}
}

func pollCreatedBody(t *testing.T, msg types.PollCreatedMessage) string {
	t.Helper()
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshaling message: %v", err)
	}
	return string(raw)
}

func TestHandle_SchedulesBothPhases(t *testing.T) {
	sched := &fakeScheduler{}
	h := &Handler{scheduler: sched, logger: &nopLogger{}}

	endTime := time.Date(2026, 3, 12, 18, 0, 0, 0, time.UTC)
	body := pollCreatedBody(t, types.PollCreatedMessage{
		PollID:    "poll_1",
		Question:  "Where to eat?",
		CreatorID: "user_1",
		EndTime:   &endTime,
	})

	resp, err := h.Handle(context.Background(), events.SQSEvent{
		Records: []events.SQSMessage{sqsRecord("msg-1", body)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.BatchItemFailures) != 0 {
		t.Errorf("no failures expected, got %+v", resp.BatchItemFailures)
	}

	if len(sched.polls) != 1 || sched.polls[0].ID != "poll_1" {
		t.Fatalf("deadline scheduling calls = %+v", sched.polls)
	}
	if !sched.polls[0].EndTime.Equal(endTime) {
		t.Errorf("poll end time not carried: %v", sched.polls[0].EndTime)
	}
	if len(sched.announcedPolls) != 1 {
		t.Errorf("announcement scheduling calls = %d", len(sched.announcedPolls))
	}
}

func TestHandle_SchedulingFailureReportedPerItem(t *testing.T) {
	sched := &fakeScheduler{createdErr: errors.New("db down")}
	h := &Handler{scheduler: sched, logger: &nopLogger{}}

	good := pollCreatedBody(t, types.PollCreatedMessage{PollID: "poll_ok", CreatorID: "u1"})
	bad := pollCreatedBody(t, types.PollCreatedMessage{PollID: "poll_fail", CreatorID: "u2"})

	resp, err := h.Handle(context.Background(), events.SQSEvent{
		Records: []events.SQSMessage{
			sqsRecord("msg-1", good),
			sqsRecord("msg-2", bad),
		},
	})
	if err != nil {
		t.Fatalf("handler must not fail the whole batch: %v", err)
	}

	// Every record fails here because the scheduler fails unconditionally.
	if len(resp.BatchItemFailures) != 2 {
		t.Fatalf("failures = %+v", resp.BatchItemFailures)
	}
	if resp.BatchItemFailures[0].ItemIdentifier != "msg-1" {
		t.Errorf("failure identifier = %q", resp.BatchItemFailures[0].ItemIdentifier)
	}
}

func TestHandle_PartialBatchFailure(t *testing.T) {
	sched := &fakeScheduler{}
	h := &Handler{scheduler: sched, logger: &nopLogger{}}

	good := pollCreatedBody(t, types.PollCreatedMessage{PollID: "poll_1", CreatorID: "u1"})

	resp, err := h.Handle(context.Background(), events.SQSEvent{
		Records: []events.SQSMessage{
			sqsRecord("msg-1", good),
			sqsRecord("msg-2", `{"broken`),
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Malformed JSON is a permanent failure and must be ACKed, not retried.
	if len(resp.BatchItemFailures) != 0 {
		t.Errorf("parse failures must not be retried, got %+v", resp.BatchItemFailures)
	}
	if len(sched.polls) != 1 {
		t.Errorf("only the valid record should reach the scheduler, got %d calls", len(sched.polls))
	}
}

func TestHandle_MissingPollIDAcked(t *testing.T) {
	sched := &fakeScheduler{}
	h := &Handler{scheduler: sched, logger: &nopLogger{}}

	body := pollCreatedBody(t, types.PollCreatedMessage{CreatorID: "u1"})
	resp, err := h.Handle(context.Background(), events.SQSEvent{
		Records: []events.SQSMessage{sqsRecord("msg-1", body)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.BatchItemFailures) != 0 {
		t.Errorf("missing poll_id must be ACKed, got %+v", resp.BatchItemFailures)
	}
	if len(sched.polls) != 0 {
		t.Error("scheduler must not be called for invalid messages")
	}
}

func TestHandle_PropagatesTraceID(t *testing.T) {
	sched := &fakeScheduler{}
	h := &Handler{scheduler: sched, logger: &nopLogger{}}

	body := pollCreatedBody(t, types.PollCreatedMessage{
		PollID:    "poll_1",
		CreatorID: "u1",
		TraceID:   "trace-abc",
	})
	if _, err := h.Handle(context.Background(), events.SQSEvent{
		Records: []events.SQSMessage{sqsRecord("msg-1", body)},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := types.GetRequestID(sched.lastCtx); got != "trace-abc" {
		t.Errorf("trace ID not propagated to scheduler context, got %q", got)
	}
}

func TestHandle_AnnouncementFailureRetriesMessage(t *testing.T) {
	sched := &fakeScheduler{announceErr: errors.New("enqueue failed")}
	h := &Handler{scheduler: sched, logger: &nopLogger{}}

	body := pollCreatedBody(t, types.PollCreatedMessage{PollID: "poll_1", CreatorID: "u1"})
	resp, err := h.Handle(context.Background(), events.SQSEvent{
		Records: []events.SQSMessage{sqsRecord("msg-1", body)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.BatchItemFailures) != 1 || resp.BatchItemFailures[0].ItemIdentifier != "msg-1" {
		t.Errorf("announcement failure must mark the item for retry, got %+v", resp.BatchItemFailures)
	}
}
