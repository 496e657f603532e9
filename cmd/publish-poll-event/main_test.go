package main

import (
	"testing"
	"time"
)

var buildNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func TestBuildMessage_RequiredFlags(t *testing.T) {
	if _, err := buildMessage("", "user_1", "", "", "", "", buildNow); err == nil {
		t.Error("missing poll ID must be rejected")
	}
	if _, err := buildMessage("poll_1", "", "", "", "", "", buildNow); err == nil {
		t.Error("missing creator ID must be rejected")
	}
}

func TestBuildMessage_FullPayload(t *testing.T) {
	msg, err := buildMessage("poll_1", "user_1", "Lunch spot?", "sushi, tacos , ", "2026-03-12T18:00:00Z", "trace-1", buildNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.PollID != "poll_1" || msg.CreatorID != "user_1" || msg.Question != "Lunch spot?" {
		t.Errorf("message = %+v", msg)
	}
	if len(msg.Options) != 2 || msg.Options[0] != "sushi" || msg.Options[1] != "tacos" {
		t.Errorf("options = %v, want trimmed non-empty entries", msg.Options)
	}
	if msg.EndTime == nil || !msg.EndTime.Equal(time.Date(2026, 3, 12, 18, 0, 0, 0, time.UTC)) {
		t.Errorf("end time = %v", msg.EndTime)
	}
	if msg.TraceID != "trace-1" {
		t.Errorf("trace ID = %q", msg.TraceID)
	}
	if !msg.CreatedAt.Equal(buildNow) {
		t.Errorf("created at = %v", msg.CreatedAt)
	}
}

func TestBuildMessage_OpenEndedPoll(t *testing.T) {
	msg, err := buildMessage("poll_1", "user_1", "Favorite color?", "", "", "", buildNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.EndTime != nil {
		t.Errorf("open-ended poll must carry no end time, got %v", msg.EndTime)
	}
}

func TestBuildMessage_BadEndTime(t *testing.T) {
	if _, err := buildMessage("poll_1", "user_1", "", "", "tomorrow", "", buildNow); err == nil {
		t.Error("non-RFC3339 end time must be rejected")
	}
}
