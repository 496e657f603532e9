package external

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"polly/internal/types"
)

func newTestSendGridClient(t *testing.T, serverURL string) *SendGridClient {
	t.Helper()
	base := NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		"test-sendgrid",
		RetryPolicy{
			MaxRetries: 0, // No retries in tests for deterministic behavior
			MinWait:    1 * time.Millisecond,
			MaxWait:    10 * time.Millisecond,
		},
		"Polly-Test/1.0",
		WithSleepFunc(noopSleep),
	)

	return NewSendGridClientWithBase(base, SendGridClientConfig{
		APIKey:      "SG.test_api_key",
		FromAddress: "notifications@polly.app",
		FromName:    "Polly",
		ReplyTo:     "support@polly.app",
		BaseURL:     serverURL,
	})
}

func testEmailMessage() types.EmailMessage {
	return types.EmailMessage{
		To:      "voter@example.com",
		ToName:  "Ada",
		Subject: "Poll closing in 1 hour",
		HTML:    "<h1>Last chance to vote</h1>",
	}
}

func TestSendGridSend_Success(t *testing.T) {
	var receivedPayload sendGridMailPayload
	var receivedAuth, receivedContentType string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/v3/mail/send" {
			t.Errorf("expected path /v3/mail/send, got %s", r.URL.Path)
		}

		receivedAuth = r.Header.Get("Authorization")
		receivedContentType = r.Header.Get("Content-Type")

		if err := json.NewDecoder(r.Body).Decode(&receivedPayload); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}

		w.Header().Set("X-Message-Id", "sg_msg_abc123")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := newTestSendGridClient(t, server.URL)

	msgID, err := client.Send(context.Background(), testEmailMessage())
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if msgID != "sg_msg_abc123" {
		t.Errorf("expected message ID sg_msg_abc123, got %s", msgID)
	}

	if receivedAuth != "Bearer SG.test_api_key" {
		t.Errorf("expected Bearer SG.test_api_key, got %s", receivedAuth)
	}
	if receivedContentType != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", receivedContentType)
	}

	if len(receivedPayload.Personalizations) != 1 {
		t.Fatalf("expected 1 personalization, got %d", len(receivedPayload.Personalizations))
	}
	to := receivedPayload.Personalizations[0].To
	if len(to) != 1 || to[0].Email != "voter@example.com" || to[0].Name != "Ada" {
		t.Errorf("unexpected to addresses: %+v", to)
	}

	if receivedPayload.From.Email != "notifications@polly.app" || receivedPayload.From.Name != "Polly" {
		t.Errorf("unexpected from address: %+v", receivedPayload.From)
	}
	if receivedPayload.ReplyTo == nil || receivedPayload.ReplyTo.Email != "support@polly.app" {
		t.Errorf("unexpected reply_to: %+v", receivedPayload.ReplyTo)
	}
	if receivedPayload.Subject != "Poll closing in 1 hour" {
		t.Errorf("unexpected subject: %s", receivedPayload.Subject)
	}

	if len(receivedPayload.Content) != 1 {
		t.Fatalf("expected 1 content part, got %d", len(receivedPayload.Content))
	}
	if receivedPayload.Content[0].Type != "text/html" {
		t.Errorf("expected content type text/html, got %s", receivedPayload.Content[0].Type)
	}
	if receivedPayload.Content[0].Value != "<h1>Last chance to vote</h1>" {
		t.Errorf("unexpected content value: %s", receivedPayload.Content[0].Value)
	}
}

func TestSendGridSend_NoReplyToOmitsField(t *testing.T) {
	var receivedPayload sendGridMailPayload

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&receivedPayload)
		w.Header().Set("X-Message-Id", "sg_msg_noreply")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	base := NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		"test-sendgrid-noreply",
		RetryPolicy{MaxRetries: 0, MinWait: time.Millisecond, MaxWait: 10 * time.Millisecond},
		"Polly-Test/1.0",
		WithSleepFunc(noopSleep),
	)
	client := NewSendGridClientWithBase(base, SendGridClientConfig{
		APIKey:      "SG.test_api_key",
		FromAddress: "notifications@polly.app",
		BaseURL:     server.URL,
	})

	if _, err := client.Send(context.Background(), testEmailMessage()); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if receivedPayload.ReplyTo != nil {
		t.Errorf("expected reply_to to be omitted, got %+v", receivedPayload.ReplyTo)
	}
}

func TestSendGridSend_ForbiddenMapsToEmailBlocked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]any{
			"errors": []map[string]any{
				{"message": "recipient address is on a suppression list"},
			},
		})
	}))
	defer server.Close()

	client := newTestSendGridClient(t, server.URL)

	_, err := client.Send(context.Background(), testEmailMessage())
	if err == nil {
		t.Fatal("expected error for 403, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeEmailBlocked {
		t.Errorf("expected error code %s, got %s", types.ErrCodeEmailBlocked, appErr.Code)
	}
}

func TestSendGridSend_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestSendGridClient(t, server.URL)

	_, err := client.Send(context.Background(), testEmailMessage())
	if err == nil {
		t.Fatal("expected error for 429, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T: %v", err, err)
	}
	// BaseClient maps 429 to rate-limited after retry exhaustion.
	if appErr.Code != types.ErrCodeUpstreamRateLimited {
		t.Errorf("expected error code %s, got %s", types.ErrCodeUpstreamRateLimited, appErr.Code)
	}
}

func TestSendGridSend_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestSendGridClient(t, server.URL)

	_, err := client.Send(context.Background(), testEmailMessage())
	if err == nil {
		t.Fatal("expected error for 500, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeUpstreamUnavailable {
		t.Errorf("expected error code %s, got %s", types.ErrCodeUpstreamUnavailable, appErr.Code)
	}
}

func TestSendGridSend_BadRequestCarriesProviderMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"errors": []map[string]any{
				{"message": "the subject is required", "field": "subject"},
			},
		})
	}))
	defer server.Close()

	client := newTestSendGridClient(t, server.URL)

	_, err := client.Send(context.Background(), testEmailMessage())
	if err == nil {
		t.Fatal("expected error for 400, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeUpstreamEmail {
		t.Errorf("expected error code %s, got %s", types.ErrCodeUpstreamEmail, appErr.Code)
	}
	if !strings.Contains(appErr.Message, "the subject is required") {
		t.Errorf("expected provider message in error, got %q", appErr.Message)
	}
}

func TestSendGridSend_NonJSONErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("Bad Request - not JSON"))
	}))
	defer server.Close()

	client := newTestSendGridClient(t, server.URL)

	_, err := client.Send(context.Background(), testEmailMessage())
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T: %v", err, err)
	}
	if appErr.Code != types.ErrCodeUpstreamEmail {
		t.Errorf("expected error code %s, got %s", types.ErrCodeUpstreamEmail, appErr.Code)
	}
}
