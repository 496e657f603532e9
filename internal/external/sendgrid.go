package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"polly/internal/types"
)

// sendGridAPIBase is the default SendGrid API base URL.
// Overridable in tests via SendGridClientConfig.BaseURL.
const sendGridAPIBase = "https://api.sendgrid.com"

// SendGridClientConfig holds the configuration for creating a SendGridClient.
type SendGridClientConfig struct {
	APIKey      types.SecretString
	FromAddress string
	FromName    string
	ReplyTo     string
	BaseURL     string // Override for testing; defaults to sendGridAPIBase
	Logger      types.Logger
}

// SendGridClient implements EmailProvider by making direct HTTP calls to the
// SendGrid v3 Mail Send API through BaseClient. All requests inherit the
// platform's resilience infrastructure (circuit breaker, retries, error
// mapping), and testing with httptest stays straightforward.
type SendGridClient struct {
	base *BaseClient
	cfg  SendGridClientConfig
}

// Compile-time assertion that SendGridClient satisfies EmailProvider.
var _ EmailProvider = (*SendGridClient)(nil)

// NewSendGridClient creates a new SendGridClient. The httpClient timeout
// should be around 10 seconds; SendGrid accepts or rejects quickly.
func NewSendGridClient(httpClient *http.Client, cfg SendGridClientConfig) *SendGridClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = sendGridAPIBase
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	base := NewBaseClient(
		httpClient,
		"sendgrid",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"Polly/1.0",
	)

	return &SendGridClient{base: base, cfg: cfg}
}

// NewSendGridClientWithBase creates a SendGridClient with a pre-configured
// BaseClient. Useful for tests that need to control retry behavior.
func NewSendGridClientWithBase(base *BaseClient, cfg SendGridClientConfig) *SendGridClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = sendGridAPIBase
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &SendGridClient{base: base, cfg: cfg}
}

// Send transmits a rendered email via SendGrid's v3 Mail Send API and returns
// the provider message ID (from the X-Message-Id response header) on success.
//
// Error mapping:
//   - 403 Forbidden -> ErrCodeEmailBlocked (recipient on suppression list)
//   - 429 -> handled by BaseClient (retry + ErrCodeUpstreamRateLimited)
//   - 5xx -> handled by BaseClient (retry + ErrCodeUpstreamUnavailable)
//   - Other 4xx -> ErrCodeUpstreamEmail
func (s *SendGridClient) Send(ctx context.Context, msg types.EmailMessage) (string, error) {
	payload := s.buildMailPayload(msg)

	body, err := json.Marshal(payload)
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to marshal SendGrid mail payload",
			err,
		)
	}

	reqURL := s.cfg.BaseURL + "/v3/mail/send"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create SendGrid mail send request",
			err,
		)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey.Unmask())

	resp, err := s.base.Do(req)
	if err != nil {
		return "", s.wrapTransportError(err)
	}
	defer resp.Body.Close()

	// SendGrid returns 202 Accepted on success.
	if resp.StatusCode == http.StatusAccepted {
		return resp.Header.Get("X-Message-Id"), nil
	}

	return "", s.handleErrorResponse(resp)
}

// sendGridMailPayload is the SendGrid v3 mail/send JSON request body for
// content sends (not dynamic templates; rendering happens in-process).
type sendGridMailPayload struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	ReplyTo          *sendGridAddress          `json:"reply_to,omitempty"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
}

type sendGridPersonalization struct {
	To []sendGridAddress `json:"to"`
}

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func (s *SendGridClient) buildMailPayload(msg types.EmailMessage) sendGridMailPayload {
	payload := sendGridMailPayload{
		Personalizations: []sendGridPersonalization{
			{To: []sendGridAddress{{Email: msg.To, Name: msg.ToName}}},
		},
		From: sendGridAddress{
			Email: s.cfg.FromAddress,
			Name:  s.cfg.FromName,
		},
		Subject: msg.Subject,
		Content: []sendGridContent{
			{Type: "text/html", Value: msg.HTML},
		},
	}
	if s.cfg.ReplyTo != "" {
		payload.ReplyTo = &sendGridAddress{Email: s.cfg.ReplyTo}
	}
	return payload
}

// sendGridErrorResponse is the JSON error body returned by SendGrid.
type sendGridErrorResponse struct {
	Errors []struct {
		Message string `json:"message"`
		Field   string `json:"field"`
		Help    string `json:"help"`
	} `json:"errors"`
}

// handleErrorResponse reads a SendGrid error response and maps it to a
// types.AppError.
func (s *SendGridClient) handleErrorResponse(resp *http.Response) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamEmail,
			fmt.Sprintf("SendGrid returned status %d and response body was unreadable", resp.StatusCode),
			readErr,
		)
	}

	var sgErr sendGridErrorResponse
	errMsg := string(body)
	if jsonErr := json.Unmarshal(body, &sgErr); jsonErr == nil && len(sgErr.Errors) > 0 {
		errMsg = sgErr.Errors[0].Message
	}

	switch {
	case resp.StatusCode == http.StatusForbidden:
		// Recipient is on a suppression list / blocked.
		return types.NewAppError(
			types.ErrCodeEmailBlocked,
			fmt.Sprintf("SendGrid blocked delivery: %s", errMsg),
			nil,
		)
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.NewAppError(
			types.ErrCodeUpstreamRateLimited,
			"SendGrid rate limit exceeded",
			nil,
		)
	case resp.StatusCode >= 500:
		return types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("SendGrid server error: %s", errMsg),
			nil,
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamEmail,
			fmt.Sprintf("SendGrid error (%d): %s", resp.StatusCode, errMsg),
			nil,
		)
	}
}

// wrapTransportError passes through AppErrors from BaseClient (circuit
// breaker, retries exhausted) and wraps anything else.
func (s *SendGridClient) wrapTransportError(err error) error {
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamEmail,
		fmt.Sprintf("SendGrid request failed: %v", err),
		err,
	)
}
