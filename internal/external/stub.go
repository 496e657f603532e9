package external

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"polly/internal/types"
)

// StubEmailProvider implements EmailProvider without contacting any external
// service. Used in local development and tests. Sent messages are retained in
// memory for inspection.
type StubEmailProvider struct {
	logger types.Logger

	mu   sync.Mutex
	sent []types.EmailMessage
}

var _ EmailProvider = (*StubEmailProvider)(nil)

// NewStubEmailProvider creates a StubEmailProvider.
func NewStubEmailProvider(logger types.Logger) *StubEmailProvider {
	return &StubEmailProvider{logger: logger}
}

// Send records the message and returns a synthetic provider message ID.
func (p *StubEmailProvider) Send(_ context.Context, msg types.EmailMessage) (string, error) {
	p.mu.Lock()
	p.sent = append(p.sent, msg)
	p.mu.Unlock()

	id := fmt.Sprintf("stub-%s", uuid.NewString())
	p.logger.Info("stub email send",
		"to", msg.To,
		"subject", msg.Subject,
		"provider_message_id", id,
	)
	return id, nil
}

// Sent returns a copy of all messages recorded so far.
func (p *StubEmailProvider) Sent() []types.EmailMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.EmailMessage, len(p.sent))
	copy(out, p.sent)
	return out
}
