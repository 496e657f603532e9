package external

import (
	"context"

	"polly/internal/types"
)

// EmailProvider abstracts the outbound email capability. Implementations
// receive a fully rendered message and return the provider's message ID on
// success. Error semantics:
//   - blocked recipient -> ErrCodeEmailBlocked (permanent)
//   - rate limiting -> ErrCodeUpstreamRateLimited
//   - provider outage -> ErrCodeUpstreamUnavailable
//   - other provider rejections -> ErrCodeUpstreamEmail
type EmailProvider interface {
	Send(ctx context.Context, msg types.EmailMessage) (providerMessageID string, err error)
}
