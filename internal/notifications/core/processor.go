package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"polly/internal/types"
)

// ProcessorConfig holds the delivery worker tuning parameters.
type ProcessorConfig struct {
	// Concurrency bounds the number of entries dispatched in parallel.
	Concurrency int
	// ChunkSize and ChunkPause throttle provider traffic within a batch.
	ChunkSize  int
	ChunkPause time.Duration
	// EmailEnabled is the global kill switch. When off, claimed entries are
	// cancelled instead of sent.
	EmailEnabled bool
}

// Processor drains due entries from the notification queue: claim, re-gate
// against current preferences, defer past quiet hours, render, send, record.
//
// Failure isolation is per entry. One bad recipient or provider rejection
// never aborts the batch; only a failure to claim (the queue itself being
// unreachable) propagates as an error.
type Processor struct {
	queue    QueueStore
	ledger   LedgerStore
	prefs    PreferenceStore
	users    UserDirectory
	renderer Renderer
	sender   EmailSender
	policy   *PolicyEngine
	metrics  NotificationMetrics
	logger   types.Logger
	cfg      ProcessorConfig
}

// NewProcessor wires a delivery processor. metrics may be nil, in which case
// a no-op recorder is used.
func NewProcessor(
	queue QueueStore,
	ledger LedgerStore,
	prefs PreferenceStore,
	users UserDirectory,
	renderer Renderer,
	sender EmailSender,
	policy *PolicyEngine,
	metrics NotificationMetrics,
	logger types.Logger,
	cfg ProcessorConfig,
) *Processor {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 25
	}
	return &Processor{
		queue:    queue,
		ledger:   ledger,
		prefs:    prefs,
		users:    users,
		renderer: renderer,
		sender:   sender,
		policy:   policy,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
	}
}

// RunBatch claims up to limit due entries as of now and dispatches them.
// Safe to invoke concurrently: the atomic claim guarantees two runs never
// process the same entry. Returns the outcome summary; the error is non-nil
// only when the claim itself fails.
func (p *Processor) RunBatch(ctx context.Context, now time.Time, limit int) (BatchResult, error) {
	entries, err := p.queue.ClaimDueBatch(ctx, now, limit)
	if err != nil {
		return BatchResult{}, fmt.Errorf("claim due batch: %w", err)
	}

	result := BatchResult{Claimed: len(entries)}
	if len(entries) == 0 {
		return result, nil
	}

	for _, e := range entries {
		p.metrics.RecordQueueLag(ctx, now.Sub(e.ScheduledFor))
	}

	var mu sync.Mutex
	record := func(outcome MetricResult) {
		mu.Lock()
		switch outcome {
		case MetricSent:
			result.Sent++
		case MetricFailed:
			result.Failed++
		case MetricSkipped:
			result.Skipped++
		}
		mu.Unlock()
	}

	// Chunked dispatch: each chunk runs with bounded parallelism, with a
	// pause between chunks to stay under provider rate limits.
	for start := 0; start < len(entries); start += p.cfg.ChunkSize {
		end := start + p.cfg.ChunkSize
		if end > len(entries) {
			end = len(entries)
		}
		chunk := entries[start:end]

		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(p.cfg.Concurrency)

		for _, entry := range chunk {
			entry := entry
			g.Go(func() error {
				outcome := p.processEntry(gCtx, entry, now)
				record(outcome)
				// Entry failures are isolated; never propagate to the group.
				return nil
			})
		}
		_ = g.Wait()

		if end < len(entries) && p.cfg.ChunkPause > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(p.cfg.ChunkPause):
			}
		}
	}

	p.logger.Info("notification batch complete",
		"claimed", result.Claimed,
		"sent", result.Sent,
		"failed", result.Failed,
		"skipped", result.Skipped,
	)
	return result, nil
}

// processEntry runs the per-entry state machine and returns the outcome
// bucket. Every exit path finalizes the claimed entry; entries are never left
// in 'processing' except on a crash (the stuck-entry sweep covers that).
func (p *Processor) processEntry(ctx context.Context, entry *types.QueueEntry, now time.Time) MetricResult {
	started := time.Now()
	log := p.logger.With(
		"entry_id", entry.ID,
		"user_id", entry.UserID,
		"notification_type", string(entry.Type),
	)

	// Dispatch-time preference re-check. Scheduling-time gating is only a
	// snapshot; the user may have opted out since.
	prefs, _, err := p.prefs.Get(ctx, entry.UserID)
	if err != nil {
		log.Error("failed to load preferences", "error", err.Error())
		return p.fail(ctx, entry, now, nil, "preference lookup failed")
	}

	if !prefs.EmailEnabled || !prefs.TypeEnabled(entry.Type) {
		if err := p.queue.MarkCancelled(ctx, entry.ID, now); err != nil {
			log.Error("failed to cancel entry", "error", err.Error())
		} else {
			log.Info("entry cancelled by preferences")
		}
		p.metrics.RecordDelivery(ctx, entry.Type, MetricSkipped)
		return MetricSkipped
	}

	// Quiet hours: push the entry back to the earliest deliverable instant.
	if p.policy.InQuietHours(prefs, now) {
		resumeAt := p.policy.NextDeliveryTime(prefs, now)
		if err := p.queue.Reschedule(ctx, entry.ID, resumeAt); err != nil {
			log.Error("failed to reschedule entry", "error", err.Error())
		} else {
			log.Info("entry deferred past quiet hours", "resume_at", resumeAt.Format(time.RFC3339))
		}
		p.metrics.RecordDelivery(ctx, entry.Type, MetricSkipped)
		return MetricSkipped
	}

	if !p.cfg.EmailEnabled {
		if err := p.queue.MarkCancelled(ctx, entry.ID, now); err != nil {
			log.Error("failed to cancel entry", "error", err.Error())
		} else {
			log.Warn("entry cancelled: email delivery disabled by feature flag")
		}
		p.metrics.RecordDelivery(ctx, entry.Type, MetricSkipped)
		return MetricSkipped
	}

	// Recipient identity resolves at dispatch time. A vanished user is a
	// permanent failure; there is no address to retry against.
	user, err := p.users.GetByID(ctx, entry.UserID)
	if err != nil {
		log.Warn("recipient not resolvable", "error", err.Error())
		return p.fail(ctx, entry, now, nil, "recipient not found")
	}

	// The recipient's timezone rides along so the renderer can localize
	// timestamps in the body.
	data := entry.TemplateData.Merge(types.TemplateData{
		"user_name":  user.DisplayName,
		"user_email": user.Email,
		"timezone":   prefs.Timezone,
	})

	rendered, err := p.renderer.Render(entry.Type, data)
	if err != nil {
		log.Error("template render failed", "error", err.Error())
		return p.fail(ctx, entry, now, user, "template render failed: "+err.Error())
	}

	providerID, sendErr := p.sender.Send(ctx, types.EmailMessage{
		To:      user.Email,
		ToName:  user.DisplayName,
		Subject: rendered.Subject,
		HTML:    rendered.HTML,
	})

	ledgerRow := &types.EmailNotification{
		UserID:       entry.UserID,
		PollID:       entry.PollID,
		Type:         entry.Type,
		EmailAddress: user.Email,
		Subject:      rendered.Subject,
		TemplateName: rendered.TemplateName,
		TemplateData: data,
	}

	if sendErr != nil {
		ledgerRow.Status = types.LedgerStatusFailed
		ledgerRow.FailedAt = now
		ledgerRow.FailureReason = sendErr.Error()
		if err := p.ledger.Create(ctx, ledgerRow); err != nil {
			log.Error("failed to record failed attempt", "error", err.Error())
		}
		if err := p.queue.MarkFailed(ctx, entry.ID, now); err != nil {
			log.Error("failed to finalize entry as failed", "error", err.Error())
		}
		log.Warn("delivery failed", "error", sendErr.Error())
		p.metrics.RecordDelivery(ctx, entry.Type, MetricFailed)
		p.metrics.RecordLatency(ctx, entry.Type, time.Since(started))
		return MetricFailed
	}

	ledgerRow.Status = types.LedgerStatusSent
	ledgerRow.SentAt = now
	ledgerRow.ProviderMessageID = providerID
	if err := p.ledger.Create(ctx, ledgerRow); err != nil {
		// The email is out; the queue entry still finalizes as sent so a
		// later run cannot double-send. The ledger gap is logged loudly.
		log.Error("email sent but ledger write failed", "error", err.Error(), "provider_message_id", providerID)
	}
	if err := p.queue.MarkSent(ctx, entry.ID, now); err != nil {
		log.Error("failed to finalize entry as sent", "error", err.Error())
	}

	log.Info("notification delivered", "provider_message_id", providerID)
	p.metrics.RecordDelivery(ctx, entry.Type, MetricSent)
	p.metrics.RecordLatency(ctx, entry.Type, time.Since(started))
	return MetricSent
}

// fail finalizes an entry as permanently failed and writes a ledger row with
// the reason. user may be nil when identity never resolved; the ledger row
// then carries no address.
func (p *Processor) fail(ctx context.Context, entry *types.QueueEntry, now time.Time, user *types.User, reason string) MetricResult {
	row := &types.EmailNotification{
		UserID:        entry.UserID,
		PollID:        entry.PollID,
		Type:          entry.Type,
		TemplateData:  entry.TemplateData,
		Status:        types.LedgerStatusFailed,
		FailedAt:      now,
		FailureReason: reason,
	}
	if user != nil {
		row.EmailAddress = user.Email
	}
	if err := p.ledger.Create(ctx, row); err != nil {
		p.logger.Error("failed to record failed attempt",
			"entry_id", entry.ID, "error", err.Error())
	}
	if err := p.queue.MarkFailed(ctx, entry.ID, now); err != nil {
		p.logger.Error("failed to finalize entry as failed",
			"entry_id", entry.ID, "error", err.Error())
	}
	p.metrics.RecordDelivery(ctx, entry.Type, MetricFailed)
	return MetricFailed
}
