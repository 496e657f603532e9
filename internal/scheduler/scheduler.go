// Package scheduler translates poll lifecycle events into notification queue
// entries. It decides which deadline warnings a poll warrants, resolves the
// recipient set, gates each recipient against their preferences, and enqueues
// one entry per (recipient, poll, type).
//
// Scheduling is idempotent: the queue's natural key on (user_id, poll_id,
// notification_type) makes re-invocation a no-op for entries that already
// exist, so at-least-once event delivery is safe and a later re-run picks up
// voters who joined after the first pass.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"polly/internal/types"
)

// Lead times for deadline warnings. An entry is only scheduled when the poll
// end time leaves room for the full lead; a poll created 30 minutes before
// close gets no warnings, only the close notice.
const (
	ClosingWarning24h = 24 * time.Hour
	ClosingWarning1h  = time.Hour
)

// QueueWriter is the subset of the queue repository the scheduler needs.
type QueueWriter interface {
	Enqueue(ctx context.Context, e *types.QueueEntry) (created bool, err error)
	CancelForPoll(ctx context.Context, pollID string) (int64, error)
}

// PreferenceDirectory resolves notification preferences for recipient gating.
type PreferenceDirectory interface {
	GetMany(ctx context.Context, userIDs []string) (map[string]*types.NotificationPreferences, error)
	ListNewPollSubscribers(ctx context.Context) ([]string, error)
}

// VoterDirectory lists the users who have voted on a poll.
type VoterDirectory interface {
	ListVoterIDs(ctx context.Context, pollID string) ([]string, error)
}

// Scheduler implements event-to-queue scheduling for poll lifecycle events.
type Scheduler struct {
	queue  QueueWriter
	prefs  PreferenceDirectory
	voters VoterDirectory
	clock  types.Clock
	logger types.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(
	queue QueueWriter,
	prefs PreferenceDirectory,
	voters VoterDirectory,
	clock types.Clock,
	logger types.Logger,
) *Scheduler {
	return &Scheduler{
		queue:  queue,
		prefs:  prefs,
		voters: voters,
		clock:  clock,
		logger: logger,
	}
}

// candidate pairs a notification type with its delivery time.
type candidate struct {
	Type         types.NotificationType
	ScheduledFor time.Time
}

// OnPollCreated schedules deadline notifications for a newly created poll:
//
//   - poll_closing_24h at endTime-24h, only when the poll runs longer than 24h
//   - poll_closing_1h at endTime-1h, only when the poll runs longer than 1h
//   - poll_closed at endTime, whenever an end time is set
//
// Recipients are the creator, everyone who has voted so far, and users
// subscribed to new-poll announcements. Each recipient is gated by the master
// email flag and the per-type flag; users with no stored preferences get the
// defaults. The recipient set is a snapshot at invocation time.
//
// Returns the number of entries enqueued (duplicates excluded).
func (s *Scheduler) OnPollCreated(ctx context.Context, poll types.Poll) (int, error) {
	now := s.clock.Now()

	candidates := deadlineCandidates(poll, now)
	if len(candidates) == 0 {
		s.logger.Info("poll has no end time, nothing to schedule", "poll_id", poll.ID)
		return 0, nil
	}

	recipients, err := s.resolveRecipients(ctx, poll)
	if err != nil {
		return 0, err
	}

	prefsByUser, err := s.prefs.GetMany(ctx, recipients)
	if err != nil {
		return 0, fmt.Errorf("load recipient preferences: %w", err)
	}

	enqueued := 0
	for _, userID := range recipients {
		p, ok := prefsByUser[userID]
		if !ok {
			defaults := types.DefaultPreferences(userID)
			p = &defaults
		}
		if !p.EmailEnabled {
			continue
		}

		for _, c := range candidates {
			if !p.TypeEnabled(c.Type) {
				continue
			}

			entry := &types.QueueEntry{
				UserID:       userID,
				PollID:       poll.ID,
				Type:         c.Type,
				ScheduledFor: c.ScheduledFor,
				TemplateData: pollTemplateData(poll),
			}
			created, err := s.queue.Enqueue(ctx, entry)
			if err != nil {
				// One bad entry must not drop the rest of the fan-out.
				s.logger.Error("failed to enqueue notification",
					"poll_id", poll.ID,
					"user_id", userID,
					"notification_type", string(c.Type),
					"error", err,
				)
				continue
			}
			if created {
				enqueued++
			}
		}
	}

	s.logger.Info("poll notifications scheduled",
		"poll_id", poll.ID,
		"recipients", len(recipients),
		"candidates", len(candidates),
		"enqueued", enqueued,
	)

	return enqueued, nil
}

// ScheduleNewPollAnnouncements enqueues an immediate new_poll notification for
// every subscriber, excluding the creator. Gating on the per-type flag is
// implicit: ListNewPollSubscribers only returns users with both the master
// flag and new_poll_notifications enabled.
func (s *Scheduler) ScheduleNewPollAnnouncements(ctx context.Context, poll types.Poll) (int, error) {
	subscribers, err := s.prefs.ListNewPollSubscribers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list new-poll subscribers: %w", err)
	}

	now := s.clock.Now()
	enqueued := 0
	for _, userID := range subscribers {
		if userID == poll.CreatorID {
			continue
		}

		entry := &types.QueueEntry{
			UserID:       userID,
			PollID:       poll.ID,
			Type:         types.NotificationNewPoll,
			ScheduledFor: now,
			TemplateData: pollTemplateData(poll),
		}
		created, err := s.queue.Enqueue(ctx, entry)
		if err != nil {
			s.logger.Error("failed to enqueue new-poll announcement",
				"poll_id", poll.ID,
				"user_id", userID,
				"error", err,
			)
			continue
		}
		if created {
			enqueued++
		}
	}

	s.logger.Info("new-poll announcements scheduled",
		"poll_id", poll.ID,
		"subscribers", len(subscribers),
		"enqueued", enqueued,
	)

	return enqueued, nil
}

// OnPollDeleted cancels every still-pending queue entry for the poll. Entries
// already sent or failed keep their terminal status.
func (s *Scheduler) OnPollDeleted(ctx context.Context, pollID string) (int64, error) {
	cancelled, err := s.queue.CancelForPoll(ctx, pollID)
	if err != nil {
		return 0, fmt.Errorf("cancel queue entries for poll %s: %w", pollID, err)
	}

	s.logger.Info("poll notifications cancelled",
		"poll_id", pollID,
		"cancelled", cancelled,
	)

	return cancelled, nil
}

// resolveRecipients returns the deduplicated recipient set for a poll's
// deadline notifications: the creator, everyone who has voted so far, and
// new-poll subscribers. Order is stable (creator first, then voters, then
// subscribers) so fan-out logs are reproducible.
func (s *Scheduler) resolveRecipients(ctx context.Context, poll types.Poll) ([]string, error) {
	voterIDs, err := s.voters.ListVoterIDs(ctx, poll.ID)
	if err != nil {
		return nil, fmt.Errorf("list voters for poll %s: %w", poll.ID, err)
	}

	subscriberIDs, err := s.prefs.ListNewPollSubscribers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list new-poll subscribers: %w", err)
	}

	seen := make(map[string]struct{}, 1+len(voterIDs)+len(subscriberIDs))
	recipients := make([]string, 0, 1+len(voterIDs)+len(subscriberIDs))
	add := func(id string) {
		if id == "" {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		recipients = append(recipients, id)
	}

	add(poll.CreatorID)
	for _, id := range voterIDs {
		add(id)
	}
	for _, id := range subscriberIDs {
		add(id)
	}

	return recipients, nil
}

// deadlineCandidates returns the deadline notifications a poll warrants given
// its end time and the current instant. A poll with no end time gets none.
func deadlineCandidates(poll types.Poll, now time.Time) []candidate {
	if poll.EndTime.IsZero() {
		return nil
	}

	candidates := make([]candidate, 0, 3)
	if poll.EndTime.After(now.Add(ClosingWarning24h)) {
		candidates = append(candidates, candidate{
			Type:         types.NotificationPollClosing24h,
			ScheduledFor: poll.EndTime.Add(-ClosingWarning24h),
		})
	}
	if poll.EndTime.After(now.Add(ClosingWarning1h)) {
		candidates = append(candidates, candidate{
			Type:         types.NotificationPollClosing1h,
			ScheduledFor: poll.EndTime.Add(-ClosingWarning1h),
		})
	}
	candidates = append(candidates, candidate{
		Type:         types.NotificationPollClosed,
		ScheduledFor: poll.EndTime,
	})
	return candidates
}

// pollTemplateData builds the template payload stored on each queue entry.
// Times are serialized as RFC3339; the renderer formats them for display in
// the recipient's timezone at send time.
func pollTemplateData(poll types.Poll) types.TemplateData {
	data := types.TemplateData{
		"poll_id":         poll.ID,
		"poll_question":   poll.Question,
		"poll_created_at": poll.CreatedAt.UTC().Format(time.RFC3339),
	}
	if !poll.EndTime.IsZero() {
		data["poll_end_time"] = poll.EndTime.UTC().Format(time.RFC3339)
	}
	if len(poll.Options) > 0 {
		data["poll_option_count"] = len(poll.Options)
	}
	return data
}
