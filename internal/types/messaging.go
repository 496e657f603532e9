package types

import "time"

// PollCreatedMessage is the SQS payload sent from the poll CRUD layer to the
// poll-events worker when a poll is inserted. This struct is the transport
// envelope for the at-least-once delivery of the creation event; the worker
// hands it to the scheduler as an OnPollCreated call.
//
// The reference deployment fires this from a database trigger; any producer
// that guarantees at-least-once delivery is acceptable because scheduling is
// idempotent per (user, poll, type).
type PollCreatedMessage struct {
	PollID    string     `json:"poll_id"`
	Question  string     `json:"question"`
	Options   []string   `json:"options,omitempty"`
	CreatorID string     `json:"creator_id"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	CreatedAt time.Time  `json:"created_at"`

	// Observability
	TraceID string `json:"trace_id"`
}

// EmailMessage is a fully rendered outbound email handed to the provider.
type EmailMessage struct {
	To      string `json:"to"`
	ToName  string `json:"to_name,omitempty"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// RenderedEmail is the output of the template renderer: provider-ready
// subject and body plus the template name recorded on the ledger row.
type RenderedEmail struct {
	TemplateName string
	Subject      string
	HTML         string
}

// Poll converts the transport envelope into the domain Poll entity.
func (m PollCreatedMessage) Poll() Poll {
	p := Poll{
		ID:        m.PollID,
		Question:  m.Question,
		Options:   m.Options,
		CreatorID: m.CreatorID,
		CreatedAt: m.CreatedAt,
	}
	if m.EndTime != nil {
		p.EndTime = *m.EndTime
	}
	return p
}
