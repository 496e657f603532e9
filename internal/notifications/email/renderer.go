// Package email renders notification emails from embedded templates. Rendering
// happens in-process at dispatch time; the provider receives finished subject
// and HTML, never template IDs.
package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	texttemplate "text/template"

	"polly/internal/types"
)

//go:embed templates/*.html
var templateFS embed.FS

// subjectTemplates maps each notification type to its subject line template.
// Subjects render against the same data map as the body.
var subjectTemplates = map[types.NotificationType]string{
	types.NotificationPollClosing24h:      `24 hours left to vote: {{.poll_question}}`,
	types.NotificationPollClosing1h:       `Last chance - 1 hour left to vote: {{.poll_question}}`,
	types.NotificationPollClosed:          `Poll closed: {{.poll_question}}`,
	types.NotificationNewPoll:             `New poll: {{.poll_question}}`,
	types.NotificationVotingReminder:      `Reminder: cast your vote on "{{.poll_question}}"`,
	types.NotificationResultsAnnouncement: `Results are in: {{.poll_question}}`,
	types.NotificationAdminAnnouncement:   `{{if .subject}}{{.subject}}{{else}}An announcement from Polly{{end}}`,
}

// Renderer is the production implementation of the notification renderer. All
// templates are parsed at construction; a missing or malformed template fails
// startup rather than the first delivery.
type Renderer struct {
	appBaseURL string
	bodies     map[types.NotificationType]*template.Template
	subjects   map[types.NotificationType]*texttemplate.Template
}

// NewRenderer parses the embedded body templates and the subject templates,
// verifying that every notification type is covered.
func NewRenderer(appBaseURL string) (*Renderer, error) {
	r := &Renderer{
		appBaseURL: appBaseURL,
		bodies:     make(map[types.NotificationType]*template.Template),
		subjects:   make(map[types.NotificationType]*texttemplate.Template),
	}

	for _, t := range types.AllNotificationTypes {
		name := string(t) + ".html"
		body, err := template.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("renderer: parse body template %q: %w", name, err)
		}
		r.bodies[t] = body

		subjSrc, ok := subjectTemplates[t]
		if !ok {
			return nil, fmt.Errorf("renderer: no subject template for %q", t)
		}
		subj, err := texttemplate.New(string(t)).Parse(subjSrc)
		if err != nil {
			return nil, fmt.Errorf("renderer: parse subject template %q: %w", t, err)
		}
		r.subjects[t] = subj
	}

	return r, nil
}

// Render produces the provider-ready email for one notification. The data map
// is not mutated; derived fields (poll_url, formatted timestamps) are added to
// a copy.
func (r *Renderer) Render(t types.NotificationType, data types.TemplateData) (*types.RenderedEmail, error) {
	body, ok := r.bodies[t]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidType,
			fmt.Sprintf("unknown notification type %q", t), nil)
	}

	prepared := r.prepare(t, data)

	var subjectBuf bytes.Buffer
	if err := r.subjects[t].Execute(&subjectBuf, map[string]any(prepared)); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalTemplate,
			fmt.Sprintf("failed to render subject for %q", t), err)
	}

	var bodyBuf bytes.Buffer
	if err := body.Execute(&bodyBuf, map[string]any(prepared)); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalTemplate,
			fmt.Sprintf("failed to render body for %q", t), err)
	}

	return &types.RenderedEmail{
		TemplateName: string(t),
		Subject:      subjectBuf.String(),
		HTML:         bodyBuf.String(),
	}, nil
}

// prepare copies the data map and adds derived presentation fields.
func (r *Renderer) prepare(t types.NotificationType, data types.TemplateData) types.TemplateData {
	prepared := make(types.TemplateData, len(data)+4)
	for k, v := range data {
		prepared[k] = v
	}

	loc := resolveTimezone(data)

	if pollID, ok := data["poll_id"].(string); ok && pollID != "" {
		prepared["poll_url"] = fmt.Sprintf("%s/polls/%s", r.appBaseURL, pollID)
	}
	prepared["preferences_url"] = r.appBaseURL + "/settings/notifications"
	prepared["year"] = time.Now().In(loc).Year()

	// Timestamps arrive as RFC3339 strings; templates show local wall clock.
	for _, field := range []string{"poll_end_time", "poll_created_at"} {
		if ts, ok := data[field].(string); ok {
			if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
				prepared[field+"_formatted"] = parsed.In(loc).Format("Mon, Jan 2 at 3:04 PM")
			}
		}
	}

	return prepared
}

// resolveTimezone extracts the "timezone" key from the data map and loads the
// corresponding time.Location. Returns UTC if missing, empty, or invalid.
func resolveTimezone(data types.TemplateData) *time.Location {
	tzStr, ok := data["timezone"].(string)
	if !ok || tzStr == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tzStr)
	if err != nil {
		return time.UTC
	}
	return loc
}
