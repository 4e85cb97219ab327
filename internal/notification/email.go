package notification

import (
	"bytes"
	"fmt"
	"net/smtp"
	"sort"
	"text/template"
	"time"

	"github.com/smukkama/calmcorners/internal/logging"
	"github.com/smukkama/calmcorners/internal/protocol"
	"github.com/smukkama/calmcorners/pkg/config"
)

// LocationActivity summarizes one location's events in a digest.
type LocationActivity struct {
	LocationID string
	Created    int
	Updated    int
	Deleted    int
	Events     []protocol.ReviewEvent
}

// Digest is the rendered content of one moderator mail.
type Digest struct {
	From      time.Time
	To        time.Time
	Total     int
	Locations []LocationActivity
}

// BuildDigest groups events by location, keeping arrival order within a
// location and ordering locations by id.
func BuildDigest(events []protocol.ReviewEvent) Digest {
	d := Digest{Total: len(events)}
	byLocation := make(map[string]*LocationActivity)

	for _, ev := range events {
		if d.From.IsZero() || ev.OccurredAt.Before(d.From) {
			d.From = ev.OccurredAt
		}
		if ev.OccurredAt.After(d.To) {
			d.To = ev.OccurredAt
		}

		a, ok := byLocation[ev.Review.Location]
		if !ok {
			a = &LocationActivity{LocationID: ev.Review.Location}
			byLocation[ev.Review.Location] = a
		}
		switch ev.Type {
		case protocol.EventReviewCreated:
			a.Created++
		case protocol.EventReviewUpdated:
			a.Updated++
		case protocol.EventReviewDeleted:
			a.Deleted++
		}
		a.Events = append(a.Events, ev)
	}

	for _, a := range byLocation {
		d.Locations = append(d.Locations, *a)
	}
	sort.Slice(d.Locations, func(i, j int) bool {
		return d.Locations[i].LocationID < d.Locations[j].LocationID
	})
	return d
}

var digestTemplate = template.Must(template.New("digest").Parse(`
Review Activity Digest
======================

{{.Total}} review event(s) between {{.From.Format "2006-01-02 15:04 MST"}} and {{.To.Format "2006-01-02 15:04 MST"}}.
{{range .Locations}}
Location {{.LocationID}}: {{.Created}} created, {{.Updated}} updated, {{.Deleted}} deleted
{{- range .Events}}
  - [{{.Type}}] {{.Review.Name}} (noise {{.Review.NoiseLevel}}, busy {{.Review.BusyLevel}}, {{.Review.Weather}}): {{.Review.TextReview}}
{{- end}}
{{end}}
---
CalmCorners Moderation
`))

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier mails review digests to moderators
type EmailNotifier struct {
	config *config.SMTPConfig
	send   SendFunc
}

// NewEmailNotifier creates a new email notifier
func NewEmailNotifier(cfg *config.SMTPConfig) *EmailNotifier {
	return &EmailNotifier{config: cfg, send: smtp.SendMail}
}

// RenderDigest renders the digest body.
func RenderDigest(d Digest) (string, error) {
	var buf bytes.Buffer
	if err := digestTemplate.Execute(&buf, d); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SendDigest renders and mails a digest of events. An empty batch is a no-op.
func (e *EmailNotifier) SendDigest(events []protocol.ReviewEvent) error {
	if len(events) == 0 {
		return nil
	}

	d := BuildDigest(events)
	body, err := RenderDigest(d)
	if err != nil {
		return fmt.Errorf("failed to render digest: %w", err)
	}
	subject := fmt.Sprintf("CalmCorners: %d review event(s) across %d location(s)", d.Total, len(d.Locations))
	return e.sendEmail(subject, body)
}

func (e *EmailNotifier) sendEmail(subject, body string) error {
	// Skip sending if SMTP is not configured
	if e.config.Username == "" || e.config.Password == "" {
		logging.Info().Str("subject", subject).Str("body", body).Msg("SMTP not configured, digest logged only")
		return nil
	}

	message := fmt.Sprintf("From: %s\r\n", e.config.From)
	message += fmt.Sprintf("To: %s\r\n", e.config.To)
	message += fmt.Sprintf("Subject: %s\r\n", subject)
	message += fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	message += "\r\n"
	message += body

	auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)

	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	if err := e.send(addr, auth, e.config.From, []string{e.config.To}, []byte(message)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	logging.Info().Str("subject", subject).Msg("digest sent")
	return nil
}

// TestConnection tests the SMTP connection
func (e *EmailNotifier) TestConnection() error {
	if e.config.Username == "" {
		return fmt.Errorf("SMTP not configured")
	}

	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	return nil
}
