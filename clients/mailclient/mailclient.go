// Package mailclient sends invitation emails through Resend.
package mailclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	"net/url"
	"text/template"

	"github.com/resend/resend-go/v2"
)

// DefaultSubject is used when Config.Subject is empty.
const DefaultSubject = "You're invited to join your class"

// Config configures a Mailer.
type Config struct {
	APIKey  string
	From    string
	Subject string
	// BaseURL overrides the Resend API endpoint.
	BaseURL string
}

// Mailer sends invitation emails.
type Mailer struct {
	client  *resend.Client
	from    string
	subject string
	logger  *slog.Logger
}

var (
	textTmpl = template.Must(template.New("text").Parse(
		`Hi {{.Name}},

You have been invited to join. Accept your invitation here:

{{.Link}}
`))
	htmlTmpl = htmltemplate.Must(htmltemplate.New("html").Parse(
		`<p>Hi {{.Name}},</p>
<p>You have been invited to join. <a href="{{.Link}}">Accept your invitation</a>.</p>
`))
)

type invitation struct {
	Name string
	Link string
}

// New creates a Mailer.
func New(cfg Config, logger *slog.Logger) (*Mailer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("mail API key is required")
	}
	if cfg.From == "" {
		return nil, errors.New("mail from address is required")
	}

	client := resend.NewClient(cfg.APIKey)
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid mail base URL: %w", err)
		}
		client.BaseURL = u
	}

	subject := cfg.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	return &Mailer{
		client:  client,
		from:    cfg.From,
		subject: subject,
		logger:  logger.With("component", "mailclient"),
	}, nil
}

// SendInvitation emails link to the user.
func (m *Mailer) SendInvitation(ctx context.Context, name, email, link string) error {
	text, html, err := render(invitation{Name: name, Link: link})
	if err != nil {
		return err
	}

	sent, err := m.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    m.from,
		To:      []string{email},
		Subject: m.subject,
		Text:    text,
		Html:    html,
	})
	if err != nil {
		return fmt.Errorf("error sending email: %w", err)
	}
	m.logger.Info("invitation sent", "email", email, "message_id", sent.Id)
	return nil
}

func render(inv invitation) (string, string, error) {
	var text, html bytes.Buffer
	if err := textTmpl.Execute(&text, inv); err != nil {
		return "", "", fmt.Errorf("rendering text body: %w", err)
	}
	if err := htmlTmpl.Execute(&html, inv); err != nil {
		return "", "", fmt.Errorf("rendering html body: %w", err)
	}
	return text.String(), html.String(), nil
}
