package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/resend/resend-go/v2"
)

// EmailProvider delivers one email. Best effort: the fan-out records failures
// but never retries synchronously.
type EmailProvider interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPEmail delivers through a plain SMTP relay.
type SMTPEmail struct {
	host     string
	port     string
	user     string
	password string
	from     string
}

// NewSMTPEmail creates an SMTP provider.
func NewSMTPEmail(host, port, user, password, from string) *SMTPEmail {
	return &SMTPEmail{host: host, port: port, user: user, password: password, from: from}
}

// Send delivers one message.
func (s *SMTPEmail) Send(_ context.Context, to, subject, body string) error {
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	msg.WriteString(body)

	var auth smtp.Auth
	if s.user != "" {
		auth = smtp.PlainAuth("", s.user, s.password, s.host)
	}

	if err := smtp.SendMail(s.host+":"+s.port, auth, s.from, []string{to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// ResendEmail delivers through the Resend API.
type ResendEmail struct {
	client *resend.Client
	from   string
}

// NewResendEmail creates a Resend provider.
func NewResendEmail(apiKey, from string) *ResendEmail {
	return &ResendEmail{client: resend.NewClient(apiKey), from: from}
}

// Send delivers one message.
func (r *ResendEmail) Send(ctx context.Context, to, subject, body string) error {
	params := &resend.SendEmailRequest{
		From:    r.from,
		To:      []string{to},
		Subject: subject,
		Text:    body,
	}
	if _, err := r.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
