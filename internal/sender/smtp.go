package sender

import (
	"context"
	"fmt"

	mail "gopkg.in/gomail.v2"

	"github.com/reachforge/outreach-engine/internal/config"
)

// SMTPSender submits mail through a single SMTP account via gomail.
type SMTPSender struct {
	host      string
	port      int
	username  string
	password  string
	fromName  string
	fromEmail string
}

// NewSMTPSender creates an SMTP adapter for one provider mailbox.
func NewSMTPSender(pc config.ProviderConfig) *SMTPSender {
	return &SMTPSender{
		host:      pc.SMTPHost,
		port:      pc.SMTPPort,
		username:  pc.SMTPUsername,
		password:  pc.SMTPPassword,
		fromName:  pc.FromName,
		fromEmail: pc.FromEmail,
	}
}

// Send delivers one HTML email. gomail dials per message; follow-up volume
// is low enough that connection reuse isn't worth the session bookkeeping.
func (s *SMTPSender) Send(ctx context.Context, toEmail, subject, htmlBody string) error {
	m := mail.NewMessage()
	m.SetAddressHeader("From", s.fromEmail, s.fromName)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)

	d := mail.NewDialer(s.host, s.port, s.username, s.password)

	done := make(chan error, 1)
	go func() { done <- d.DialAndSend(m) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send via %s: %w", s.host, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
