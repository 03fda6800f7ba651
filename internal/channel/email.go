package channel

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
)

// EmailSender delivers plain-text mail over SMTP.
type EmailSender struct {
	host string
	port string
	user string
	pass string
	from string
}

func NewEmailSender(host, port, user, pass, from string) *EmailSender {
	return &EmailSender{host: host, port: port, user: user, pass: pass, from: from}
}

func (s *EmailSender) Send(ctx context.Context, destination string, msg Message) error {
	to := strings.TrimSpace(destination)
	if to == "" {
		return ErrNoDestination
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e := email.NewEmail()
	e.From = s.from
	e.To = []string{to}
	e.Subject = msg.Subject
	e.Text = []byte(msg.Body)

	var auth smtp.Auth
	if s.user != "" {
		auth = smtp.PlainAuth("", s.user, s.pass, s.host)
	}
	if err := e.Send(fmt.Sprintf("%s:%s", s.host, s.port), auth); err != nil {
		return fmt.Errorf("email to %s: %w", to, err)
	}
	return nil
}
