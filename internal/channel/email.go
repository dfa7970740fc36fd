package channel

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/vacademy-io/notify-delivery-api/pkg/config"
)

// EmailSender delivers messages over SMTP.
type EmailSender struct {
	dialer *gomail.Dialer
	from   string
}

// NewEmailSender constructs the SMTP sender from channel configuration.
func NewEmailSender(cfg config.ChannelsConfig) *EmailSender {
	return &EmailSender{
		dialer: gomail.NewDialer(cfg.EmailHost, cfg.EmailPort, cfg.EmailUser, cfg.EmailPassword),
		from:   cfg.EmailFrom,
	}
}

// Send delivers one email. The medium config may override the sender
// identity per announcement.
func (s *EmailSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.Address == "" {
		return fmt.Errorf("email send: recipient %s has no address", msg.UserID)
	}

	from := s.from
	if override := msg.Config["sender"]; override != "" {
		from = override
	}

	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", msg.Address)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.Body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.Address, err)
	}
	return nil
}
