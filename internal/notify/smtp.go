package notify

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/technosupport/ts-eventgate/internal/config"
)

// SMTPSender sends through an authenticated SMTP relay. gomail upgrades the
// connection with STARTTLS when the server offers it.
type SMTPSender struct {
	from    string
	timeout time.Duration
	dial    func(msgs ...*gomail.Message) error
}

func NewSMTPSender(cfg config.EmailConfig) *SMTPSender {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Account, cfg.Password)
	return &SMTPSender{
		from:    cfg.Account,
		timeout: cfg.SendTimeout,
		dial:    d.DialAndSend,
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg Email) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)
	if msg.AttachmentPath != "" {
		m.Attach(msg.AttachmentPath)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	// gomail has no context support; an abandoned dial finishes in the background.
	done := make(chan error, 1)
	go func() { done <- s.dial(m) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send to %s: %w", msg.To, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp send to %s: %w", msg.To, ctx.Err())
	}
}
