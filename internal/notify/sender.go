package notify

import (
	"context"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/technosupport/ts-eventgate/internal/config"
)

// Email is one outgoing message with a single attachment.
type Email struct {
	To             string
	Subject        string
	Body           string
	AttachmentPath string
}

// EmailSender delivers one email.
type EmailSender interface {
	Send(ctx context.Context, msg Email) error
}

// ChatSender posts a photo with a caption to one chat target.
type ChatSender interface {
	SendPhoto(ctx context.Context, target, photoPath, caption string) error
}

// NewEmailSender returns an SMTP sender when the account is fully
// configured, otherwise a sender that only logs.
func NewEmailSender(cfg config.EmailConfig) EmailSender {
	if cfg.Configured() {
		return NewSMTPSender(cfg)
	}
	log.Warn().Msg("SMTP settings incomplete, email notifications will only be logged")
	return LogEmailSender{}
}

// NewChatSender returns a Telegram sender when a bot token is set,
// otherwise a sender that only logs.
func NewChatSender(cfg config.TelegramConfig) ChatSender {
	if cfg.BotToken != "" {
		return NewTelegramSender(cfg)
	}
	log.Warn().Msg("Telegram bot token not set, chat notifications will only be logged")
	return LogChatSender{}
}

// LogEmailSender records that an email was not sent.
type LogEmailSender struct{}

func (LogEmailSender) Send(_ context.Context, msg Email) error {
	log.Info().Str("to", msg.To).Str("subject", msg.Subject).Str("attachment", filepath.Base(msg.AttachmentPath)).Msg("Email not sent, no SMTP account configured")
	return nil
}

// LogChatSender records that a chat message was not sent.
type LogChatSender struct{}

func (LogChatSender) SendPhoto(_ context.Context, target, photoPath, _ string) error {
	log.Info().Str("target", target).Str("photo", filepath.Base(photoPath)).Msg("Chat message not sent, no bot token configured")
	return nil
}
