package notify

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/technosupport/ts-eventgate/internal/events"
	"github.com/technosupport/ts-eventgate/internal/metrics"
	"github.com/technosupport/ts-eventgate/internal/policy"
	"github.com/technosupport/ts-eventgate/internal/retryqueue"
)

// RetrySink stores failed chat deliveries.
type RetrySink interface {
	Persist(rec retryqueue.Record) (string, error)
}

// Notification describes one accepted event.
type Notification struct {
	AcceptedPath string
	CameraID     string
	EventDate    string
	EventTime    string
	Labels       []string
}

// Report counts what happened on each channel.
type Report struct {
	EmailSent   int
	EmailFailed int
	ChatSent    int
	ChatQueued  int
	ChatLost    int
}

// Dispatcher fans an accepted event out to email recipients and chat targets.
type Dispatcher struct {
	email EmailSender
	chat  ChatSender
	retry RetrySink
}

func NewDispatcher(email EmailSender, chat ChatSender, retry RetrySink) *Dispatcher {
	return &Dispatcher{email: email, chat: chat, retry: retry}
}

// Subject is the email subject line for a camera.
func Subject(camera string) string {
	return "Objects detected on camera: " + camera
}

// Body is the plain-text email body.
func Body(camera string, labels []string) string {
	return fmt.Sprintf("%s: detected %s.", camera, strings.Join(labels, ", "))
}

// Caption is the Markdown chat caption.
func Caption(camera string, labels []string, date, eventTime string) string {
	return fmt.Sprintf("*%s*: %s\n`%s %s`", camera, strings.Join(labels, ", "), date, events.DisplayTime(eventTime))
}

// Notify sends on both channels concurrently and waits for both. A failure
// on one recipient or target never stops the others.
func (d *Dispatcher) Notify(ctx context.Context, n Notification, p policy.CameraPolicy) Report {
	var (
		wg     sync.WaitGroup
		report Report
	)

	if p.WantsEmail() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report.EmailSent, report.EmailFailed = d.sendEmails(ctx, n, p.EmailRecipients())
		}()
	}

	if p.WantsChat() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report.ChatSent, report.ChatQueued, report.ChatLost = d.sendChats(ctx, n, p.ChatTargets())
		}()
	}

	wg.Wait()
	return report
}

func (d *Dispatcher) sendEmails(ctx context.Context, n Notification, recipients []string) (sent, failed int) {
	msg := Email{
		Subject:        Subject(n.CameraID),
		Body:           Body(n.CameraID, n.Labels),
		AttachmentPath: n.AcceptedPath,
	}
	for _, to := range recipients {
		msg.To = to
		if err := d.email.Send(ctx, msg); err != nil {
			failed++
			metrics.NotificationsTotal.WithLabelValues("email", "failed").Inc()
			log.Error().Err(err).Str("camera", n.CameraID).Str("to", to).Msg("Email notification failed")
			continue
		}
		sent++
		metrics.NotificationsTotal.WithLabelValues("email", "sent").Inc()
		log.Info().Str("camera", n.CameraID).Str("to", to).Msg("Email notification sent")
	}
	return sent, failed
}

func (d *Dispatcher) sendChats(ctx context.Context, n Notification, targets []string) (sent, queued, lost int) {
	caption := Caption(n.CameraID, n.Labels, n.EventDate, n.EventTime)
	for _, target := range targets {
		err := d.chat.SendPhoto(ctx, target, n.AcceptedPath, caption)
		if err == nil {
			sent++
			metrics.NotificationsTotal.WithLabelValues("chat", "sent").Inc()
			log.Info().Str("camera", n.CameraID).Str("target", target).Msg("Chat notification sent")
			continue
		}

		log.Error().Err(err).Str("camera", n.CameraID).Str("target", target).Msg("Chat notification failed")
		rec := retryqueue.Record{
			PhotoPath:      n.AcceptedPath,
			CameraName:     n.CameraID,
			EventDate:      n.EventDate,
			EventTime:      n.EventTime,
			DetectedLabels: append([]string(nil), n.Labels...),
			ChatIDs:        []string{target},
			LastError:      err.Error(),
		}
		if _, perr := d.retry.Persist(rec); perr != nil {
			lost++
			metrics.NotificationsTotal.WithLabelValues("chat", "lost").Inc()
			log.Error().Err(perr).Str("camera", n.CameraID).Str("target", target).Str("photo", filepath.Base(n.AcceptedPath)).Msg("Chat notification lost, retry record not written")
			continue
		}
		queued++
		metrics.NotificationsTotal.WithLabelValues("chat", "queued").Inc()
	}
	return sent, queued, lost
}

// Redeliver re-sends a queued record to one target. It satisfies
// retryqueue.Deliverer.
func (d *Dispatcher) Redeliver(ctx context.Context, target string, rec retryqueue.Record) error {
	caption := Caption(rec.CameraName, rec.DetectedLabels, rec.EventDate, rec.EventTime)
	return d.chat.SendPhoto(ctx, target, rec.PhotoPath, caption)
}

var _ retryqueue.Deliverer = (*Dispatcher)(nil)
