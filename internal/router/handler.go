package router

import (
	"context"

	"github.com/technosupport/ts-eventgate/internal/metrics"
	"github.com/technosupport/ts-eventgate/internal/notify"
	"github.com/technosupport/ts-eventgate/internal/policy"
)

// Notifier delivers accepted events to operators.
type Notifier interface {
	Notify(ctx context.Context, n notify.Notification, p policy.CameraPolicy) notify.Report
}

// Sink receives every final routing outcome. Sink errors are logged and
// never affect routing.
type Sink interface {
	Name() string
	Consume(ctx context.Context, o Outcome, report notify.Report) error
}

// Handler routes a file and fans the outcome out to notification and sinks.
type Handler struct {
	router   *Router
	notifier Notifier
	sinks    []Sink
}

func NewHandler(r *Router, n Notifier, sinks ...Sink) *Handler {
	return &Handler{router: r, notifier: n, sinks: sinks}
}

func (h *Handler) Handle(ctx context.Context, path string) Outcome {
	out := h.router.Route(ctx, path)
	if out.Kind == Deferred {
		return out
	}

	var report notify.Report
	if out.Kind == Accepted && h.notifier != nil {
		report = h.notifier.Notify(ctx, notify.Notification{
			AcceptedPath: out.OutputPath,
			CameraID:     out.Event.CameraID,
			EventDate:    out.Event.EventDate,
			EventTime:    out.Event.EventTime,
			Labels:       out.Labels,
		}, out.Policy)

		h.router.logger.Info().
			Str("camera", out.Event.CameraID).
			Int("email_sent", report.EmailSent).
			Int("email_failed", report.EmailFailed).
			Int("chat_sent", report.ChatSent).
			Int("chat_queued", report.ChatQueued).
			Int("chat_lost", report.ChatLost).
			Msg("Notifications dispatched")
	}

	for _, s := range h.sinks {
		if err := s.Consume(ctx, out, report); err != nil {
			metrics.SinkFailuresTotal.WithLabelValues(s.Name()).Inc()
			h.router.logger.Warn().Err(err).Str("sink", s.Name()).Str("file", out.Event.FileName).Msg("Outcome sink failed")
		}
	}
	return out
}
