package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/technosupport/ts-eventgate/internal/events"
	"github.com/technosupport/ts-eventgate/internal/notify"
	"github.com/technosupport/ts-eventgate/internal/router"
)

// OutcomeMessage is the JSON payload published for every final outcome.
type OutcomeMessage struct {
	SchemaVersion int       `json:"schema_version"`
	EventID       string    `json:"event_id"`
	Kind          string    `json:"kind"`
	CameraID      string    `json:"camera_id"`
	FileName      string    `json:"file_name"`
	EventDate     string    `json:"event_date"`
	EventTime     string    `json:"event_time"`
	Labels        []string  `json:"labels,omitempty"`
	OutputPath    string    `json:"output_path,omitempty"`
	ChatSent      int       `json:"chat_sent"`
	ChatQueued    int       `json:"chat_queued"`
	EmailSent     int       `json:"email_sent"`
	RoutedAt      time.Time `json:"routed_at"`
}

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subj string, data []byte) error
}

// Publisher sends outcome messages to <prefix>.<kind>.
type Publisher struct {
	conn       Conn
	prefix     string
	maxRetries int
	backoff    time.Duration
}

func NewPublisher(conn Conn, prefix string, maxRetries int) *Publisher {
	return &Publisher{conn: conn, prefix: prefix, maxRetries: maxRetries, backoff: 100 * time.Millisecond}
}

// Connect dials NATS with reconnects enabled.
func Connect(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("eventgate"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}

func (p *Publisher) Subject(kind string) string {
	return p.prefix + "." + kind
}

func (p *Publisher) Publish(msg OutcomeMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	subject := p.Subject(msg.Kind)
	for i := 0; i <= p.maxRetries; i++ {
		err = p.conn.Publish(subject, data)
		if err == nil {
			return nil
		}
		time.Sleep(time.Duration(i) * p.backoff)
	}
	return fmt.Errorf("publish failed after %d retries: %w", p.maxRetries, err)
}

func (p *Publisher) Name() string { return "eventbus" }

// Consume satisfies router.Sink.
func (p *Publisher) Consume(_ context.Context, o router.Outcome, r notify.Report) error {
	return p.Publish(OutcomeMessage{
		SchemaVersion: events.SchemaVersion,
		EventID:       o.Event.ID.String(),
		Kind:          string(o.Kind),
		CameraID:      o.Event.CameraID,
		FileName:      o.Event.FileName,
		EventDate:     o.Event.EventDate,
		EventTime:     o.Event.EventTime,
		Labels:        o.Labels,
		OutputPath:    o.OutputPath,
		ChatSent:      r.ChatSent,
		ChatQueued:    r.ChatQueued,
		EmailSent:     r.EmailSent,
		RoutedAt:      time.Now().UTC(),
	})
}

var _ router.Sink = (*Publisher)(nil)
var _ Conn = (*nats.Conn)(nil)
