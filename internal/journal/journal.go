package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/technosupport/ts-eventgate/internal/notify"
	"github.com/technosupport/ts-eventgate/internal/router"
)

// Entry is one row of the event journal.
type Entry struct {
	ID          uuid.UUID
	CameraID    string
	FileName    string
	Outcome     string
	Labels      []string
	EventDate   string
	EventTime   string
	EmailSent   int
	EmailFailed int
	ChatSent    int
	ChatQueued  int
	CreatedAt   time.Time
}

// Journal stores routing outcomes.
type Journal interface {
	Record(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

// PostgresJournal writes to the event_journal table.
type PostgresJournal struct {
	DB *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresJournal {
	return &PostgresJournal{DB: db}
}

// Open connects with lib/pq and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal database unreachable: %w", err)
	}
	return db, nil
}

func (j *PostgresJournal) Record(ctx context.Context, e Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Labels == nil {
		e.Labels = []string{}
	}

	query := `
		INSERT INTO event_journal (
			id, camera_id, file_name, outcome, labels, event_date, event_time,
			email_sent, email_failed, chat_sent, chat_queued, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := j.DB.ExecContext(ctx, query,
		e.ID, e.CameraID, e.FileName, e.Outcome, pq.Array(e.Labels), e.EventDate, e.EventTime,
		e.EmailSent, e.EmailFailed, e.ChatSent, e.ChatQueued, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("journal insert: %w", err)
	}
	return nil
}

func (j *PostgresJournal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := j.DB.QueryContext(ctx, `
		SELECT id, camera_id, file_name, outcome, labels, event_date, event_time,
		       email_sent, email_failed, chat_sent, chat_queued, created_at
		FROM event_journal
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.CameraID, &e.FileName, &e.Outcome, pq.Array(&e.Labels), &e.EventDate, &e.EventTime,
			&e.EmailSent, &e.EmailFailed, &e.ChatSent, &e.ChatQueued, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// NoopJournal is used when no database is configured.
type NoopJournal struct{}

func (NoopJournal) Record(context.Context, Entry) error          { return nil }
func (NoopJournal) Recent(context.Context, int) ([]Entry, error) { return nil, nil }

// Sink records routing outcomes in a Journal.
type Sink struct {
	J Journal
}

func (Sink) Name() string { return "journal" }

func (s Sink) Consume(ctx context.Context, o router.Outcome, r notify.Report) error {
	return s.J.Record(ctx, EntryFromOutcome(o, r))
}

// EntryFromOutcome flattens an outcome and its notification report.
func EntryFromOutcome(o router.Outcome, r notify.Report) Entry {
	return Entry{
		ID:          o.Event.ID,
		CameraID:    o.Event.CameraID,
		FileName:    o.Event.FileName,
		Outcome:     string(o.Kind),
		Labels:      o.Labels,
		EventDate:   o.Event.EventDate,
		EventTime:   o.Event.EventTime,
		EmailSent:   r.EmailSent,
		EmailFailed: r.EmailFailed,
		ChatSent:    r.ChatSent,
		ChatQueued:  r.ChatQueued,
	}
}

var _ router.Sink = Sink{}
