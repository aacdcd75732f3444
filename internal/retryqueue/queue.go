package retryqueue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/technosupport/ts-eventgate/internal/metrics"
	"github.com/technosupport/ts-eventgate/internal/platform/paths"
)

const recordExt = ".json"

// Record is one failed chat delivery. The first six fields are the durable
// on-disk contract; the rest are bookkeeping for redelivery.
type Record struct {
	PhotoPath      string   `json:"photo_path"`
	CameraName     string   `json:"camera_name"`
	EventDate      string   `json:"event_date"`
	EventTime      string   `json:"event_time"`
	DetectedLabels []string `json:"detected_labels"`
	ChatIDs        []string `json:"chat_ids"`

	ID        string    `json:"id,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	Attempts  int       `json:"attempts,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Stored is a record together with its file name in the queue directory.
type Stored struct {
	Name   string
	Record Record
}

// Queue is a directory of JSON records. Writers never overwrite an existing
// record.
type Queue struct {
	dir     string
	deadDir string
	now     func() time.Time
	mu      sync.Mutex
}

func New(dir, deadDir string) *Queue {
	return &Queue{dir: dir, deadDir: deadDir, now: time.Now}
}

func (q *Queue) Dir() string { return q.dir }

// Persist writes rec as <basename(photo)>_<unix>.json, adding _<n> when the
// name is taken.
func (q *Queue) Persist(rec Record) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now.UTC()
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode retry record: %w", err)
	}

	base := fmt.Sprintf("%s_%d", filepath.Base(rec.PhotoPath), now.Unix())
	path, err := q.freeName(base)
	if err != nil {
		metrics.RetryPersistedTotal.WithLabelValues("error").Inc()
		return "", err
	}

	if err := writeAtomic(path, data); err != nil {
		metrics.RetryPersistedTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("failed to persist retry record: %w", err)
	}

	metrics.RetryPersistedTotal.WithLabelValues("ok").Inc()
	metrics.RetryQueueDepth.Inc()
	log.Info().Str("record", filepath.Base(path)).Strs("chat_ids", rec.ChatIDs).Msg("Chat delivery queued for retry")
	return path, nil
}

func (q *Queue) freeName(base string) (string, error) {
	candidate, err := paths.SafeJoin(q.dir, base+recordExt)
	if err != nil {
		return "", err
	}
	for n := 1; ; n++ {
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		} else if err != nil {
			return "", err
		}
		candidate = filepath.Join(q.dir, fmt.Sprintf("%s_%d%s", base, n, recordExt))
	}
}

// writeAtomic writes through a hidden temp file and renames it into place.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), paths.TempPrefix+"*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// List returns queued records oldest first. Unreadable files are skipped.
func (q *Queue) List() ([]Stored, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read retry queue: %w", err)
	}

	var out []Stored
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != recordExt {
			continue
		}
		data, err := os.ReadFile(filepath.Join(q.dir, name))
		if err != nil {
			log.Warn().Err(err).Str("record", name).Msg("Skipping unreadable retry record")
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			log.Warn().Err(err).Str("record", name).Msg("Skipping corrupt retry record")
			continue
		}
		out = append(out, Stored{Name: name, Record: rec})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Record.CreatedAt, out[j].Record.CreatedAt
		if !a.Equal(b) {
			return a.Before(b)
		}
		return out[i].Name < out[j].Name
	})
	metrics.RetryQueueDepth.Set(float64(len(out)))
	return out, nil
}

// Len counts queued records.
func (q *Queue) Len() (int, error) {
	recs, err := q.List()
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

// Remove deletes a record by file name.
func (q *Queue) Remove(name string) error {
	p, err := paths.SafeJoin(q.dir, name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return fmt.Errorf("failed to remove retry record %s: %w", name, err)
	}
	metrics.RetryQueueDepth.Dec()
	return nil
}

// Update rewrites an existing record in place.
func (q *Queue) Update(name string, rec Record) error {
	p, err := paths.SafeJoin(q.dir, name)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(p, data)
}

// Bury moves a record into the dead-letter directory.
func (q *Queue) Bury(name string) error {
	src, err := paths.SafeJoin(q.dir, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(q.deadDir, 0o750); err != nil {
		return err
	}
	dst, err := paths.UniquePath(q.deadDir, name)
	if err != nil {
		return err
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to move retry record %s to dead letters: %w", name, err)
	}
	metrics.RetryQueueDepth.Dec()
	return nil
}
