package retryqueue

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueue(t *testing.T, now time.Time) *Queue {
	t.Helper()
	dir := t.TempDir()
	q := New(filepath.Join(dir, "telegram-queue"), filepath.Join(dir, "telegram-queue", "dead"))
	require.NoError(t, os.MkdirAll(q.Dir(), 0o750))
	q.now = func() time.Time { return now }
	return q
}

func sampleRecord(target string) Record {
	return Record{
		PhotoPath:      "/data/filtered/vorota1_2024-05-01_12-30-05_1_with_detections.jpg",
		CameraName:     "vorota1",
		EventDate:      "2024-05-01",
		EventTime:      "12-30-05",
		DetectedLabels: []string{"car"},
		ChatIDs:        []string{target},
	}
}

func TestPersist_FileNameAndContract(t *testing.T) {
	now := time.Unix(1714566605, 0)
	q := newQueue(t, now)

	path, err := q.Persist(sampleRecord("-100123"))
	require.NoError(t, err)
	assert.Equal(t, "vorota1_2024-05-01_12-30-05_1_with_detections.jpg_1714566605.json", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"photo_path", "camera_name", "event_date", "event_time", "detected_labels", "chat_ids"} {
		assert.Contains(t, raw, key)
	}
	assert.Equal(t, []interface{}{"-100123"}, raw["chat_ids"])
	assert.NotEmpty(t, raw["id"])
}

func TestPersist_NeverOverwrites(t *testing.T) {
	q := newQueue(t, time.Unix(1714566605, 0))

	p1, err := q.Persist(sampleRecord("1"))
	require.NoError(t, err)
	p2, err := q.Persist(sampleRecord("2"))
	require.NoError(t, err)
	p3, err := q.Persist(sampleRecord("3"))
	require.NoError(t, err)

	assert.NotEqual(t, p1, p2)
	assert.Equal(t, "vorota1_2024-05-01_12-30-05_1_with_detections.jpg_1714566605_1.json", filepath.Base(p2))
	assert.Equal(t, "vorota1_2024-05-01_12-30-05_1_with_detections.jpg_1714566605_2.json", filepath.Base(p3))

	n, err := q.Len()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestPersist_ConcurrentWritersKeepEveryRecord(t *testing.T) {
	q := newQueue(t, time.Unix(1714566605, 0))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Persist(sampleRecord("t"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := q.Len()
	require.NoError(t, err)
	assert.Equal(t, 20, n)
}

func TestList_SkipsCorruptAndTempFiles(t *testing.T) {
	q := newQueue(t, time.Unix(100, 0))
	_, err := q.Persist(sampleRecord("1"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(q.Dir(), "broken.json"), []byte("{"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(q.Dir(), ".tmp-123"), []byte("{}"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(q.Dir(), "notes.txt"), []byte("x"), 0o600))

	recs, err := q.List()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, []string{"1"}, recs[0].Record.ChatIDs)
}

func TestRemove(t *testing.T) {
	q := newQueue(t, time.Unix(100, 0))
	p, err := q.Persist(sampleRecord("1"))
	require.NoError(t, err)

	require.NoError(t, q.Remove(filepath.Base(p)))
	_, err = os.Stat(p)
	assert.True(t, os.IsNotExist(err))

	assert.Error(t, q.Remove("../escape.json"))
}

type fakeDeliverer struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls []string
}

func (f *fakeDeliverer) Redeliver(_ context.Context, target string, _ Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, target)
	if f.fail[target] {
		return errors.New("chat unavailable")
	}
	return nil
}

func TestSweepOnce(t *testing.T) {
	q := newQueue(t, time.Unix(100, 0))
	_, err := q.Persist(sampleRecord("ok"))
	require.NoError(t, err)
	rec := sampleRecord("ok2")
	rec.ChatIDs = []string{"ok2", "down"}
	_, err = q.Persist(rec)
	require.NoError(t, err)

	d := &fakeDeliverer{fail: map[string]bool{"down": true}}
	s := NewSweeper(q, d, time.Minute, 0)

	res := s.SweepOnce(context.Background())
	assert.Equal(t, 2, res.Delivered)
	assert.Equal(t, 1, res.Failed)
	assert.ElementsMatch(t, []string{"ok", "ok2", "down"}, d.calls)

	left, err := q.List()
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, []string{"down"}, left[0].Record.ChatIDs)
	assert.Equal(t, 1, left[0].Record.Attempts)
	assert.Equal(t, "chat unavailable", left[0].Record.LastError)
}

func TestSweepOnce_BuriesExhausted(t *testing.T) {
	q := newQueue(t, time.Unix(100, 0))
	p, err := q.Persist(sampleRecord("down"))
	require.NoError(t, err)

	s := NewSweeper(q, &fakeDeliverer{fail: map[string]bool{"down": true}}, time.Minute, 2)

	res := s.SweepOnce(context.Background())
	assert.Equal(t, 0, res.Buried)
	res = s.SweepOnce(context.Background())
	assert.Equal(t, 1, res.Buried)

	n, err := q.Len()
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = os.Stat(filepath.Join(q.deadDir, filepath.Base(p)))
	assert.NoError(t, err)
}

func TestSweeper_StartStop(t *testing.T) {
	q := newQueue(t, time.Unix(100, 0))
	_, err := q.Persist(sampleRecord("ok"))
	require.NoError(t, err)

	s := NewSweeper(q, &fakeDeliverer{}, 10*time.Millisecond, 0)
	s.Start(context.Background())

	assert.Eventually(t, func() bool {
		n, err := q.Len()
		return err == nil && n == 0
	}, time.Second, 10*time.Millisecond)

	s.Stop()
}
