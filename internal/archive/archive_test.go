package archive

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-eventgate/internal/events"
	"github.com/technosupport/ts-eventgate/internal/notify"
	"github.com/technosupport/ts-eventgate/internal/router"
)

type memUploader struct {
	objects map[string][]byte
	types   map[string]string
	err     error
}

func (m *memUploader) Upload(_ context.Context, name string, r io.Reader, size int64, ct string) error {
	if m.err != nil {
		return m.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return errors.New("size mismatch")
	}
	m.objects[name] = data
	m.types[name] = ct
	return nil
}

func newMem() *memUploader {
	return &memUploader{objects: map[string][]byte{}, types: map[string]string{}}
}

func TestBuildObjectPath(t *testing.T) {
	ts := time.Date(2024, 5, 1, 23, 30, 0, 0, time.FixedZone("MSK", 3*3600))
	assert.Equal(t, "snapshots/vorota1/year=2024/month=05/day=01/x.jpg", BuildObjectPath("/snapshots/", "vorota1", ts, "x.jpg"))
	assert.Equal(t, "cam/year=2024/month=05/day=01/x.jpg", BuildObjectPath("", "cam", ts, "x.jpg"))
	assert.Equal(t, "unknowncam/year=2024/month=05/day=01/x.jpg", BuildObjectPath("", "", ts, "x.jpg"))
}

func TestArchiver_ConsumeAccepted(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "vorota1_2024-05-01_12-30-05_1_with_detections.jpg")
	require.NoError(t, os.WriteFile(p, []byte("annotated"), 0o600))

	mem := newMem()
	a := NewArchiver(mem, "snapshots")
	a.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	evt, err := events.ParseFileName("vorota1_2024-05-01_12-30-05_1.jpg")
	require.NoError(t, err)

	require.NoError(t, a.Consume(context.Background(), router.Outcome{Kind: router.Accepted, Event: evt, OutputPath: p}, notify.Report{}))

	key := "snapshots/vorota1/year=2024/month=05/day=01/vorota1_2024-05-01_12-30-05_1_with_detections.jpg"
	assert.Equal(t, []byte("annotated"), mem.objects[key])
	assert.Equal(t, "image/jpeg", mem.types[key])
}

func TestArchiver_IgnoresNonAccepted(t *testing.T) {
	mem := newMem()
	a := NewArchiver(mem, "")
	require.NoError(t, a.Consume(context.Background(), router.Outcome{Kind: router.Rejected, OutputPath: "/nope"}, notify.Report{}))
	assert.Empty(t, mem.objects)
}

func TestArchiver_UploadError(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.jpg")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))

	mem := newMem()
	mem.err = errors.New("bucket missing")
	_, err := NewArchiver(mem, "").Archive(context.Background(), p, "cam", time.Now())
	assert.ErrorContains(t, err, "bucket missing")
}
