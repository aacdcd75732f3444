package archive

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/technosupport/ts-eventgate/internal/config"
	"github.com/technosupport/ts-eventgate/internal/notify"
	"github.com/technosupport/ts-eventgate/internal/router"
)

// Uploader stores one object.
type Uploader interface {
	Upload(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error
}

// Client is a MinIO/S3 bucket.
type Client struct {
	mc     *minio.Client
	bucket string
}

func NewMinIO(cfg config.ArchiveConfig) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseTLS,
	})
	if err != nil {
		return nil, err
	}
	return &Client{mc: mc, bucket: cfg.Bucket}, nil
}

func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return c.mc.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{})
	}
	return nil
}

func (c *Client) Upload(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error {
	_, err := c.mc.PutObject(ctx, c.bucket, objectName, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

const unknownCamera = "unknowncam"

// BuildObjectPath lays objects out as <prefix>/<camera>/year=/month=/day=/<file>.
// Events without a camera segment go under unknowncam.
func BuildObjectPath(prefix, camera string, t time.Time, file string) string {
	t = t.UTC()
	if camera == "" {
		camera = unknownCamera
	}
	p := fmt.Sprintf("%s/year=%04d/month=%02d/day=%02d/%s", camera, t.Year(), t.Month(), t.Day(), file)
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		p = prefix + "/" + p
	}
	return p
}

// Archiver copies accepted annotated snapshots to object storage.
type Archiver struct {
	up     Uploader
	prefix string
	now    func() time.Time
}

func NewArchiver(up Uploader, prefix string) *Archiver {
	return &Archiver{up: up, prefix: prefix, now: time.Now}
}

func (a *Archiver) Archive(ctx context.Context, localPath, camera string, t time.Time) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	name := filepath.Base(localPath)
	ct := mime.TypeByExtension(filepath.Ext(name))
	if ct == "" {
		ct = "application/octet-stream"
	}

	object := BuildObjectPath(a.prefix, camera, t, name)
	if err := a.up.Upload(ctx, object, f, info.Size(), ct); err != nil {
		return "", fmt.Errorf("archive upload %s: %w", object, err)
	}
	return object, nil
}

func (a *Archiver) Name() string { return "archive" }

// Consume archives accepted outcomes and ignores the rest.
func (a *Archiver) Consume(ctx context.Context, o router.Outcome, _ notify.Report) error {
	if o.Kind != router.Accepted {
		return nil
	}
	_, err := a.Archive(ctx, o.OutputPath, o.Event.CameraID, a.now())
	return err
}

var _ router.Sink = (*Archiver)(nil)
var _ Uploader = (*Client)(nil)
