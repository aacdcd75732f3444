package ingest

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/technosupport/ts-eventgate/internal/events"
	"github.com/technosupport/ts-eventgate/internal/imaging"
	"github.com/technosupport/ts-eventgate/internal/logging"
	"github.com/technosupport/ts-eventgate/internal/metrics"
	"github.com/technosupport/ts-eventgate/internal/platform/paths"
)

const defaultExt = ".jpg"

type IngestorConfig struct {
	Inbox          string
	MaxAttachments int
	Similarity     float64
}

// Ingestor deposits distinct image attachments into the inbox under the
// shared event file-name schema.
type Ingestor struct {
	cfg       IngestorConfig
	histogram imaging.HistogramFunc
}

func NewIngestor(cfg IngestorConfig, h imaging.HistogramFunc) *Ingestor {
	if cfg.MaxAttachments <= 0 {
		cfg.MaxAttachments = 3
	}
	return &Ingestor{cfg: cfg, histogram: h}
}

// Ingest writes up to MaxAttachments distinct images from msg and returns
// their inbox paths. Each message is its own deduplication batch.
func (i *Ingestor) Ingest(msg Message) ([]string, error) {
	l := logging.Component("ingest").With().Str("message_id", msg.ID).Str("camera", msg.CameraName).Logger()
	dedup := NewDeduplicator(i.histogram, i.cfg.Similarity)

	var saved []string
	index := 0
	for _, att := range msg.Attachments {
		if index >= i.cfg.MaxAttachments {
			l.Info().Int("limit", i.cfg.MaxAttachments).Msg("Attachment limit reached, skipping the rest")
			break
		}

		dup, err := dedup.Check(att.Data)
		if err != nil {
			metrics.IngestedTotal.WithLabelValues("undecodable").Inc()
			l.Warn().Err(err).Str("attachment", att.FileName).Msg("Attachment could not be decoded, keeping it")
		}
		if dup {
			metrics.IngestedTotal.WithLabelValues("duplicate").Inc()
			l.Info().Str("attachment", att.FileName).Msg("Skipping visually similar attachment")
			continue
		}

		index++
		name := events.BuildFileName(msg.CameraName, msg.EventDate, msg.EventTime, index, extensionFor(att))
		path, err := i.write(name, att.Data)
		if err != nil {
			return saved, fmt.Errorf("failed to store attachment %d: %w", index, err)
		}
		metrics.IngestedTotal.WithLabelValues("saved").Inc()
		l.Info().Str("file", filepath.Base(path)).Msg("Attachment saved to inbox")
		saved = append(saved, path)
	}
	return saved, nil
}

// write stores data through a hidden temp file so the router never sees a
// partial image.
func (i *Ingestor) write(name string, data []byte) (string, error) {
	dst, err := paths.UniquePath(i.cfg.Inbox, name)
	if err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(i.cfg.Inbox, paths.IngestTempPrefix+"*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	return dst, nil
}

func extensionFor(att Attachment) string {
	if ext := filepath.Ext(att.FileName); ext != "" {
		return strings.ToLower(ext)
	}
	switch att.ContentType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	}
	if exts, err := mime.ExtensionsByType(att.ContentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return defaultExt
}
