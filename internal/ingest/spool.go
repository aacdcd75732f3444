package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/technosupport/ts-eventgate/internal/logging"
	"github.com/technosupport/ts-eventgate/internal/platform/paths"
)

const (
	spoolExt  = ".eml"
	failedDir = "failed"
)

// SeenCache remembers Message-IDs for a TTL so re-delivered mail is dropped.
type SeenCache struct {
	cache *lru.Cache[string, time.Time]
	ttl   time.Duration
}

func NewSeenCache(size int, ttl time.Duration) *SeenCache {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[string, time.Time](size)
	return &SeenCache{cache: c, ttl: ttl}
}

// Seen reports whether id was marked within the TTL.
func (s *SeenCache) Seen(id string) bool {
	if id == "" {
		return false
	}
	at, ok := s.cache.Get(id)
	return ok && time.Since(at) < s.ttl
}

func (s *SeenCache) Mark(id string) {
	if id != "" {
		s.cache.Add(id, time.Now())
	}
}

// SpoolResult summarizes one spool pass.
type SpoolResult struct {
	Processed  int
	Duplicates int
	Failed     int
	Saved      int
}

// SpoolSource consumes .eml files dropped into a spool directory by the
// mail delivery agent, oldest first.
type SpoolSource struct {
	dir      string
	ingestor *Ingestor
	seen     *SeenCache
	mu       sync.Mutex

	trigger  chan struct{}
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewSpoolSource(dir string, ing *Ingestor, seen *SeenCache) *SpoolSource {
	return &SpoolSource{
		dir:      dir,
		ingestor: ing,
		seen:     seen,
		trigger:  make(chan struct{}, 1),
		stopChan: make(chan struct{}),
	}
}

// RunOnce processes every spooled message. Successfully ingested files are
// deleted; unparseable ones are moved aside; storage failures are retried
// on the next pass.
func (s *SpoolSource) RunOnce(ctx context.Context) SpoolResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res SpoolResult
	files, err := s.list()
	if err != nil {
		log.Error().Err(err).Str("dir", s.dir).Msg("Mail spool listing failed")
		return res
	}

	for _, path := range files {
		if ctx.Err() != nil {
			break
		}
		l := logging.Component("ingest").With().Str("spool_file", filepath.Base(path)).Logger()

		raw, err := os.ReadFile(path)
		if err != nil {
			l.Error().Err(err).Msg("Spooled message unreadable")
			res.Failed++
			continue
		}

		msg, err := ParseMessage(raw)
		if err != nil {
			l.Error().Err(err).Msg("Spooled message unparseable, moving aside")
			s.moveAside(path)
			res.Failed++
			continue
		}

		if s.seen.Seen(msg.ID) {
			l.Info().Str("message_id", msg.ID).Msg("Message already ingested, dropping")
			s.remove(path)
			res.Duplicates++
			continue
		}

		saved, err := s.ingestor.Ingest(msg)
		res.Saved += len(saved)
		if err != nil {
			// Already saved attachments stay; retrying would duplicate them.
			l.Error().Err(err).Int("saved", len(saved)).Msg("Message ingestion failed")
			if len(saved) == 0 {
				res.Failed++
				continue
			}
		}

		s.seen.Mark(msg.ID)
		s.remove(path)
		res.Processed++
	}
	return res
}

func (s *SpoolSource) list() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	type spooled struct {
		path string
		mod  time.Time
	}
	var items []spooled
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") || !strings.EqualFold(filepath.Ext(e.Name()), spoolExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		items = append(items, spooled{path: filepath.Join(s.dir, e.Name()), mod: info.ModTime()})
	}

	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].mod.Equal(items[j].mod) {
			return items[i].mod.Before(items[j].mod)
		}
		return items[i].path < items[j].path
	})

	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.path
	}
	return out, nil
}

func (s *SpoolSource) remove(path string) {
	if err := os.Remove(path); err != nil {
		log.Warn().Err(err).Str("spool_file", filepath.Base(path)).Msg("Spooled message could not be deleted")
	}
}

func (s *SpoolSource) moveAside(path string) {
	dir := filepath.Join(s.dir, failedDir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.Warn().Err(err).Msg("Failed-message directory unavailable")
		return
	}
	dst, err := paths.UniquePath(dir, filepath.Base(path))
	if err == nil {
		err = os.Rename(path, dst)
	}
	if err != nil {
		log.Warn().Err(err).Str("spool_file", filepath.Base(path)).Msg("Unparseable message could not be moved aside")
	}
}

// Trigger requests an early pass.
func (s *SpoolSource) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *SpoolSource) Start(ctx context.Context, interval time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		s.RunOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			case <-s.trigger:
				s.RunOnce(ctx)
			}
		}
	}()
	log.Info().Str("dir", s.dir).Dur("interval", interval).Msg("Mail spool source started")
}

func (s *SpoolSource) Stop() {
	close(s.stopChan)
	s.wg.Wait()
	log.Info().Msg("Mail spool source stopped")
}
