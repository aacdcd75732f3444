package router

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/technosupport/ts-eventgate/internal/metrics"
	"github.com/technosupport/ts-eventgate/internal/platform/paths"
)

// FileHandler processes one inbox file.
type FileHandler interface {
	Handle(ctx context.Context, path string) Outcome
}

type PollerConfig struct {
	Inbox        string
	PollInterval time.Duration
	Workers      int
}

// PassResult counts outcomes of one inbox pass.
type PassResult struct {
	Seen    int
	Skipped bool
	Counts  map[OutcomeKind]int
}

// Poller scans the inbox on a fixed interval and feeds files to a bounded
// set of workers. Passes never overlap.
type Poller struct {
	cfg     PollerConfig
	handler FileHandler
	lock    InboxLock

	trigger  chan struct{}
	stopChan chan struct{}
	wg       sync.WaitGroup

	passMu   sync.Mutex
	inflight sync.Map
}

func NewPoller(cfg PollerConfig, h FileHandler, lock InboxLock) *Poller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if lock == nil {
		lock = NoopLock{}
	}
	return &Poller{
		cfg:      cfg,
		handler:  h,
		lock:     lock,
		trigger:  make(chan struct{}, 1),
		stopChan: make(chan struct{}),
	}
}

func (p *Poller) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.runLoop(ctx)
	log.Info().Str("inbox", p.cfg.Inbox).Dur("interval", p.cfg.PollInterval).Int("workers", p.cfg.Workers).Msg("Inbox poller started")
}

func (p *Poller) Stop() {
	close(p.stopChan)
	p.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.lock.Release(ctx); err != nil {
		log.Warn().Err(err).Msg("Inbox lock release failed")
	}
	log.Info().Msg("Inbox poller stopped")
}

// Trigger requests an early pass. Requests made while one is pending are
// coalesced.
func (p *Poller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

func (p *Poller) runLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	p.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopChan:
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		case <-p.trigger:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single pass over a snapshot of the inbox.
func (p *Poller) RunOnce(ctx context.Context) PassResult {
	p.passMu.Lock()
	defer p.passMu.Unlock()

	res := PassResult{Counts: make(map[OutcomeKind]int)}

	held, err := p.lock.Acquire(ctx)
	if err != nil {
		metrics.PassesSkippedTotal.WithLabelValues("lock_error").Inc()
		log.Warn().Err(err).Msg("Inbox lock unavailable, skipping pass")
		res.Skipped = true
		return res
	}
	if !held {
		metrics.PassesSkippedTotal.WithLabelValues("lock_held").Inc()
		log.Debug().Msg("Inbox held by another replica, skipping pass")
		res.Skipped = true
		return res
	}

	start := time.Now()
	defer func() { metrics.PassDuration.Observe(time.Since(start).Seconds()) }()

	files, err := ListInbox(p.cfg.Inbox)
	if err != nil {
		log.Error().Err(err).Msg("Inbox listing failed")
		res.Skipped = true
		return res
	}
	res.Seen = len(files)
	metrics.InboxDepth.Set(float64(len(files)))

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, p.cfg.Workers)
	)

	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		if _, busy := p.inflight.LoadOrStore(f, struct{}{}); busy {
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			defer func() { <-sem }()
			defer p.inflight.Delete(path)

			kind := p.process(ctx, path)
			mu.Lock()
			res.Counts[kind]++
			mu.Unlock()
		}(f)
	}
	wg.Wait()

	if res.Seen > 0 {
		log.Info().Int("seen", res.Seen).
			Int("accepted", res.Counts[Accepted]).
			Int("rejected", res.Counts[Rejected]).
			Int("malformed", res.Counts[Malformed]).
			Int("deferred", res.Counts[Deferred]).
			Msg("Inbox pass finished")
	}
	return res
}

// process isolates one file so a failure never reaches the loop.
func (p *Poller) process(ctx context.Context, path string) (kind OutcomeKind) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("file", filepath.Base(path)).Str("panic", fmt.Sprint(r)).Msg("Routing panicked, file left in inbox")
			kind = Deferred
		}
	}()
	return p.handler.Handle(ctx, path).Kind
}

// ListInbox returns regular files sorted by name, skipping in-progress writes.
func ListInbox(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || paths.IsTempName(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}
