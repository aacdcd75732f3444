package retryqueue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/technosupport/ts-eventgate/internal/metrics"
)

// Deliverer re-sends a queued notification to a single chat target.
type Deliverer interface {
	Redeliver(ctx context.Context, target string, rec Record) error
}

// SweepResult summarizes one sweep pass.
type SweepResult struct {
	Delivered int
	Failed    int
	Buried    int
}

// Sweeper periodically drains the queue through a Deliverer.
type Sweeper struct {
	queue       *Queue
	deliverer   Deliverer
	interval    time.Duration
	maxAttempts int

	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
}

// NewSweeper builds a sweeper. maxAttempts of 0 retries forever.
func NewSweeper(q *Queue, d Deliverer, interval time.Duration, maxAttempts int) *Sweeper {
	return &Sweeper{
		queue:       q,
		deliverer:   d,
		interval:    interval,
		maxAttempts: maxAttempts,
		stopChan:    make(chan struct{}),
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
	log.Info().Dur("interval", s.interval).Int("max_attempts", s.maxAttempts).Msg("Retry sweeper started")
}

func (s *Sweeper) Stop() {
	close(s.stopChan)
	s.wg.Wait()
	log.Info().Msg("Retry sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce attempts every queued record once. Targets that succeed are
// dropped from the record; the record is removed when none remain.
func (s *Sweeper) SweepOnce(ctx context.Context) SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res SweepResult
	stored, err := s.queue.List()
	if err != nil {
		log.Error().Err(err).Msg("Retry sweep could not list queue")
		return res
	}

	for _, st := range stored {
		if ctx.Err() != nil {
			return res
		}

		rec := st.Record
		var remaining []string
		var lastErr error
		for _, target := range rec.ChatIDs {
			if err := s.deliverer.Redeliver(ctx, target, rec); err != nil {
				lastErr = err
				remaining = append(remaining, target)
				metrics.RetryRedeliveredTotal.WithLabelValues("failed").Inc()
				continue
			}
			res.Delivered++
			metrics.RetryRedeliveredTotal.WithLabelValues("ok").Inc()
		}

		if len(remaining) == 0 {
			if err := s.queue.Remove(st.Name); err != nil {
				log.Error().Err(err).Str("record", st.Name).Msg("Delivered record could not be removed")
			}
			continue
		}

		res.Failed += len(remaining)
		rec.ChatIDs = remaining
		rec.Attempts++
		rec.LastError = lastErr.Error()

		if s.maxAttempts > 0 && rec.Attempts >= s.maxAttempts {
			if err := s.queue.Update(st.Name, rec); err == nil {
				err = s.queue.Bury(st.Name)
				if err == nil {
					res.Buried++
					log.Warn().Str("record", st.Name).Int("attempts", rec.Attempts).Msg("Retry record exhausted, moved to dead letters")
					continue
				}
			}
			log.Error().Str("record", st.Name).Msg("Exhausted retry record could not be buried")
			continue
		}

		if err := s.queue.Update(st.Name, rec); err != nil {
			log.Error().Err(err).Str("record", st.Name).Msg("Retry record could not be updated")
		}
	}

	if res.Delivered+res.Failed > 0 {
		log.Info().Int("delivered", res.Delivered).Int("failed", res.Failed).Int("buried", res.Buried).Msg("Retry sweep finished")
	}
	return res
}
