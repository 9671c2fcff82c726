// Package scheduler runs periodic jobs on their own cancellable tickers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"hotel_sync/internal/adapters/observability"
)

// Job is one unit of scheduled work. Run should be safe to repeat.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type entry struct {
	job     Job
	every   time.Duration
	timeout time.Duration
}

// Scheduler executes each registered job on a fixed interval. Jobs never
// share a run loop, so a slow job cannot delay another.
type Scheduler struct {
	clock   clockwork.Clock
	entries []entry
	running bool
	mu      sync.Mutex
}

func New(clock clockwork.Clock) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{clock: clock}
}

// Every registers job to run once at start and then every interval. A
// positive timeout bounds each run.
func (s *Scheduler) Every(every, timeout time.Duration, job Job) error {
	if job == nil {
		return errors.New("scheduler: nil job")
	}
	if every <= 0 {
		return fmt.Errorf("scheduler: job %s: interval must be positive", job.Name())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler: job %s registered after start", job.Name())
	}
	s.entries = append(s.entries, entry{job: job, every: every, timeout: timeout})
	return nil
}

// Run blocks until ctx is cancelled and every job loop has returned.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler: already running")
	}
	s.running = true
	entries := append([]entry(nil), s.entries...)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e entry) {
			defer wg.Done()
			s.loop(ctx, e)
		}(e)
	}
	log.Info().Int("jobs", len(entries)).Msg("scheduler started")
	wg.Wait()
	log.Info().Msg("scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) loop(ctx context.Context, e entry) {
	ticker := s.clock.NewTicker(e.every)
	defer ticker.Stop()

	s.runJob(ctx, e)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.runJob(ctx, e)
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context, e entry) {
	if ctx.Err() != nil {
		return
	}
	name := e.job.Name()
	jobCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := s.clock.Now()
	err := safeRun(jobCtx, e.job)
	dur := s.clock.Since(start)
	observability.ObserveJob(name, err, dur)
	if err != nil {
		log.Error().Err(err).Str("job", name).Dur("duration", dur).Msg("job failed")
		return
	}
	log.Debug().Str("job", name).Dur("duration", dur).Msg("job completed")
}

func safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name(), r)
		}
	}()
	return job.Run(ctx)
}
