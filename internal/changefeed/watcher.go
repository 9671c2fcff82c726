package changefeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"hotel_sync/internal/adapters/observability"
	"hotel_sync/internal/domain"
)

type Options struct {
	Consumer       string
	Collections    []string
	QueueSize      int
	Overflow       Overflow
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Clock          clockwork.Clock
	// OnColdStart runs when the resume position is lost; the watcher then
	// continues from the head of the feed.
	OnColdStart func(reason string)
}

// Watcher owns the single feed connection of the process.
type Watcher struct {
	feed Feed
	cp   domain.Checkpoint
	opts Options

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(feed Feed, cp domain.Checkpoint, opts Options) *Watcher {
	if opts.Consumer == "" {
		opts.Consumer = "default"
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Overflow == "" {
		opts.Overflow = OverflowBlock
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Watcher{feed: feed, cp: cp, opts: opts}
}

// Start begins watching after resumeToken, or after the durable checkpoint
// when resumeToken is empty. The returned channel is closed after Stop or
// when ctx is cancelled.
func (w *Watcher) Start(ctx context.Context, resumeToken string) (<-chan domain.SyncEvent, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return nil, errors.New("changefeed: watcher already started")
	}

	token := resumeToken
	if token == "" && w.cp != nil {
		t, err := w.cp.LoadToken(ctx, w.opts.Consumer)
		if err != nil {
			return nil, fmt.Errorf("changefeed: load checkpoint: %w", err)
		}
		token = t
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	out := make(chan domain.SyncEvent, w.opts.QueueSize)

	log.Info().Str("consumer", w.opts.Consumer).Str("resume_token", token).
		Strs("collections", w.opts.Collections).Msg("change feed watcher starting")
	go w.run(runCtx, token, out)
	return out, nil
}

// Stop cancels the feed and waits for the read loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Commit records token as durably processed. Consumers call it after the
// event carrying token has been handled, which keeps delivery at-least-once
// across restarts.
func (w *Watcher) Commit(ctx context.Context, token string) error {
	if w.cp == nil || token == "" {
		return nil
	}
	return w.cp.SaveToken(ctx, w.opts.Consumer, token)
}

func (w *Watcher) run(ctx context.Context, token string, out chan domain.SyncEvent) {
	defer close(w.done)
	defer close(out)

	b := newReconnectBackOff(w.opts.InitialBackoff, w.opts.MaxBackoff)

	for {
		stream, err := w.feed.Open(ctx, token, w.opts.Collections)
		if err == nil {
			if p, ok := stream.(Positioner); ok && token == "" {
				token = p.Position()
			}
			var progressed bool
			progressed, err = w.drain(ctx, stream, &token, out)
			_ = stream.Close()
			if progressed {
				b.Reset()
			}
		}
		if ctx.Err() != nil {
			log.Info().Str("consumer", w.opts.Consumer).Msg("change feed watcher stopped")
			return
		}
		if errors.Is(err, ErrTokenExpired) {
			token = w.coldStart(ctx, token)
			continue
		}

		wait := b.NextBackOff()
		observability.WatcherReconnects.Inc()
		log.Warn().Err(err).Str("resume_token", token).Dur("backoff", wait).Msg("change feed interrupted, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-w.opts.Clock.After(wait):
		}
	}
}

// drain forwards changes until the stream fails. token tracks the last
// change handed to the queue so a reconnect resumes right after it.
func (w *Watcher) drain(ctx context.Context, s Stream, token *string, out chan domain.SyncEvent) (bool, error) {
	progressed := false
	for {
		c, err := s.Next(ctx)
		if err != nil {
			return progressed, err
		}
		progressed = true
		if !c.Operation.Valid() {
			log.Debug().Str("operation", string(c.Operation)).Str("resume_token", c.Token).Msg("skipping non-mutation change")
			*token = c.Token
			continue
		}
		ev := domain.SyncEvent{
			Collection:    c.Collection,
			DocumentID:    c.DocumentID,
			OperationType: c.Operation,
			ResumeToken:   c.Token,
			ObservedAt:    c.At,
		}
		if !w.enqueue(ctx, out, ev) {
			return progressed, ctx.Err()
		}
		observability.WatcherEvents.WithLabelValues(ev.Collection, string(ev.OperationType)).Inc()
		*token = c.Token
	}
}

func (w *Watcher) enqueue(ctx context.Context, out chan domain.SyncEvent, ev domain.SyncEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	default:
	}

	if w.opts.Overflow == OverflowDropOldest {
		for {
			select {
			case out <- ev:
				return true
			default:
			}
			select {
			case old := <-out:
				observability.WatcherDropped.Inc()
				log.Warn().Str("dropped_token", old.ResumeToken).Msg("event queue full, dropped oldest event")
			default:
			}
			if ctx.Err() != nil {
				return false
			}
		}
	}

	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (w *Watcher) coldStart(ctx context.Context, expired string) string {
	observability.WatcherColdStarts.Inc()
	log.Warn().Str("resume_token", expired).Msg("resume token expired, falling back to full resync")
	if w.cp != nil {
		if err := w.cp.SaveToken(ctx, w.opts.Consumer, ""); err != nil {
			log.Error().Err(err).Msg("clearing expired checkpoint failed")
		}
	}
	if w.opts.OnColdStart != nil {
		w.opts.OnColdStart("resume token " + expired + " expired")
	}
	return ""
}

// cappedBackOff is ExponentialBackOff with jitter that never pushes a wait
// past max.
type cappedBackOff struct {
	*backoff.ExponentialBackOff
	max time.Duration
}

func newReconnectBackOff(initial, max time.Duration) *cappedBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = max
	b.MaxElapsedTime = 0
	b.Reset()
	return &cappedBackOff{ExponentialBackOff: b, max: max}
}

func (c *cappedBackOff) NextBackOff() time.Duration {
	if d := c.ExponentialBackOff.NextBackOff(); d >= 0 && d < c.max {
		return d
	}
	return c.max
}
