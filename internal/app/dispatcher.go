package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"hotel_sync/internal/domain"
)

type Resyncer interface {
	Resync(ctx context.Context, t domain.Trigger) (SyncReport, error)
}

type RatePlanEnqueuer interface {
	EnqueueRatePlans(ctx context.Context, refs []domain.RatePlanRef) ([]domain.DistributionMessage, error)
}

// Committer durably records a processed resume token.
type Committer interface {
	Commit(ctx context.Context, token string) error
}

// Dispatcher consumes watcher events. Work runs on its own goroutine in
// passes: a pass queues every pending rate plan for distribution and then
// rebuilds the index. Events waiting behind a running pass collapse into the
// next one, since every rebuild is complete and plans are keyed by hotel and
// code. A token is committed only after a pass covering it fully succeeded;
// a failed pass is put back and retried.
type Dispatcher struct {
	index      Resyncer
	rates      RatePlanEnqueuer
	commit     Committer
	retryDelay time.Duration
	// OnEnqueued runs after rate plan changes were queued for distribution.
	OnEnqueued func()
	// Coalesce holds each pass back so a burst of events shares it.
	Coalesce time.Duration

	mu         sync.Mutex
	fullScan   bool
	fullReason string
	latest     *domain.SyncEvent
	plans      map[domain.RatePlanRef]struct{}
	wake       chan struct{}
}

// pass is one unit of dispatcher work taken from the pending state.
type pass struct {
	full   bool
	reason string
	ev     *domain.SyncEvent
	plans  []domain.RatePlanRef
}

func NewDispatcher(index Resyncer, rates RatePlanEnqueuer, commit Committer, retryDelay time.Duration) *Dispatcher {
	if retryDelay <= 0 {
		retryDelay = 5 * time.Second
	}
	return &Dispatcher{
		index:      index,
		rates:      rates,
		commit:     commit,
		retryDelay: retryDelay,
		plans:      make(map[domain.RatePlanRef]struct{}),
		wake:       make(chan struct{}, 1),
	}
}

// RequestFullScan schedules an unconditional rebuild.
func (d *Dispatcher) RequestFullScan(reason string) {
	d.mu.Lock()
	d.fullScan = true
	if d.fullReason == "" {
		d.fullReason = reason
	}
	d.mu.Unlock()
	d.signal()
}

// Run handles events until the channel closes or ctx ends.
func (d *Dispatcher) Run(ctx context.Context, events <-chan domain.SyncEvent) error {
	wctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.work(wctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			d.handle(ev)
		}
	}
}

func (d *Dispatcher) handle(ev domain.SyncEvent) {
	d.mu.Lock()
	if ev.Collection == domain.CollectionRatePlans && d.rates != nil {
		if ev.OperationType == domain.OpDelete {
			log.Debug().Str("rate_plan", ev.DocumentID).Msg("rate plan deleted, nothing to distribute")
		} else {
			d.plans[domain.ParseRatePlanRef(ev.DocumentID)] = struct{}{}
		}
	}
	d.latest = &ev
	d.mu.Unlock()
	d.signal()
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.wake:
		}
		if d.Coalesce > 0 && !sleep(ctx, d.Coalesce) {
			return
		}

		p := d.take()
		if !p.full && p.ev == nil && len(p.plans) == 0 {
			continue
		}
		if err := d.run(ctx, &p); err != nil {
			d.requeue(p)
			if !sleep(ctx, d.retryDelay) {
				return
			}
			d.signal()
			continue
		}

		if p.ev != nil && d.commit != nil {
			if err := d.commit.Commit(ctx, p.ev.ResumeToken); err != nil {
				log.Error().Err(err).Str("resume_token", p.ev.ResumeToken).Msg("committing resume token failed")
			}
		}
	}
}

func (d *Dispatcher) take() pass {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := pass{full: d.fullScan, reason: d.fullReason, ev: d.latest}
	for ref := range d.plans {
		p.plans = append(p.plans, ref)
	}
	domain.SortRatePlanRefs(p.plans)
	d.fullScan, d.fullReason, d.latest = false, "", nil
	clear(d.plans)
	return p
}

// run clears p.plans once they are queued so a retry of the same pass does
// not queue them twice.
func (d *Dispatcher) run(ctx context.Context, p *pass) error {
	if len(p.plans) > 0 {
		if _, err := d.rates.EnqueueRatePlans(ctx, p.plans); err != nil {
			le := log.Error().Err(err).Int("rate_plans", len(p.plans))
			if p.ev != nil {
				le = le.Str("resume_token", p.ev.ResumeToken)
			}
			le.Msg("queueing rate plan distribution failed, will retry")
			return err
		}
		p.plans = nil
		if d.OnEnqueued != nil {
			d.OnEnqueued()
		}
	}
	if !p.full && p.ev == nil {
		return nil
	}

	t := domain.FullScan(p.reason)
	if !p.full {
		t = domain.EventTrigger(*p.ev)
	}
	if _, err := d.index.Resync(ctx, t); err != nil && domain.KindOf(err) != domain.KindPartialBatchFailure {
		return err
	}
	return nil
}

// requeue puts back the unfinished part of a failed pass. A newer event
// already waiting replaces p.ev, since its commit covers p.ev as well.
func (d *Dispatcher) requeue(p pass) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p.full {
		d.fullScan = true
		if d.fullReason == "" {
			d.fullReason = p.reason
		}
	}
	if p.ev != nil && d.latest == nil {
		d.latest = p.ev
	}
	for _, ref := range p.plans {
		d.plans[ref] = struct{}{}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
