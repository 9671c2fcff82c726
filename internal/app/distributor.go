package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"hotel_sync/internal/adapters/observability"
	"hotel_sync/internal/domain"
)

type DistributorOptions struct {
	FanOut      int
	MaxAttempts int
	RetryBase   time.Duration
	RetryMax    time.Duration
	SendTimeout time.Duration
	// Lease is how long a claimed attempt is held from other senders.
	// Defaults to SendTimeout plus 30s.
	Lease time.Duration
}

// Distributor builds one OTA message per hotel, persists it and pushes it to
// the partner. A message keeps its echo token for every attempt.
type Distributor struct {
	store    domain.DistributionStore
	partner  domain.RatePartner
	plans    domain.RatePlanStore
	sem      *semaphore.Weighted
	opts     DistributorOptions
	now      func() time.Time
	newToken func() string
}

func NewDistributor(store domain.DistributionStore, partner domain.RatePartner, plans domain.RatePlanStore, o DistributorOptions) *Distributor {
	if o.FanOut <= 0 {
		o.FanOut = 4
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 8
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 30 * time.Second
	}
	if o.RetryMax <= 0 {
		o.RetryMax = 30 * time.Minute
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 20 * time.Second
	}
	if o.Lease <= 0 {
		o.Lease = o.SendTimeout + 30*time.Second
	}
	return &Distributor{
		store:    store,
		partner:  partner,
		plans:    plans,
		sem:      semaphore.NewWeighted(int64(o.FanOut)),
		opts:     o,
		now:      time.Now,
		newToken: uuid.NewString,
	}
}

// BuildAndSend persists and sends one message per hotel group. The returned
// messages carry the outcome of this attempt; failures are left for Retry.
func (d *Distributor) BuildAndSend(ctx context.Context, lines []domain.RatePlanLine) ([]domain.DistributionMessage, error) {
	// hold the messages away from the retry job while this call sends them
	msgs, err := d.persist(ctx, lines, d.lease())
	if err != nil {
		return msgs, err
	}
	return d.sendAll(ctx, msgs), nil
}

// Enqueue persists messages as Pending and due now; the retry job sends them.
func (d *Distributor) Enqueue(ctx context.Context, lines []domain.RatePlanLine) ([]domain.DistributionMessage, error) {
	return d.persist(ctx, lines, 0)
}

// DistributeRatePlans sends the given plan codes for every hotel carrying them.
func (d *Distributor) DistributeRatePlans(ctx context.Context, codes []string) ([]domain.DistributionMessage, error) {
	lines, err := d.plans.ListRatePlanLines(ctx, domain.RefsForCodes(codes))
	if err != nil {
		return nil, fmt.Errorf("load rate plan lines: %w", err)
	}
	return d.BuildAndSend(ctx, lines)
}

func (d *Distributor) EnqueueRatePlans(ctx context.Context, refs []domain.RatePlanRef) ([]domain.DistributionMessage, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	lines, err := d.plans.ListRatePlanLines(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("load rate plan lines: %w", err)
	}
	return d.Enqueue(ctx, lines)
}

// Retry resends due Pending and Failed messages. It returns how many were
// attempted.
func (d *Distributor) Retry(ctx context.Context, limit int) (int, error) {
	due, err := d.store.ClaimDueDistributions(ctx, d.now().UTC(), d.lease(), limit)
	if err != nil {
		return 0, fmt.Errorf("claim due distributions: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}
	out := d.sendAll(ctx, due)
	attempted, acked := 0, 0
	for i, m := range out {
		if m.Attempt == due[i].Attempt {
			continue
		}
		attempted++
		if m.AckStatus == domain.AckAcked {
			acked++
		}
	}
	log.Info().Int("attempted", attempted).Int("acked", acked).Msg("distribution retry pass")
	return attempted, nil
}

func (d *Distributor) lease() time.Duration { return d.opts.Lease }

func (d *Distributor) persist(ctx context.Context, lines []domain.RatePlanLine, hold time.Duration) ([]domain.DistributionMessage, error) {
	if len(lines) == 0 {
		return nil, nil
	}
	now := d.now().UTC()
	next := now.Add(hold)
	var out []domain.DistributionMessage
	for _, g := range domain.GroupByHotel(lines) {
		m := domain.DistributionMessage{
			EchoToken:     d.newToken(),
			HotelCode:     g.HotelCode,
			HotelName:     g.HotelName,
			Lines:         g.Lines,
			AckStatus:     domain.AckPending,
			NextAttemptAt: &next,
			CreatedAt:     now,
		}
		saved, err := d.store.SaveDistribution(ctx, m)
		if err != nil {
			return out, fmt.Errorf("save distribution for hotel %s: %w", g.HotelCode, err)
		}
		out = append(out, saved)
	}
	return out, nil
}

// sendAll sends concurrently across hotels, bounded by the fan-out limit.
// Messages not started before ctx ends are returned untouched. Each message
// is claimed only once it holds a fan-out slot, so time spent queued never
// eats into its lease.
func (d *Distributor) sendAll(ctx context.Context, msgs []domain.DistributionMessage) []domain.DistributionMessage {
	out := make([]domain.DistributionMessage, len(msgs))
	var wg sync.WaitGroup
	for i, m := range msgs {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			copy(out[i:], msgs[i:])
			break
		}
		wg.Add(1)
		go func(i int, m domain.DistributionMessage) {
			defer wg.Done()
			defer d.sem.Release(1)
			out[i] = d.send(ctx, m)
		}(i, m)
	}
	wg.Wait()
	return out
}

func (d *Distributor) send(ctx context.Context, m domain.DistributionMessage) domain.DistributionMessage {
	if m.AckStatus == domain.AckAcked {
		return m
	}
	lg := log.With().Str("echo_token", m.EchoToken).Str("hotel_code", m.HotelCode).Logger()

	until := d.now().UTC().Add(d.lease())
	claimed, err := d.store.ClaimDistributionAttempt(ctx, m.ID, m.Attempt, until)
	if err != nil {
		lg.Error().Err(err).Int("attempt", m.Attempt+1).Msg("claiming distribution attempt failed")
		return m
	}
	if !claimed {
		lg.Debug().Int("attempt", m.Attempt+1).Msg("distribution attempt taken by another sender")
		return m
	}
	m.Attempt++
	m.NextAttemptAt = &until
	lg = lg.With().Int("attempt", m.Attempt).Logger()

	sendCtx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
	ack, err := d.partner.SendRateAmountNotif(sendCtx, m)
	cancel()

	now := d.now().UTC()
	m.SentAt = &now
	switch {
	case err != nil:
		d.fail(&m, now, err.Error(), domain.IsRetryable(err), retryHint(err))
	case len(ack.Errors) > 0:
		d.fail(&m, now, "partner rejected message: "+strings.Join(ack.Errors, "; "), true, 0)
	case !ack.Success && len(ack.LineErrors) == 0:
		d.fail(&m, now, "partner response carried neither success nor errors", true, 0)
	default:
		m.AckStatus = domain.AckAcked
		m.LineErrors = ack.LineErrors
		m.LastError = ""
		m.NextAttemptAt = nil
	}

	// persist with a fresh context so a cancelled caller still records the outcome
	saveCtx, cancelSave := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancelSave()
	if err := d.store.UpdateDistribution(saveCtx, m); errors.Is(err, domain.ErrVersionConflict) {
		lg.Warn().Str("ack_status", string(m.AckStatus)).Msg("distribution outcome superseded by a later attempt")
	} else if err != nil {
		lg.Error().Err(err).Msg("recording distribution outcome failed")
	}

	observability.Distributions.WithLabelValues(strings.ToLower(string(m.AckStatus))).Inc()
	switch {
	case m.AckStatus == domain.AckAcked && len(m.LineErrors) > 0:
		for _, le := range m.LineErrors {
			lg.Warn().Int("line", le.Line).Str("code", le.Code).Str("message", le.Message).Msg("partner rejected rate line")
		}
	case m.AckStatus == domain.AckAcked:
		lg.Info().Int("lines", len(m.Lines)).Msg("distribution acknowledged")
	case m.NextAttemptAt == nil:
		lg.Error().Str("error", m.LastError).Msg("distribution failed permanently")
	default:
		lg.Warn().Str("error", m.LastError).Time("next_attempt_at", *m.NextAttemptAt).Msg("distribution failed, retry scheduled")
	}
	return m
}

func (d *Distributor) fail(m *domain.DistributionMessage, now time.Time, reason string, retryable bool, hint time.Duration) {
	m.AckStatus = domain.AckFailed
	m.LastError = reason
	if !retryable || m.Attempt >= d.opts.MaxAttempts {
		m.NextAttemptAt = nil
		return
	}
	wait := d.retryDelay(m.Attempt)
	if hint > wait {
		wait = hint
	}
	next := now.Add(wait)
	m.NextAttemptAt = &next
}

// retryDelay is the exponential backoff wait after the given attempt,
// capped at RetryMax.
func (d *Distributor) retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.opts.RetryBase
	b.MaxInterval = d.opts.RetryMax
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()

	wait := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		wait = b.NextBackOff()
	}
	if wait < 0 || wait > d.opts.RetryMax {
		wait = d.opts.RetryMax
	}
	return wait
}

func retryHint(err error) time.Duration {
	var h domain.RetryHinter
	if errors.As(err, &h) {
		return h.RetryAfterHint()
	}
	return 0
}
