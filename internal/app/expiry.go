package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"hotel_sync/internal/adapters/observability"
	"hotel_sync/internal/domain"
)

// PaymentExpiryJob cancels every Pending intent older than the threshold in
// a single conditional write. Running it twice, or from two processes, is a
// no-op for rows already Cancelled.
type PaymentExpiryJob struct {
	store     domain.PaymentStore
	threshold time.Duration
	clock     clockwork.Clock
}

func NewPaymentExpiryJob(store domain.PaymentStore, threshold time.Duration, clock clockwork.Clock) *PaymentExpiryJob {
	if threshold <= 0 {
		threshold = 40 * time.Minute
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &PaymentExpiryJob{store: store, threshold: threshold, clock: clock}
}

func (j *PaymentExpiryJob) Name() string { return "payment-expiry" }

func (j *PaymentExpiryJob) Run(ctx context.Context) error {
	now := j.clock.Now().UTC()
	cutoff := now.Add(-j.threshold)
	n, err := j.store.CancelExpiredPending(ctx, cutoff, now)
	if err != nil {
		return fmt.Errorf("cancel expired payment intents: %w", err)
	}
	observability.PaymentsCancelled.Add(float64(n))
	log.Info().Int64("affected", n).Time("cutoff", cutoff).Msg("payment expiry tick")
	return nil
}
