package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"hotel_sync/internal/domain"
)

// DistributionRetryJob resends due distribution messages.
type DistributionRetryJob struct {
	d     *Distributor
	batch int
}

func NewDistributionRetryJob(d *Distributor, batch int) *DistributionRetryJob {
	if batch <= 0 {
		batch = 100
	}
	return &DistributionRetryJob{d: d, batch: batch}
}

func (j *DistributionRetryJob) Name() string { return "distribution-retry" }

func (j *DistributionRetryJob) Run(ctx context.Context) error {
	_, err := j.d.Retry(ctx, j.batch)
	return err
}

// ChangeLogRetentionJob trims change-log rows older than the retention
// window. Resume tokens pointing below the trim become expired.
type ChangeLogRetentionJob struct {
	trimmer   domain.ChangeLogTrimmer
	retention time.Duration
	clock     clockwork.Clock
}

func NewChangeLogRetentionJob(t domain.ChangeLogTrimmer, retention time.Duration, clock clockwork.Clock) *ChangeLogRetentionJob {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ChangeLogRetentionJob{trimmer: t, retention: retention, clock: clock}
}

func (j *ChangeLogRetentionJob) Name() string { return "changelog-retention" }

func (j *ChangeLogRetentionJob) Run(ctx context.Context) error {
	cutoff := j.clock.Now().UTC().Add(-j.retention)
	n, err := j.trimmer.TrimChangeLog(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("trim change log: %w", err)
	}
	if n > 0 {
		log.Info().Int64("trimmed", n).Time("cutoff", cutoff).Msg("change log trimmed")
	}
	return nil
}
