package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"hotel_sync/internal/adapters/observability"
	"hotel_sync/internal/domain"
)

type IndexSyncOptions struct {
	Index       string
	BatchSize   int
	Workers     int
	CallTimeout time.Duration
	// Consumer names the replay-guard namespace for event triggers.
	Consumer string
}

// SyncReport summarizes one resync run.
type SyncReport struct {
	Trigger    domain.TriggerKind
	Skipped    bool
	Properties int
	Indexed    int
	Failed     int
	Duration   time.Duration
}

// IndexSyncEngine rebuilds every property aggregate and upserts it into the
// search index. It never patches documents; the last rebuild wins.
type IndexSyncEngine struct {
	props domain.PropertyStore
	index domain.SearchIndex
	guard domain.ReplayGuard
	opts  IndexSyncOptions

	// one rebuild at a time
	mu sync.Mutex
}

func NewIndexSyncEngine(props domain.PropertyStore, index domain.SearchIndex, guard domain.ReplayGuard, o IndexSyncOptions) *IndexSyncEngine {
	if o.Index == "" {
		o.Index = "properties"
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 200
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 30 * time.Second
	}
	if o.Consumer == "" {
		o.Consumer = "index"
	}
	return &IndexSyncEngine{props: props, index: index, guard: guard, opts: o}
}

// Resync reloads the whole property graph and bulk-upserts it. Per-item
// index errors are reported as a PartialBatchFailure; a failed bulk call or
// store read is TransientIO and the run should be retried.
func (e *IndexSyncEngine) Resync(ctx context.Context, t domain.Trigger) (SyncReport, error) {
	const op = "app.Resync"
	rep := SyncReport{Trigger: t.Kind}
	start := time.Now()

	token := ""
	if t.Kind == domain.TriggerEvent && t.Event != nil && e.guard != nil {
		token = t.Event.ResumeToken
		first, err := e.guard.FirstSeen(ctx, e.opts.Consumer, token)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("resume_token", token).Msg("replay guard unavailable, rebuilding anyway")
			token = ""
		case !first:
			rep.Skipped = true
			observability.IndexRuns.WithLabelValues(string(t.Kind), "skipped").Inc()
			log.Debug().Str("resume_token", token).Msg("event already processed, skipping rebuild")
			return rep, nil
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rep, err := e.rebuild(ctx, rep)
	rep.Duration = time.Since(start)

	lg := log.With().Str("trigger", string(t.Kind)).Int("properties", rep.Properties).
		Int("indexed", rep.Indexed).Int("failed", rep.Failed).Dur("duration", rep.Duration).Logger()
	switch {
	case err != nil:
		if token != "" {
			if ferr := e.guard.Forget(ctx, e.opts.Consumer, token); ferr != nil {
				lg.Warn().Err(ferr).Msg("clearing replay guard failed")
			}
		}
		observability.IndexRuns.WithLabelValues(string(t.Kind), "failure").Inc()
		lg.Error().Err(err).Msg("index resync failed")
		return rep, domain.E(domain.KindTransientIO, op, err)
	case rep.Failed > 0:
		observability.IndexRuns.WithLabelValues(string(t.Kind), "partial").Inc()
		lg.Warn().Msg("index resync finished with item failures")
		return rep, domain.E(domain.KindPartialBatchFailure, op, fmt.Errorf("%d of %d documents failed", rep.Failed, rep.Properties))
	default:
		observability.IndexRuns.WithLabelValues(string(t.Kind), "success").Inc()
		lg.Info().Str("reason", t.Reason).Msg("index resync complete")
		return rep, nil
	}
}

func (e *IndexSyncEngine) rebuild(ctx context.Context, rep SyncReport) (SyncReport, error) {
	aggs, err := e.props.LoadAggregates(ctx)
	if err != nil {
		return rep, fmt.Errorf("load aggregates: %w", err)
	}
	rep.Properties = len(aggs)

	docs := make([]domain.IndexDocument, 0, len(aggs))
	for _, a := range aggs {
		d, err := encodeAggregate(a)
		if err != nil {
			rep.Failed++
			observability.IndexItems.WithLabelValues("failed").Inc()
			log.Error().Err(err).Int64("property_id", a.ID).Msg("encoding property document failed")
			continue
		}
		docs = append(docs, d)
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(e.opts.Workers)
	for lo := 0; lo < len(docs); lo += e.opts.BatchSize {
		lo := lo
		hi := min(lo+e.opts.BatchSize, len(docs))
		chunk := docs[lo:hi]
		g.Go(func() error {
			indexed, failed, err := e.upsertChunk(ctx, chunk)
			mu.Lock()
			defer mu.Unlock()
			rep.Indexed += indexed
			rep.Failed += failed
			if err != nil {
				errs = append(errs, fmt.Errorf("chunk %d-%d: %w", lo, hi, err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return rep, multierr.Combine(errs...)
}

// upsertChunk sends one bulk request. Item failures are logged one by one
// and do not fail the chunk.
func (e *IndexSyncEngine) upsertChunk(ctx context.Context, chunk []domain.IndexDocument) (int, int, error) {
	cctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()

	res, err := e.index.BulkUpsert(cctx, e.opts.Index, chunk)
	if err != nil {
		observability.IndexItems.WithLabelValues("failed").Add(float64(len(chunk)))
		return 0, len(chunk), err
	}
	failed := 0
	for _, it := range res.Items {
		if it.Error == "" {
			continue
		}
		failed++
		log.Warn().Str("doc_id", it.ID).Int("status", it.Status).Str("error", it.Error).Msg("index item failed")
	}
	indexed := len(res.Items) - failed
	observability.IndexItems.WithLabelValues("indexed").Add(float64(indexed))
	observability.IndexItems.WithLabelValues("failed").Add(float64(failed))
	return indexed, failed, nil
}
