package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"hotel_sync/internal/adapters/observability"
	"hotel_sync/internal/domain"
)

// Reconciler is the only writer of inventory counts. Every delta is checked
// against the caller's expected version and applied on its own, so one
// conflict never undoes its siblings.
type Reconciler struct {
	store domain.InventoryStore
	now   func() time.Time
}

func NewReconciler(store domain.InventoryStore) *Reconciler {
	return &Reconciler{store: store, now: time.Now}
}

func (r *Reconciler) Apply(ctx context.Context, deltas []domain.AvailabilityDelta) domain.ApplyResult {
	res := domain.ApplyResult{Applied: []domain.DeltaOutcome{}, Rejected: []domain.DeltaOutcome{}}
	for i, d := range deltas {
		out := r.applyOne(ctx, d)
		out.Index = i
		if out.Reason != "" {
			observability.Reconciliations.WithLabelValues(string(out.Reason)).Inc()
			log.Debug().Int("index", i).Int64("inventory_id", out.InventoryID).
				Str("reason", string(out.Reason)).Str("detail", out.Detail).Msg("availability delta rejected")
			res.Rejected = append(res.Rejected, out)
			continue
		}
		if out.Created {
			observability.Reconciliations.WithLabelValues("created").Inc()
		} else {
			observability.Reconciliations.WithLabelValues("applied").Inc()
		}
		res.Applied = append(res.Applied, out)
	}
	log.Info().Int("applied", len(res.Applied)).Int("rejected", len(res.Rejected)).Msg("availability deltas reconciled")
	return res
}

func (r *Reconciler) applyOne(ctx context.Context, d domain.AvailabilityDelta) domain.DeltaOutcome {
	out := domain.DeltaOutcome{InventoryID: d.InventoryID}
	if d.Availability < 0 {
		return reject(out, domain.RejectInvalid, "availability must not be negative")
	}
	if d.ExpectedVersion < 0 {
		return reject(out, domain.RejectInvalid, "expected version must not be negative")
	}

	var (
		rec domain.InventoryRecord
		err error
	)
	switch {
	case d.InventoryID != 0:
		rec, err = r.store.GetInventory(ctx, d.InventoryID)
	case d.Key.Complete():
		if d.Key.EndDate.Before(d.Key.StartDate) {
			return reject(out, domain.RejectInvalid, "end date before start date")
		}
		rec, err = r.store.FindInventoryByKey(ctx, d.Key)
		if errors.Is(err, domain.ErrNotFound) && d.ExpectedVersion == 0 {
			return r.create(ctx, out, d)
		}
	default:
		return reject(out, domain.RejectInvalid, "inventory id or complete key is required")
	}
	if errors.Is(err, domain.ErrNotFound) {
		return reject(out, domain.RejectNotFound, "no inventory record")
	}
	if err != nil {
		return reject(out, domain.RejectUnavailable, err.Error())
	}

	out.InventoryID = rec.ID
	out.CurrentVersion = rec.Version
	if rec.Closed() {
		return reject(out, domain.RejectClosed, "inventory range is closed")
	}
	if d.ExpectedVersion != rec.Version {
		return reject(out, domain.RejectConflict,
			fmt.Sprintf("expected version %d, current %d", d.ExpectedVersion, rec.Version))
	}

	updated, err := r.store.UpdateInventoryCount(ctx, rec.ID, d.ExpectedVersion, d.Availability)
	if errors.Is(err, domain.ErrVersionConflict) {
		// lost a race between our read and the conditional write
		out.CurrentVersion = r.currentVersion(ctx, rec.ID, rec.Version)
		return reject(out, domain.RejectConflict, "record changed concurrently")
	}
	if err != nil {
		return reject(out, domain.RejectUnavailable, err.Error())
	}
	out.Record = &updated
	out.CurrentVersion = updated.Version
	return out
}

func (r *Reconciler) create(ctx context.Context, out domain.DeltaOutcome, d domain.AvailabilityDelta) domain.DeltaOutcome {
	rec, err := r.store.CreateInventory(ctx, d.Key, d.Availability)
	if errors.Is(err, domain.ErrVersionConflict) {
		if cur, ferr := r.store.FindInventoryByKey(ctx, d.Key); ferr == nil {
			out.InventoryID = cur.ID
			out.CurrentVersion = cur.Version
		}
		return reject(out, domain.RejectConflict, "record created concurrently")
	}
	if err != nil {
		return reject(out, domain.RejectUnavailable, err.Error())
	}
	out.InventoryID = rec.ID
	out.Created = true
	out.Record = &rec
	out.CurrentVersion = rec.Version
	return out
}

func (r *Reconciler) currentVersion(ctx context.Context, id, fallback int64) int64 {
	cur, err := r.store.GetInventory(ctx, id)
	if err != nil {
		return fallback
	}
	return cur.Version
}

func reject(out domain.DeltaOutcome, reason domain.RejectReason, detail string) domain.DeltaOutcome {
	out.Reason = reason
	out.Detail = detail
	return out
}

// CloseRange marks a superseded range closed. The record is kept and its
// version bumped; later deltas against it are rejected.
func (r *Reconciler) CloseRange(ctx context.Context, id, expectedVersion int64) (domain.InventoryRecord, error) {
	const op = "app.CloseRange"
	rec, err := r.store.GetInventory(ctx, id)
	if err != nil {
		return domain.InventoryRecord{}, err
	}
	if rec.Closed() {
		return rec, domain.E(domain.KindVersionConflict, op, fmt.Errorf("inventory %d already closed", id))
	}
	if rec.Version != expectedVersion {
		return rec, domain.E(domain.KindVersionConflict, op,
			fmt.Errorf("expected version %d, current %d", expectedVersion, rec.Version))
	}
	closed, err := r.store.CloseInventory(ctx, id, expectedVersion, r.now().UTC())
	if err != nil {
		return rec, err
	}
	observability.Reconciliations.WithLabelValues("closed").Inc()
	log.Info().Int64("inventory_id", id).Int64("version", closed.Version).Msg("inventory range closed")
	return closed, nil
}

var errIncompleteKey = errors.New("hotel code, inventory type and both dates are required")
