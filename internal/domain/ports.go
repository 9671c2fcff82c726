package domain

import (
	"context"
	"time"
)

// InventoryStore is the only write path to inventory. Mutations are
// compare-and-set on Version.
type InventoryStore interface {
	GetInventory(ctx context.Context, id int64) (InventoryRecord, error)
	FindInventoryByKey(ctx context.Context, k InventoryKey) (InventoryRecord, error)
	// CreateInventory inserts at version 1; an existing key yields ErrVersionConflict.
	CreateInventory(ctx context.Context, k InventoryKey, count int) (InventoryRecord, error)
	UpdateInventoryCount(ctx context.Context, id, expectedVersion int64, count int) (InventoryRecord, error)
	CloseInventory(ctx context.Context, id, expectedVersion int64, at time.Time) (InventoryRecord, error)
}

type PaymentStore interface {
	// CancelExpiredPending moves every Pending intent created at or before
	// cutoff to Cancelled in one conditional write.
	CancelExpiredPending(ctx context.Context, cutoff, now time.Time) (int64, error)
}

type PropertyStore interface {
	LoadAggregates(ctx context.Context) ([]PropertyAggregate, error)
}

type RatePlanStore interface {
	// ListRatePlanLines returns the lines of the referenced plans; no refs
	// selects every plan.
	ListRatePlanLines(ctx context.Context, refs []RatePlanRef) ([]RatePlanLine, error)
}

type DistributionStore interface {
	SaveDistribution(ctx context.Context, m DistributionMessage) (DistributionMessage, error)
	// UpdateDistribution records the outcome of attempt m.Attempt and fails
	// with ErrVersionConflict once a later attempt was claimed or the
	// message is Acked.
	UpdateDistribution(ctx context.Context, m DistributionMessage) error
	// ClaimDistributionAttempt moves a message from attempt to attempt+1 and
	// holds it until the given time. Only one caller wins a given attempt.
	ClaimDistributionAttempt(ctx context.Context, id int64, attempt int, until time.Time) (bool, error)
	GetDistribution(ctx context.Context, echoToken string) (DistributionMessage, error)
	// ClaimDueDistributions returns Pending or Failed messages whose next
	// attempt is due and pushes their next attempt out by lease, so two
	// senders never pick the same message. Acked messages are never returned.
	ClaimDueDistributions(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]DistributionMessage, error)
}

type ChangeLogTrimmer interface {
	TrimChangeLog(ctx context.Context, olderThan time.Time) (int64, error)
}

type SearchIndex interface {
	BulkUpsert(ctx context.Context, index string, docs []IndexDocument) (BulkResult, error)
}

// RetryHinter is implemented by partner errors that carry a server
// supplied retry delay.
type RetryHinter interface {
	RetryAfterHint() time.Duration
}

type RatePartner interface {
	SendRateAmountNotif(ctx context.Context, m DistributionMessage) (PartnerAck, error)
}

// Checkpoint persists the last processed resume token per consumer.
type Checkpoint interface {
	LoadToken(ctx context.Context, consumer string) (string, error)
	SaveToken(ctx context.Context, consumer, token string) error
}

// ReplayGuard remembers resume tokens already handled by a consumer.
type ReplayGuard interface {
	FirstSeen(ctx context.Context, consumer, token string) (bool, error)
	Forget(ctx context.Context, consumer, token string) error
}
