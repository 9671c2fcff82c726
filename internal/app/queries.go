package app

import (
	"context"
	"strings"

	"hotel_sync/internal/domain"
)

// QueryService serves read-only views for operators. Inventory is never
// cached: callers need the current version to build their next delta.
type QueryService struct {
	inv  domain.InventoryStore
	dist domain.DistributionStore
}

func NewQueryService(inv domain.InventoryStore, dist domain.DistributionStore) *QueryService {
	return &QueryService{inv: inv, dist: dist}
}

func (s *QueryService) GetInventory(ctx context.Context, id int64) (domain.InventoryRecord, error) {
	return s.inv.GetInventory(ctx, id)
}

func (s *QueryService) FindInventory(ctx context.Context, k domain.InventoryKey) (domain.InventoryRecord, error) {
	if !k.Complete() {
		return domain.InventoryRecord{}, domain.E(domain.KindSchemaViolation, "app.FindInventory", errIncompleteKey)
	}
	return s.inv.FindInventoryByKey(ctx, k)
}

func (s *QueryService) GetDistribution(ctx context.Context, echoToken string) (domain.DistributionMessage, error) {
	echoToken = strings.TrimSpace(echoToken)
	if echoToken == "" {
		return domain.DistributionMessage{}, domain.ErrNotFound
	}
	m, err := s.dist.GetDistribution(ctx, echoToken)
	if err != nil {
		return domain.DistributionMessage{}, err
	}
	// copy so callers cannot alias the store's slices
	m.Lines = append([]domain.RatePlanLine(nil), m.Lines...)
	m.LineErrors = append([]domain.LineError(nil), m.LineErrors...)
	return m, nil
}
