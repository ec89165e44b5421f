package port

import (
	"context"
	"time"

	"flipwatch/internal/domain/model"
)

// 以下为只读的业务数据协作方（订单、排行、导入、库存）

type SalesHistoryRepository interface {
	// UnitsSoldByCounterpart sums units sold since the given instant, in first-seen order.
	UnitsSoldByCounterpart(ctx context.Context, owner string, since time.Time) ([]model.SalesCount, error)
}

type PopularityRepository interface {
	// RankedRetiredCandidates 按排名升序返回候选；RetirementDate 可能为空
	RankedRetiredCandidates(ctx context.Context) ([]model.PopularityCandidate, error)
}

type SeedRepository interface {
	BulkSeededCandidates(ctx context.Context, owner string) ([]model.SeedCandidate, error)
}

type InventoryRepository interface {
	OwnListings(ctx context.Context, owner string) ([]model.OwnListing, error)
}

// OpsReader bundles the collaborator readers a single backend usually serves.
type OpsReader interface {
	SalesHistoryRepository
	PopularityRepository
	SeedRepository
	InventoryRepository
}
