package port

import (
	"context"
	"errors"
	"time"

	"flipwatch/internal/domain/model"
)

// ErrRateLimited 来源返回限流（整批失败，应提前结束本次调用）
var ErrRateLimited = errors.New("pricing source rate limited")

// FetchResult is the tagged outcome for one requested id: exactly one of Snapshot or Err is set.
type FetchResult struct {
	ID       string
	Snapshot *model.PriceSnapshot
	Err      error
}

// PricingSourceClient 价格来源客户端
// A non-nil error from FetchBatch is a batch-level failure (transport or quota);
// per-id failures travel in FetchResult.Err.
type PricingSourceClient interface {
	Source() model.Source
	FetchBatch(ctx context.Context, ids []string) ([]FetchResult, error)
	// MaxBatchSize 单次调用最多 id 数
	MaxBatchSize() int
	// MinInterval 两次调用之间的最小间隔
	MinInterval() time.Duration
}
