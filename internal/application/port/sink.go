package port

import (
	"context"
	"time"

	"flipwatch/internal/domain/model"
)

// NotificationSink 通知出口，调用方不等待投递结果
type NotificationSink interface {
	Send(ctx context.Context, ev model.Event) error
}

// SyncLocker serializes ProcessNextBatch per (owner, source) key.
type SyncLocker interface {
	// TryLock returns ok=false without blocking when the key is held elsewhere.
	TryLock(ctx context.Context, key string) (unlock func(), ok bool, err error)
}

// SyncMetrics 同步指标
type SyncMetrics interface {
	ObserveBatch(res model.BatchResult, elapsed time.Duration)
	ObserveFetch(src model.Source, outcome string)
	ObserveRefresh(owner string, res model.RefreshResult)
}
