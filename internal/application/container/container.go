package container

import (
	"time"

	"flipwatch/internal/application/port"
	"flipwatch/internal/application/service"
)

// Deps 应用层依赖的全部端口
type Deps struct {
	Items      port.TrackedItemRepository
	Snapshots  port.SnapshotRepository
	Cursors    port.CursorRepository
	Exclusions port.ExclusionRepository
	Ops        port.OpsReader

	Sink    port.NotificationSink
	Locker  port.SyncLocker
	Metrics port.SyncMetrics

	Location      *time.Location
	NotifyTimeout time.Duration
	Now           func() time.Time
}

// SourceBinding 一个价格来源及其调度策略
type SourceBinding struct {
	Client port.PricingSourceClient
	Policy service.SyncPolicy
}

type Container struct {
	deps     Deps
	sources  []SourceBinding
	limits   service.WatchlistLimits
	queryOpt service.AggregatorOptions

	materializer  *service.WatchlistMaterializer
	synchronizers []*service.BatchSynchronizer
	aggregator    *service.OpportunityAggregator
	ledger        *service.ExclusionLedger
}

func New(deps Deps, sources []SourceBinding, limits service.WatchlistLimits, queryOpt service.AggregatorOptions) *Container {
	if deps.Metrics == nil {
		deps.Metrics = service.NopMetrics{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Container{
		deps:     deps,
		sources:  sources,
		limits:   limits,
		queryOpt: queryOpt,
	}
}

func (c *Container) Materializer() *service.WatchlistMaterializer {
	if c.materializer == nil {
		c.materializer = service.NewWatchlistMaterializer(service.MaterializerDeps{
			Items:      c.deps.Items,
			Snapshots:  c.deps.Snapshots,
			Exclusions: c.deps.Exclusions,
			Sales:      c.deps.Ops,
			Popularity: c.deps.Ops,
			Seeds:      c.deps.Ops,
			Metrics:    c.deps.Metrics,
			Limits:     c.limits,
			Now:        c.deps.Now,
		})
	}
	return c.materializer
}

// Synchronizers 每个来源一个，顺序与 sources 一致
func (c *Container) Synchronizers() []*service.BatchSynchronizer {
	if c.synchronizers == nil {
		c.synchronizers = make([]*service.BatchSynchronizer, 0, len(c.sources))
		for _, b := range c.sources {
			c.synchronizers = append(c.synchronizers, service.NewBatchSynchronizer(service.SynchronizerDeps{
				Client:        b.Client,
				Items:         c.deps.Items,
				Snapshots:     c.deps.Snapshots,
				Cursors:       c.deps.Cursors,
				Locker:        c.deps.Locker,
				Sink:          c.deps.Sink,
				Metrics:       c.deps.Metrics,
				Location:      c.deps.Location,
				Now:           c.deps.Now,
				NotifyTimeout: c.deps.NotifyTimeout,
			}, b.Policy))
		}
	}
	return c.synchronizers
}

func (c *Container) Aggregator() *service.OpportunityAggregator {
	if c.aggregator == nil {
		c.aggregator = service.NewOpportunityAggregator(c.deps.Items, c.deps.Snapshots, c.deps.Exclusions, c.deps.Ops, c.queryOpt)
	}
	return c.aggregator
}

func (c *Container) Ledger() *service.ExclusionLedger {
	if c.ledger == nil {
		c.ledger = service.NewExclusionLedger(c.deps.Exclusions, c.deps.Items)
	}
	return c.ledger
}

// Coordinator 构建调度器；每次调用返回新实例，共享同一组同步器
func (c *Container) Coordinator(owners []string, interval, refreshInterval time.Duration) *service.SyncCoordinator {
	return service.NewSyncCoordinator(c.Synchronizers(), c.Materializer(), c.deps.Cursors, owners, interval, refreshInterval)
}
