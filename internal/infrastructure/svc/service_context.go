package svc

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	appcontainer "flipwatch/internal/application/container"
	"flipwatch/internal/application/port"
	"flipwatch/internal/application/service"
	domainservice "flipwatch/internal/domain/service"
	"flipwatch/internal/infrastructure/config"
	infracontainer "flipwatch/internal/infrastructure/container"
	"flipwatch/internal/infrastructure/lock"
	"flipwatch/internal/infrastructure/metrics"
	"flipwatch/internal/infrastructure/source"
	"flipwatch/internal/infrastructure/storage/composite"
	sqliterepo "flipwatch/internal/infrastructure/storage/sqlite"
	"flipwatch/internal/interfaces/console"
)

type ServiceContext struct {
	Ctx    context.Context
	Config *config.Config

	// 基础设施层（第一层初始化）
	infra   *infracontainer.Container
	metrics *metrics.Registry

	// 输出端口
	Sink   port.NotificationSink
	Locker port.SyncLocker

	// 应用业务组件（依赖基础设施）
	app         *appcontainer.Container
	coordinator *service.SyncCoordinator
}

// New 创建并初始化 ServiceContext
// 这是应用启动的唯一入口点，所有依赖初始化都在这里完成
func New(ctx context.Context, cfg *config.Config) (*ServiceContext, error) {
	infra, err := infracontainer.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageInitFailed, err)
	}

	sc := &ServiceContext{
		Ctx:     ctx,
		Config:  cfg,
		infra:   infra,
		metrics: metrics.New(),
	}

	if err := sc.initializeComponents(); err != nil {
		_ = sc.Close()
		return nil, err
	}
	return sc, nil
}

// initializeComponents 按依赖顺序初始化
func (sc *ServiceContext) initializeComponents() error {
	// 1. 通知与锁：Redis 可用时跨进程，否则进程内
	sinks := []port.NotificationSink{console.NewSink()}
	if r := sc.infra.RedisRepo(); r != nil {
		sinks = append(sinks, r)
		sc.Locker = r
	} else {
		sc.Locker = lock.NewLocal()
	}
	sc.Sink = composite.New(sinks...)

	// 2. 价格来源
	bindings := buildSources(sc.Config)
	if len(bindings) == 0 {
		return ErrNoSourcesEnabled
	}

	// 3. 应用层
	db := sc.infra.SQLiteRepo().GetDB()
	cfg := sc.Config
	sc.app = appcontainer.New(appcontainer.Deps{
		Items:         sqliterepo.NewItemRepo(db),
		Snapshots:     sqliterepo.NewSnapshotRepo(db),
		Cursors:       sqliterepo.NewCursorRepo(db),
		Exclusions:    sqliterepo.NewExclusionRepo(db),
		Ops:           sc.infra.OpsReader(),
		Sink:          sc.Sink,
		Locker:        sc.Locker,
		Metrics:       sc.metrics,
		Location:      cfg.Location(),
		NotifyTimeout: cfg.NotifyTimeout(),
	}, bindings, service.WatchlistLimits{
		BestSellers:       cfg.Watchlist.BestSellers,
		PopularRetired:    cfg.Watchlist.PopularRetired,
		MaxItems:          cfg.Watchlist.MaxItems,
		SalesWindowMonths: cfg.Watchlist.SalesWindowMonths,
	}, service.AggregatorOptions{
		Thresholds: domainservice.Thresholds{
			MinProfitMarginPercent: cfg.Opportunities.MinProfitMarginPercent,
			MaxCOGPercent:          cfg.Opportunities.MaxCOGPercent,
		},
		DefaultLimit: cfg.Opportunities.DefaultLimit,
		MaxLimit:     cfg.Opportunities.MaxLimit,
	})
	sc.coordinator = sc.app.Coordinator(cfg.App.Owners, cfg.SyncInterval(), cfg.RefreshInterval())

	log.Info().
		Int("sources", len(bindings)).
		Strs("owners", cfg.App.Owners).
		Str("ops_backend", cfg.Ops.Backend).
		Bool("redis", sc.infra.RedisRepo() != nil).
		Msg("✓ All components initialized")
	return nil
}

// buildSources 把已启用的来源配置转成客户端 + 策略
func buildSources(cfg *config.Config) []appcontainer.SourceBinding {
	var out []appcontainer.SourceBinding
	add := func(sc config.Source, client port.PricingSourceClient) {
		out = append(out, appcontainer.SourceBinding{Client: client, Policy: policyFor(sc)})
		log.Info().
			Str("source", string(client.Source())).
			Str("base_url", sc.BaseURL).
			Int("batch_size", sc.BatchSize).
			Int("concurrency", sc.Concurrency).
			Msg("✓ pricing source enabled")
	}
	opts := func(sc config.Source) source.Options {
		return source.Options{BaseURL: sc.BaseURL, APIKey: sc.APIKey, Timeout: sc.Timeout(), Retries: 2}
	}

	if s := cfg.Sources.BuyBox; s.Enabled {
		add(s, source.NewBuyBox(opts(s), s.Domain))
	}
	if s := cfg.Sources.Secondary; s.Enabled {
		o := opts(s)
		o.Retries = 0 // 严格限流，失败留到下一轮
		add(s, source.NewSecondary(o, s.InterCallDelay()))
	}
	if s := cfg.Sources.PeerListing; s.Enabled {
		add(s, source.NewPeerListing(opts(s)))
	}
	return out
}

func policyFor(sc config.Source) service.SyncPolicy {
	var quota domainservice.Quota = domainservice.FixedQuota{PerInvocation: sc.PerInvocation, Cap: sc.DailyCap}
	if sc.TokenBucket() {
		quota = domainservice.TokenBucketQuota{
			TokensPerMinute: sc.TokensPerMinute,
			WindowMinutes:   sc.WindowMinutes,
			ItemsPerToken:   sc.ItemsPerToken,
			SafetyFactor:    sc.SafetyFactor,
		}
	}
	return service.SyncPolicy{
		BatchSize:      sc.BatchSize,
		Concurrency:    sc.Concurrency,
		InterCallDelay: sc.InterCallDelay(),
		Quota:          quota,
	}
}

// Coordinator 同步调度器
func (sc *ServiceContext) Coordinator() *service.SyncCoordinator { return sc.coordinator }

// Aggregator 机会查询
func (sc *ServiceContext) Aggregator() *service.OpportunityAggregator { return sc.app.Aggregator() }

// Ledger 排除记录
func (sc *ServiceContext) Ledger() *service.ExclusionLedger { return sc.app.Ledger() }

// Metrics Prometheus 注册表
func (sc *ServiceContext) Metrics() *metrics.Registry { return sc.metrics }

// Ping 检查存储连接（/healthz）
func (sc *ServiceContext) Ping(ctx context.Context) error { return sc.infra.Ping(ctx) }

// Close 关闭 ServiceContext 中的所有资源
func (sc *ServiceContext) Close() error {
	if sc.infra == nil {
		return nil
	}
	return sc.infra.Close()
}
