package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"flipwatch/internal/application/port"
	"flipwatch/internal/domain/model"
)

// SyncCoordinator 管理各来源同步器，并提供后台定时调度
type SyncCoordinator struct {
	synchronizers   map[model.Source]*BatchSynchronizer
	materializer    *WatchlistMaterializer
	cursors         port.CursorRepository
	owners          []string
	interval        time.Duration
	refreshInterval time.Duration
}

// NewSyncCoordinator 创建调度器；interval 为同步间隔，refreshInterval 为监控列表刷新间隔（0 关闭）
func NewSyncCoordinator(
	synchronizers []*BatchSynchronizer,
	materializer *WatchlistMaterializer,
	cursors port.CursorRepository,
	owners []string,
	interval time.Duration,
	refreshInterval time.Duration,
) *SyncCoordinator {
	if interval <= 0 {
		interval = 5 * time.Minute // 默认 5 分钟触发一次
	}
	m := make(map[model.Source]*BatchSynchronizer, len(synchronizers))
	for _, s := range synchronizers {
		m[s.Source()] = s
	}
	return &SyncCoordinator{
		synchronizers:   m,
		materializer:    materializer,
		cursors:         cursors,
		owners:          owners,
		interval:        interval,
		refreshInterval: refreshInterval,
	}
}

// Sources 已配置的来源（固定顺序）
func (c *SyncCoordinator) Sources() []model.Source {
	var out []model.Source
	for _, src := range model.AllSources() {
		if _, ok := c.synchronizers[src]; ok {
			out = append(out, src)
		}
	}
	return out
}

// Sync 执行某来源的一次 ProcessNextBatch
func (c *SyncCoordinator) Sync(ctx context.Context, owner string, src model.Source) (*model.BatchResult, error) {
	s, ok := c.synchronizers[src]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, src)
	}
	return s.ProcessNextBatch(ctx, owner)
}

// Drain waits for notifications still in flight, for use before process exit.
func (c *SyncCoordinator) Drain() {
	for _, s := range c.synchronizers {
		s.WaitNotifications()
	}
}

// Refresh 重建监控列表
func (c *SyncCoordinator) Refresh(ctx context.Context, owner string) (*model.RefreshResult, error) {
	return c.materializer.Refresh(ctx, owner)
}

// Status 返回 owner 的全部游标
func (c *SyncCoordinator) Status(ctx context.Context, owner string) ([]model.SyncCursor, error) {
	return c.cursors.List(ctx, owner)
}

// Start 启动后台调度：首次立即执行，之后按 interval 触发
func (c *SyncCoordinator) Start(ctx context.Context) error {
	if len(c.owners) == 0 {
		return errors.New("no owners configured for scheduling")
	}

	ticker := time.NewTicker(c.interval)
	var refreshC <-chan time.Time
	var refreshTicker *time.Ticker
	if c.refreshInterval > 0 && c.materializer != nil {
		refreshTicker = time.NewTicker(c.refreshInterval)
		refreshC = refreshTicker.C
	}

	c.runAll(ctx)

	go func() {
		defer ticker.Stop()
		if refreshTicker != nil {
			defer refreshTicker.Stop()
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.runAll(ctx)
			case <-refreshC:
				c.refreshAll(ctx)
			}
		}
	}()

	log.Info().
		Int("owners", len(c.owners)).
		Int("sources", len(c.synchronizers)).
		Dur("interval", c.interval).
		Dur("refresh_interval", c.refreshInterval).
		Msg("sync scheduler started")
	return nil
}

// runAll 不同来源并行，同一 (owner, source) 由锁串行
func (c *SyncCoordinator) runAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, owner := range c.owners {
		for _, src := range c.Sources() {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := c.Sync(ctx, owner, src)
				if err != nil {
					if errors.Is(err, ErrSyncInProgress) {
						log.Debug().Str("owner", owner).Str("source", string(src)).Msg("sync skipped, already running")
						return
					}
					log.Warn().Err(err).Str("owner", owner).Str("source", string(src)).Msg("scheduled sync failed")
					return
				}
				if res.Attempted > 0 {
					log.Debug().
						Str("owner", owner).
						Str("source", string(src)).
						Int("position", res.CursorPosition).
						Int("total", res.TotalForDay).
						Msg("scheduled sync progressed")
				}
			}()
		}
	}
	wg.Wait()
}

func (c *SyncCoordinator) refreshAll(ctx context.Context) {
	for _, owner := range c.owners {
		if _, err := c.materializer.Refresh(ctx, owner); err != nil {
			log.Warn().Err(err).Str("owner", owner).Msg("scheduled watchlist refresh failed")
		}
	}
}
