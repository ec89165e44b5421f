package service

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog/log"

	"flipwatch/internal/application/port"
	"flipwatch/internal/domain/model"
)

// WatchlistLimits 监控列表各组上限
type WatchlistLimits struct {
	BestSellers       int // 历史畅销
	PopularRetired    int // 已退市热门
	MaxItems          int // 前两组合计上限（批量导入不计）
	SalesWindowMonths int
}

func (l WatchlistLimits) withDefaults() WatchlistLimits {
	if l.BestSellers <= 0 {
		l.BestSellers = 100
	}
	if l.PopularRetired <= 0 {
		l.PopularRetired = 100
	}
	if l.MaxItems <= 0 {
		l.MaxItems = 200
	}
	if l.SalesWindowMonths <= 0 {
		l.SalesWindowMonths = 13
	}
	return l
}

// MaterializerDeps 监控列表物化器依赖
type MaterializerDeps struct {
	Items      port.TrackedItemRepository
	Snapshots  port.SnapshotRepository
	Exclusions port.ExclusionRepository
	Sales      port.SalesHistoryRepository
	Popularity port.PopularityRepository
	Seeds      port.SeedRepository
	Metrics    port.SyncMetrics
	Limits     WatchlistLimits
	Now        func() time.Time
}

// WatchlistMaterializer rebuilds an owner's watchlist from sales history, popularity
// rankings and bulk-seeded candidates.
type WatchlistMaterializer struct {
	deps MaterializerDeps
}

func NewWatchlistMaterializer(deps MaterializerDeps) *WatchlistMaterializer {
	deps.Limits = deps.Limits.withDefaults()
	if deps.Metrics == nil {
		deps.Metrics = NopMetrics{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &WatchlistMaterializer{deps: deps}
}

type selection struct {
	excluded map[string]struct{}
	chosen   map[string]struct{}
	items    []model.TrackedItem
	skipped  int
	now      time.Time
}

// take adds a candidate unless it is empty, excluded or already chosen.
func (s *selection) take(counterpartID, externalID string, reason model.TrackingReason) bool {
	if counterpartID == "" {
		s.skipped++
		return false
	}
	if _, ok := s.excluded[counterpartID]; ok {
		s.skipped++
		return false
	}
	if _, ok := s.chosen[counterpartID]; ok {
		s.skipped++
		return false
	}
	s.chosen[counterpartID] = struct{}{}
	s.items = append(s.items, model.TrackedItem{
		ExternalID:    externalID,
		CounterpartID: counterpartID,
		Reason:        reason,
		IsActive:      true,
		NeedsReview:   externalID == "",
		CreatedAt:     s.now,
	})
	return true
}

// Refresh 重建监控列表（删除 + 批量写入，单事务）
func (m *WatchlistMaterializer) Refresh(ctx context.Context, owner string) (*model.RefreshResult, error) {
	now := m.deps.Now()
	sel := &selection{chosen: make(map[string]struct{}), now: now}

	excl, err := m.deps.Exclusions.ListItems(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("load item exclusions: %w", err)
	}
	sel.excluded = make(map[string]struct{}, len(excl))
	for _, e := range excl {
		sel.excluded[e.CounterpartID] = struct{}{}
	}

	if err := m.addBestSellers(ctx, owner, now, sel); err != nil {
		return nil, err
	}
	if err := m.addPopularRetired(ctx, sel); err != nil {
		return nil, err
	}

	if over := len(sel.items) - m.deps.Limits.MaxItems; over > 0 {
		for _, it := range sel.items[m.deps.Limits.MaxItems:] {
			delete(sel.chosen, it.CounterpartID)
		}
		sel.items = sel.items[:m.deps.Limits.MaxItems]
		sel.skipped += over
	}

	if err := m.addSeeded(ctx, owner, sel); err != nil {
		return nil, err
	}

	if err := m.deps.Items.ReplaceAll(ctx, owner, sel.items); err != nil {
		log.Error().Err(err).Str("owner", owner).Msg("watchlist replace rolled back")
		return nil, fmt.Errorf("%w: %w", ErrWatchlistReplace, err)
	}

	res := &model.RefreshResult{Added: len(sel.items), Skipped: sel.skipped, Total: len(sel.items)}
	m.deps.Metrics.ObserveRefresh(owner, *res)
	log.Info().
		Str("owner", owner).
		Int("added", res.Added).
		Int("skipped", res.Skipped).
		Int("excluded", len(sel.excluded)).
		Msg("watchlist refreshed")
	return res, nil
}

func (m *WatchlistMaterializer) addBestSellers(ctx context.Context, owner string, now time.Time, sel *selection) error {
	since := now.AddDate(0, -m.deps.Limits.SalesWindowMonths, 0)
	counts, err := m.deps.Sales.UnitsSoldByCounterpart(ctx, owner, since)
	if err != nil {
		return fmt.Errorf("load sales history: %w", err)
	}

	kept := make([]model.SalesCount, 0, len(counts))
	for _, c := range counts {
		if _, ok := sel.excluded[c.CounterpartID]; ok {
			sel.skipped++
			continue
		}
		kept = append(kept, c)
	}
	// stable: equal counts keep first-seen order
	slices.SortStableFunc(kept, func(a, b model.SalesCount) int { return cmp.Compare(b.Units, a.Units) })

	taken := 0
	for _, c := range kept {
		if taken >= m.deps.Limits.BestSellers {
			sel.skipped++
			continue
		}
		if sel.take(c.CounterpartID, c.ExternalID, model.ReasonSoldBefore) {
			taken++
		}
	}
	return nil
}

func (m *WatchlistMaterializer) addPopularRetired(ctx context.Context, sel *selection) error {
	cands, err := m.deps.Popularity.RankedRetiredCandidates(ctx)
	if err != nil {
		return fmt.Errorf("load popularity rankings: %w", err)
	}
	slices.SortStableFunc(cands, func(a, b model.PopularityCandidate) int { return cmp.Compare(a.Rank, b.Rank) })

	taken := 0
	for _, c := range cands {
		if c.RetirementDate == nil || taken >= m.deps.Limits.PopularRetired {
			sel.skipped++
			continue
		}
		if sel.take(c.CounterpartID, c.ExternalID, model.ReasonPopularRetired) {
			taken++
		}
	}
	return nil
}

func (m *WatchlistMaterializer) addSeeded(ctx context.Context, owner string, sel *selection) error {
	seeds, err := m.deps.Seeds.BulkSeededCandidates(ctx, owner)
	if err != nil {
		return fmt.Errorf("load seed candidates: %w", err)
	}
	if len(seeds) == 0 {
		return nil
	}
	priced, err := m.deps.Snapshots.CounterpartsWithPrice(ctx, owner)
	if err != nil {
		return fmt.Errorf("load priced counterparts: %w", err)
	}
	for _, c := range seeds {
		if _, ok := priced[c.CounterpartID]; !ok {
			sel.skipped++
			continue
		}
		sel.take(c.CounterpartID, c.ExternalID, model.ReasonBulkSeeded)
	}
	return nil
}
