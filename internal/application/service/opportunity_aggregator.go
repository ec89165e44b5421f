package service

import (
	"context"
	"fmt"

	"flipwatch/internal/application/port"
	"flipwatch/internal/domain/model"
	domainservice "flipwatch/internal/domain/service"
)

// AggregatorOptions 机会查询配置
type AggregatorOptions struct {
	Thresholds   domainservice.Thresholds
	DefaultLimit int
	MaxLimit     int
}

// OpportunityAggregator joins tracked items, snapshots, exclusions and own listings into
// OpportunityRows at query time.
type OpportunityAggregator struct {
	items      port.TrackedItemRepository
	snapshots  port.SnapshotRepository
	exclusions port.ExclusionRepository
	inventory  port.InventoryRepository
	opts       AggregatorOptions
}

func NewOpportunityAggregator(
	items port.TrackedItemRepository,
	snapshots port.SnapshotRepository,
	exclusions port.ExclusionRepository,
	inventory port.InventoryRepository,
	opts AggregatorOptions,
) *OpportunityAggregator {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 50
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = 500
	}
	if opts.DefaultLimit > opts.MaxLimit {
		opts.DefaultLimit = opts.MaxLimit
	}
	return &OpportunityAggregator{
		items:      items,
		snapshots:  snapshots,
		exclusions: exclusions,
		inventory:  inventory,
		opts:       opts,
	}
}

// Query 筛选 + 排序 + 分页
func (a *OpportunityAggregator) Query(ctx context.Context, owner string, f model.Filter, s model.Sort, p model.Page) (*model.OpportunityPage, error) {
	matcher, err := domainservice.NewMatcher(f, a.opts.Thresholds)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	if p.Offset < 0 {
		return nil, fmt.Errorf("%w: negative offset %d", ErrInvalidQuery, p.Offset)
	}

	rows, err := a.Rows(ctx, owner)
	if err != nil {
		return nil, err
	}
	matched := rows[:0]
	for i := range rows {
		if matcher.Match(&rows[i]) {
			matched = append(matched, rows[i])
		}
	}
	if err := domainservice.SortRows(matched, s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}

	limit := p.Limit
	if limit <= 0 {
		limit = a.opts.DefaultLimit
	}
	if limit > a.opts.MaxLimit {
		limit = a.opts.MaxLimit
	}
	page := &model.OpportunityPage{Rows: []model.OpportunityRow{}, TotalCount: len(matched)}
	if p.Offset < len(matched) {
		end := min(p.Offset+limit, len(matched))
		page.Rows = matched[p.Offset:end]
	}
	return page, nil
}

// Count 与 Query 使用同一谓词
func (a *OpportunityAggregator) Count(ctx context.Context, owner string, f model.Filter) (int, error) {
	matcher, err := domainservice.NewMatcher(f, a.opts.Thresholds)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	rows, err := a.Rows(ctx, owner)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range rows {
		if matcher.Match(&rows[i]) {
			n++
		}
	}
	return n, nil
}

// Rows builds one row per active item, unfiltered and unsorted.
func (a *OpportunityAggregator) Rows(ctx context.Context, owner string) ([]model.OpportunityRow, error) {
	items, err := a.items.ListActive(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("load active items: %w", err)
	}
	snaps, err := a.snapshots.ListByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}
	excl, err := a.exclusions.ListListings(ctx, owner, "")
	if err != nil {
		return nil, fmt.Errorf("load listing exclusions: %w", err)
	}
	own, err := a.inventory.OwnListings(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("load own listings: %w", err)
	}

	bySource := make(map[string]map[model.Source]*model.PriceSnapshot, len(snaps))
	for i := range snaps {
		sn := &snaps[i]
		m, ok := bySource[sn.CounterpartID]
		if !ok {
			m = make(map[model.Source]*model.PriceSnapshot, 3)
			bySource[sn.CounterpartID] = m
		}
		m[sn.Source] = sn
	}
	excluded := make(map[string]map[string]struct{})
	for _, e := range excl {
		set, ok := excluded[e.CounterpartID]
		if !ok {
			set = make(map[string]struct{})
			excluded[e.CounterpartID] = set
		}
		set[e.ListingID] = struct{}{}
	}
	ownBy := make(map[string]model.OwnListing, len(own))
	for _, l := range own {
		ownBy[l.CounterpartID] = l
	}

	rows := make([]model.OpportunityRow, 0, len(items))
	for _, it := range items {
		rows = append(rows, buildRow(it, bySource[it.CounterpartID], excluded[it.CounterpartID], ownBy[it.CounterpartID]))
	}
	return rows, nil
}

func buildRow(it model.TrackedItem, snaps map[model.Source]*model.PriceSnapshot, excluded map[string]struct{}, own model.OwnListing) model.OpportunityRow {
	row := model.OpportunityRow{
		ItemID:         it.ID,
		ExternalID:     it.ExternalID,
		CounterpartID:  it.CounterpartID,
		Reason:         it.Reason,
		NeedsReview:    it.NeedsReview,
		OwnListedPrice: own.ListedPrice,
		OwnQuantity:    own.Quantity,
		LastSyncedAt:   it.LastSyncedAt,
	}

	if bb := snaps[model.SourceBuyBox]; bb != nil {
		row.BuyBoxPrice = bb.BuyBoxPrice
		row.LowestNewPrice = bb.LowestNewPrice
		row.SalesRank = bb.SalesRank
	}
	if peer := snaps[model.SourcePeerListing]; peer != nil {
		row.PeerRaw = domainservice.RawAggregate(peer)
		row.PeerAdjusted, row.ExcludedLots = domainservice.PeerAggregateFor(peer, excluded)
	}
	if sec := snaps[model.SourceSecondary]; sec != nil {
		row.SecondaryMinPrice = sec.MinPrice
		row.SecondaryAvgPrice = sec.AvgPrice
		row.SecondaryCount = sec.LotCount
	}
	for _, sn := range snaps {
		if sn.HasPrice() {
			row.HasData = true
			break
		}
	}

	row.EffectiveOwnPrice = domainservice.EffectiveOwnPrice(row.OwnListedPrice, row.BuyBoxPrice)
	row.MarginPercent = domainservice.MarginPercent(row.PeerAdjusted, row.EffectiveOwnPrice)
	row.ProfitMarginPercent = domainservice.ProfitMarginPercent(row.MarginPercent)
	row.SecondaryMarginPercent = domainservice.MarginPercent(row.PeerAdjusted, row.SecondaryMinPrice)
	return row
}
