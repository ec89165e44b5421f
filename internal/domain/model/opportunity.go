package model

import (
	"fmt"
	"strings"
	"time"
)

// OpportunityRow 机会行：每次查询时计算，不落库
type OpportunityRow struct {
	ItemID        int64          `json:"item_id"`
	ExternalID    string         `json:"external_id"`
	CounterpartID string         `json:"counterpart_id"`
	Reason        TrackingReason `json:"reason"`
	NeedsReview   bool           `json:"needs_review"`

	OwnListedPrice    *float64 `json:"own_listed_price,omitempty"`
	OwnQuantity       int      `json:"own_quantity"`
	BuyBoxPrice       *float64 `json:"buybox_price,omitempty"`
	LowestNewPrice    *float64 `json:"lowest_new_price,omitempty"`
	SalesRank         *int     `json:"sales_rank,omitempty"`
	EffectiveOwnPrice *float64 `json:"effective_own_price,omitempty"`

	PeerRaw      *PeerAggregate `json:"peer_raw,omitempty"`
	PeerAdjusted *PeerAggregate `json:"peer_adjusted,omitempty"`
	ExcludedLots int            `json:"excluded_lots"`

	SecondaryMinPrice *float64 `json:"secondary_min_price,omitempty"`
	SecondaryAvgPrice *float64 `json:"secondary_avg_price,omitempty"`
	SecondaryCount    *int     `json:"secondary_count,omitempty"`

	MarginPercent          *float64 `json:"margin_percent"`           // 调整后同行最低价 / 自有售价 × 100
	ProfitMarginPercent    *float64 `json:"profit_margin_percent"`    // 100 - MarginPercent
	SecondaryMarginPercent *float64 `json:"secondary_margin_percent"` // 调整后同行最低价 / 二级市场最低价 × 100

	HasData      bool                 `json:"has_data"`
	LastSyncedAt map[Source]time.Time `json:"last_synced_at,omitempty"`
}

// LatestSync 返回各来源中最近的一次同步时间
func (r *OpportunityRow) LatestSync() (time.Time, bool) {
	var latest time.Time
	for _, ts := range r.LastSyncedAt {
		if ts.After(latest) {
			latest = ts
		}
	}
	return latest, !latest.IsZero()
}

// ========== Query ==========

// FilterMode 命名筛选模式
type FilterMode string

const (
	FilterAll                    FilterMode = "all"
	FilterOpportunities          FilterMode = "opportunities"
	FilterSecondaryOpportunities FilterMode = "secondary_opportunities"
	FilterHasData                FilterMode = "has_data"
	FilterNoData                 FilterMode = "no_data"
	FilterInStock                FilterMode = "in_stock"
	FilterZeroStock              FilterMode = "zero_stock"
	FilterPendingReview          FilterMode = "pending_review"
)

var filterModes = []FilterMode{
	FilterAll, FilterOpportunities, FilterSecondaryOpportunities, FilterHasData,
	FilterNoData, FilterInStock, FilterZeroStock, FilterPendingReview,
}

// ParseFilterMode 解析筛选模式，空字符串为 all
func ParseFilterMode(s string) (FilterMode, error) {
	v := normalizeKey(s)
	if v == "" {
		return FilterAll, nil
	}
	for _, m := range filterModes {
		if string(m) == v {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown filter mode %q", s)
}

// SortField 排序字段
type SortField string

const (
	SortMargin          SortField = "margin"
	SortProfitMargin    SortField = "profit_margin"
	SortSecondaryMargin SortField = "secondary_margin"
	SortBuyBoxPrice     SortField = "buybox_price"
	SortOwnPrice        SortField = "own_price"
	SortPeerMin         SortField = "peer_min"
	SortSalesRank       SortField = "sales_rank"
	SortLastSynced      SortField = "last_synced"
	SortCounterpartID   SortField = "counterpart_id"
)

var sortFields = []SortField{
	SortMargin, SortProfitMargin, SortSecondaryMargin, SortBuyBoxPrice, SortOwnPrice,
	SortPeerMin, SortSalesRank, SortLastSynced, SortCounterpartID,
}

// ParseSortField 解析排序字段，空字符串为 counterpart_id
func ParseSortField(s string) (SortField, error) {
	v := normalizeKey(s)
	if v == "" {
		return SortCounterpartID, nil
	}
	for _, f := range sortFields {
		if string(f) == v {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown sort field %q", s)
}

// Filter 查询筛选条件
type Filter struct {
	Mode   FilterMode `json:"mode"`
	Search string     `json:"search,omitempty"`
}

// Sort 排序条件
type Sort struct {
	Field SortField `json:"field"`
	Desc  bool      `json:"desc"`
}

// Page offset/limit 分页
type Page struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// OpportunityPage 查询结果
type OpportunityPage struct {
	Rows       []OpportunityRow `json:"rows"`
	TotalCount int              `json:"total_count"`
}

func normalizeKey(s string) string {
	v := strings.ToLower(strings.TrimSpace(s))
	return strings.ReplaceAll(v, "-", "_")
}
