package model

import (
	"fmt"
	"strings"
	"time"
)

// ========== Sources ==========

// Source 价格来源
type Source string

const (
	SourceBuyBox      Source = "buybox"       // 主市场 buy box（令牌桶限流）
	SourceSecondary   Source = "secondary"    // 二级市场（严格单次限流）
	SourcePeerListing Source = "peer_listing" // 同行挂单市场（可并发）
)

// AllSources 按固定顺序返回全部来源
func AllSources() []Source {
	return []Source{SourceBuyBox, SourceSecondary, SourcePeerListing}
}

// ParseSource 解析来源名称（大小写、连字符不敏感）
func ParseSource(s string) (Source, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.ReplaceAll(v, "-", "_")
	for _, src := range AllSources() {
		if string(src) == v {
			return src, nil
		}
	}
	return "", fmt.Errorf("unknown source %q", s)
}

// LookupID returns the identifier a source's API is queried with.
// The buy-box marketplace is keyed by catalog id, the others by counterpart id.
func (s Source) LookupID(item TrackedItem) string {
	if s == SourceBuyBox {
		return item.ExternalID
	}
	return item.CounterpartID
}

// ========== Watchlist ==========

// TrackingReason 跟踪原因
type TrackingReason string

const (
	ReasonSoldBefore     TrackingReason = "sold_before"
	ReasonPopularRetired TrackingReason = "popular_retired"
	ReasonBulkSeeded     TrackingReason = "bulk_seeded"
)

// TrackedItem 监控中的商品
type TrackedItem struct {
	ID            int64                `json:"id"`
	OwnerID       string               `json:"owner_id"`
	ExternalID    string               `json:"external_id"`    // 主市场目录 ID（如 ASIN）
	CounterpartID string               `json:"counterpart_id"` // 同行市场对应 ID（如套装编号）
	Reason        TrackingReason       `json:"reason"`
	IsActive      bool                 `json:"is_active"`
	NeedsReview   bool                 `json:"needs_review"` // 缺少已确认的目录 ID 匹配
	CreatedAt     time.Time            `json:"created_at"`
	LastSyncedAt  map[Source]time.Time `json:"last_synced_at,omitempty"`
}

// SyncedAt 返回某来源的最近同步时间
func (t TrackedItem) SyncedAt(src Source) (time.Time, bool) {
	ts, ok := t.LastSyncedAt[src]
	return ts, ok
}

// ========== Collaborator data ==========

// SalesCount unit sales for one counterpart, in first-seen order.
type SalesCount struct {
	CounterpartID string
	ExternalID    string
	Units         int
}

// PopularityCandidate 人气排行候选
type PopularityCandidate struct {
	CounterpartID  string
	ExternalID     string
	Rank           int
	RetirementDate *time.Time
}

// SeedCandidate 批量导入的候选
type SeedCandidate struct {
	CounterpartID string
	ExternalID    string
}

// OwnListing 自有挂单（价格 + 库存）
type OwnListing struct {
	CounterpartID string
	ListedPrice   *float64
	Quantity      int
}
