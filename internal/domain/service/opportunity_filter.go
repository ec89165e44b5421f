package service

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"flipwatch/internal/domain/model"
)

// Thresholds 机会筛选阈值
type Thresholds struct {
	MinProfitMarginPercent float64 // opportunities: 利润率下限
	MaxCOGPercent          float64 // secondary_opportunities: 成本占比上限
}

// Predicate 单个筛选模式的判定
type Predicate func(r *model.OpportunityRow, t Thresholds) bool

// nil never satisfies a numeric threshold.
func atLeast(v *float64, lo float64) bool { return v != nil && *v >= lo }

func atMost(v *float64, hi float64) bool { return v != nil && *v <= hi }

var predicates = map[model.FilterMode]Predicate{
	model.FilterAll: func(*model.OpportunityRow, Thresholds) bool { return true },
	model.FilterOpportunities: func(r *model.OpportunityRow, t Thresholds) bool {
		return atLeast(r.ProfitMarginPercent, t.MinProfitMarginPercent)
	},
	model.FilterSecondaryOpportunities: func(r *model.OpportunityRow, t Thresholds) bool {
		return atMost(r.SecondaryMarginPercent, t.MaxCOGPercent)
	},
	model.FilterHasData:       func(r *model.OpportunityRow, _ Thresholds) bool { return r.HasData },
	model.FilterNoData:        func(r *model.OpportunityRow, _ Thresholds) bool { return !r.HasData },
	model.FilterInStock:       func(r *model.OpportunityRow, _ Thresholds) bool { return r.OwnQuantity > 0 },
	model.FilterZeroStock:     func(r *model.OpportunityRow, _ Thresholds) bool { return r.OwnQuantity <= 0 },
	model.FilterPendingReview: func(r *model.OpportunityRow, _ Thresholds) bool { return r.NeedsReview },
}

// Matcher 编译后的筛选器，Query 与 Count 共用同一个实例
type Matcher struct {
	pred   Predicate
	search string
	t      Thresholds
}

// NewMatcher 构建筛选器，未知模式返回错误
func NewMatcher(f model.Filter, t Thresholds) (*Matcher, error) {
	mode := f.Mode
	if mode == "" {
		mode = model.FilterAll
	}
	pred, ok := predicates[mode]
	if !ok {
		return nil, fmt.Errorf("unsupported filter mode %q", f.Mode)
	}
	return &Matcher{pred: pred, search: strings.ToLower(strings.TrimSpace(f.Search)), t: t}, nil
}

// Match 判断行是否满足筛选
func (m *Matcher) Match(r *model.OpportunityRow) bool {
	if m.search != "" &&
		!strings.Contains(strings.ToLower(r.CounterpartID), m.search) &&
		!strings.Contains(strings.ToLower(r.ExternalID), m.search) {
		return false
	}
	return m.pred(r, m.t)
}

// ========== Sorting ==========

type sortKey struct {
	num float64
	str string
	ok  bool
}

func numKey(v *float64) sortKey {
	if v == nil {
		return sortKey{}
	}
	return sortKey{num: *v, ok: true}
}

var sortKeys = map[model.SortField]func(r *model.OpportunityRow) sortKey{
	model.SortMargin:          func(r *model.OpportunityRow) sortKey { return numKey(r.MarginPercent) },
	model.SortProfitMargin:    func(r *model.OpportunityRow) sortKey { return numKey(r.ProfitMarginPercent) },
	model.SortSecondaryMargin: func(r *model.OpportunityRow) sortKey { return numKey(r.SecondaryMarginPercent) },
	model.SortBuyBoxPrice:     func(r *model.OpportunityRow) sortKey { return numKey(r.BuyBoxPrice) },
	model.SortOwnPrice:        func(r *model.OpportunityRow) sortKey { return numKey(r.EffectiveOwnPrice) },
	model.SortPeerMin: func(r *model.OpportunityRow) sortKey {
		if r.PeerAdjusted == nil {
			return sortKey{}
		}
		return sortKey{num: r.PeerAdjusted.Min, ok: true}
	},
	model.SortSalesRank: func(r *model.OpportunityRow) sortKey {
		if r.SalesRank == nil {
			return sortKey{}
		}
		return sortKey{num: float64(*r.SalesRank), ok: true}
	},
	model.SortLastSynced: func(r *model.OpportunityRow) sortKey {
		ts, ok := r.LatestSync()
		if !ok {
			return sortKey{}
		}
		return sortKey{num: float64(ts.UnixMilli()), ok: true}
	},
	model.SortCounterpartID: func(r *model.OpportunityRow) sortKey {
		return sortKey{str: r.CounterpartID, ok: true}
	},
}

// SortRows sorts in place. Null keys go last in both directions; ties fall back to
// counterpart id then item id, ascending.
func SortRows(rows []model.OpportunityRow, s model.Sort) error {
	field := s.Field
	if field == "" {
		field = model.SortCounterpartID
	}
	key, ok := sortKeys[field]
	if !ok {
		return fmt.Errorf("unsupported sort field %q", s.Field)
	}
	slices.SortStableFunc(rows, func(a, b model.OpportunityRow) int {
		ka, kb := key(&a), key(&b)
		if ka.ok != kb.ok {
			if ka.ok {
				return -1
			}
			return 1
		}
		if ka.ok {
			c := cmp.Compare(ka.num, kb.num)
			if c == 0 {
				c = cmp.Compare(ka.str, kb.str)
			}
			if s.Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		if c := cmp.Compare(a.CounterpartID, b.CounterpartID); c != 0 {
			return c
		}
		return cmp.Compare(a.ItemID, b.ItemID)
	})
	return nil
}
