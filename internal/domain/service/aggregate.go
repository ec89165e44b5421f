package service

import "flipwatch/internal/domain/model"

// AdjustedAggregate recomputes min/avg/max/count over listings whose ids are not in excluded.
// It returns nil when no listing remains.
func AdjustedAggregate(listings []model.PeerListing, excluded map[string]struct{}) *model.PeerAggregate {
	agg := &model.PeerAggregate{Adjusted: true}
	var sum float64
	for _, l := range listings {
		if _, skip := excluded[l.ListingID]; skip {
			continue
		}
		if agg.Count == 0 || l.Price < agg.Min {
			agg.Min = l.Price
		}
		if agg.Count == 0 || l.Price > agg.Max {
			agg.Max = l.Price
		}
		sum += l.Price
		agg.Count++
	}
	if agg.Count == 0 {
		return nil
	}
	agg.Avg = sum / float64(agg.Count)
	return agg
}

// RawAggregate 读取快照自带的聚合值（未做排除调整）
func RawAggregate(s *model.PriceSnapshot) *model.PeerAggregate {
	if s == nil || s.MinPrice == nil {
		return nil
	}
	agg := &model.PeerAggregate{Min: *s.MinPrice, Avg: *s.MinPrice, Max: *s.MinPrice}
	if s.AvgPrice != nil {
		agg.Avg = *s.AvgPrice
	}
	if s.MaxPrice != nil {
		agg.Max = *s.MaxPrice
	}
	if s.LotCount != nil {
		agg.Count = *s.LotCount
	}
	return agg
}

// PeerAggregateFor picks the exclusion-adjusted aggregate for a peer snapshot.
// The raw aggregate is used only when the snapshot has no listing array to recompute from;
// a snapshot whose listings are all excluded yields nil, never the raw figures.
func PeerAggregateFor(s *model.PriceSnapshot, excluded map[string]struct{}) (agg *model.PeerAggregate, excludedLots int) {
	if s == nil {
		return nil, 0
	}
	if len(s.Listings) == 0 {
		return RawAggregate(s), 0
	}
	for _, l := range s.Listings {
		if _, ok := excluded[l.ListingID]; ok {
			excludedLots++
		}
	}
	return AdjustedAggregate(s.Listings, excluded), excludedLots
}

// EffectiveOwnPrice 自有挂牌价优先，缺失时退回 buy box 价
func EffectiveOwnPrice(ownListed, buyBox *float64) *float64 {
	if ownListed != nil && *ownListed > 0 {
		return ownListed
	}
	if buyBox != nil && *buyBox > 0 {
		return buyBox
	}
	return nil
}

// MarginPercent = cost / price × 100; nil when either side is missing or price is not positive.
func MarginPercent(cost *model.PeerAggregate, price *float64) *float64 {
	if cost == nil || price == nil || *price <= 0 {
		return nil
	}
	v := cost.Min / *price * 100
	return &v
}

// ProfitMarginPercent 100 - 成本占比
func ProfitMarginPercent(margin *float64) *float64 {
	if margin == nil {
		return nil
	}
	v := 100 - *margin
	return &v
}
