package service

import (
	"math"
	"testing"

	"flipwatch/internal/domain/model"
)

func f64(v float64) *float64 { return &v }

func listings(prices ...float64) []model.PeerListing {
	out := make([]model.PeerListing, 0, len(prices))
	for i, p := range prices {
		out = append(out, model.PeerListing{ListingID: string(rune('a' + i)), Price: p, Quantity: 1})
	}
	return out
}

func TestAdjustedAggregateSubset(t *testing.T) {
	ls := listings(10, 12, 20)
	agg := AdjustedAggregate(ls, map[string]struct{}{"c": {}}) // 排除 20

	if agg == nil {
		t.Fatal("aggregate should not be nil")
	}
	if agg.Min != 10 || agg.Max != 12 || agg.Count != 2 {
		t.Errorf("expected min=10 max=12 count=2, got %+v", agg)
	}
	if math.Abs(agg.Avg-11) > 1e-9 {
		t.Errorf("expected avg=11, got %v", agg.Avg)
	}
	if !agg.Adjusted {
		t.Error("expected adjusted flag")
	}
}

func TestAdjustedAggregateAllExcluded(t *testing.T) {
	ls := listings(10, 12, 20)
	agg := AdjustedAggregate(ls, map[string]struct{}{"a": {}, "b": {}, "c": {}})
	if agg != nil {
		t.Fatalf("expected nil aggregate, got %+v", agg)
	}
}

func TestPeerAggregateForRawFallback(t *testing.T) {
	snap := &model.PriceSnapshot{MinPrice: f64(8), AvgPrice: f64(9), MaxPrice: f64(11)}
	agg, excluded := PeerAggregateFor(snap, map[string]struct{}{"x": {}})
	if agg == nil || agg.Adjusted {
		t.Fatalf("expected raw aggregate, got %+v", agg)
	}
	if agg.Min != 8 || excluded != 0 {
		t.Errorf("unexpected raw aggregate %+v excluded=%d", agg, excluded)
	}
}

func TestPeerAggregateForFullyExcludedIsNotRaw(t *testing.T) {
	snap := &model.PriceSnapshot{
		MinPrice: f64(10), AvgPrice: f64(14), MaxPrice: f64(20),
		Listings: listings(10, 12, 20),
	}
	agg, excluded := PeerAggregateFor(snap, map[string]struct{}{"a": {}, "b": {}, "c": {}})
	if agg != nil {
		t.Fatalf("fully excluded snapshot must not fall back to raw figures, got %+v", agg)
	}
	if excluded != 3 {
		t.Errorf("expected 3 excluded lots, got %d", excluded)
	}
}

func TestMarginFallsBackToBuyBox(t *testing.T) {
	own := EffectiveOwnPrice(nil, f64(50))
	margin := MarginPercent(&model.PeerAggregate{Min: 40}, own)
	if margin == nil || math.Abs(*margin-80) > 1e-9 {
		t.Fatalf("expected margin 80, got %v", margin)
	}
	profit := ProfitMarginPercent(margin)
	if profit == nil || math.Abs(*profit-20) > 1e-9 {
		t.Errorf("expected profit margin 20, got %v", profit)
	}

	if MarginPercent(nil, own) != nil {
		t.Error("missing aggregate must give nil margin")
	}
	if ProfitMarginPercent(nil) != nil {
		t.Error("nil margin must give nil profit margin")
	}
}

func TestEffectiveOwnPricePrefersListedPrice(t *testing.T) {
	p := EffectiveOwnPrice(f64(55), f64(50))
	if p == nil || *p != 55 {
		t.Fatalf("expected listed price 55, got %v", p)
	}
	if EffectiveOwnPrice(nil, nil) != nil {
		t.Error("expected nil when both prices missing")
	}
	if MarginPercent(&model.PeerAggregate{Min: 1}, f64(0)) != nil {
		t.Error("zero price must not produce a margin")
	}
}
