package model

import "time"

// PriceSnapshot 某来源的最新价格快照，按 (owner, counterpart, source) 唯一
type PriceSnapshot struct {
	OwnerID       string `json:"owner_id"`
	CounterpartID string `json:"counterpart_id"`
	Source        Source `json:"source"`

	// buybox
	BuyBoxPrice    *float64 `json:"buybox_price,omitempty"`
	LowestNewPrice *float64 `json:"lowest_new_price,omitempty"`
	SalesRank      *int     `json:"sales_rank,omitempty"`

	// peer_listing / secondary
	MinPrice      *float64      `json:"min_price,omitempty"`
	AvgPrice      *float64      `json:"avg_price,omitempty"`
	MaxPrice      *float64      `json:"max_price,omitempty"`
	LotCount      *int          `json:"lot_count,omitempty"`      // 挂单数
	QuantityCount *int          `json:"quantity_count,omitempty"` // 总件数
	Listings      []PeerListing `json:"listings,omitempty"`       // 逐条挂单（可排除）

	SnapshotDate time.Time `json:"snapshot_date"`
}

// HasPrice reports whether any price field is populated.
func (s *PriceSnapshot) HasPrice() bool {
	if s == nil {
		return false
	}
	return s.BuyBoxPrice != nil || s.LowestNewPrice != nil ||
		s.MinPrice != nil || s.AvgPrice != nil || s.MaxPrice != nil ||
		len(s.Listings) > 0
}

// PeerListing 同行市场的一条挂单
type PeerListing struct {
	ListingID string  `json:"listing_id"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
	Condition string  `json:"condition,omitempty"` // N / U
}

// PeerAggregate min/avg/max/count over a set of listings.
// Adjusted is false when the figures were taken from the raw snapshot aggregate.
type PeerAggregate struct {
	Min      float64 `json:"min"`
	Avg      float64 `json:"avg"`
	Max      float64 `json:"max"`
	Count    int     `json:"count"`
	Adjusted bool    `json:"adjusted"`
}
