package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"flipwatch/internal/application/port"
	"flipwatch/internal/domain/model"
)

// PeerListing 同行市场价格指南（每个套装一次请求，可并发）
type PeerListing struct {
	http      *resty.Client
	condition string // N / U
}

type priceGuideResponse struct {
	Meta struct {
		Code        int    `json:"code"`
		Description string `json:"description"`
	} `json:"meta"`
	Data struct {
		MinPrice      string `json:"min_price"`
		MaxPrice      string `json:"max_price"`
		AvgPrice      string `json:"avg_price"`
		UnitQuantity  int    `json:"unit_quantity"`
		TotalQuantity int    `json:"total_quantity"`
		PriceDetail   []struct {
			InventoryID int64  `json:"inventory_id"`
			Quantity    int    `json:"quantity"`
			UnitPrice   string `json:"unit_price"`
			NewOrUsed   string `json:"new_or_used"`
		} `json:"price_detail"`
	} `json:"data"`
}

// peerListingMinInterval 并发调用之间的最小间隔下限
const peerListingMinInterval = 100 * time.Millisecond

func NewPeerListing(opts Options) *PeerListing {
	c := newResty(opts)
	if opts.APIKey != "" {
		c.SetAuthToken(opts.APIKey)
	}
	return &PeerListing{http: c, condition: "N"}
}

func (c *PeerListing) Source() model.Source       { return model.SourcePeerListing }
func (c *PeerListing) MaxBatchSize() int          { return 1 }
func (c *PeerListing) MinInterval() time.Duration { return peerListingMinInterval }

// FetchBatch issues one request per id; a transport or quota failure aborts the batch.
func (c *PeerListing) FetchBatch(ctx context.Context, ids []string) ([]port.FetchResult, error) {
	results := make([]port.FetchResult, 0, len(ids))
	for _, id := range ids {
		r, err := c.fetchOne(ctx, id)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

// fetchOne carries per-id failures in the result; the error return is batch-level.
func (c *PeerListing) fetchOne(ctx context.Context, id string) (port.FetchResult, error) {
	var out priceGuideResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"guide_type":  "stock",
			"new_or_used": c.condition,
		}).
		SetResult(&out).
		Get("/items/SET/" + url.PathEscape(id) + "/price")
	if err != nil {
		return port.FetchResult{}, fmt.Errorf("peer listing request: %w", err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return port.FetchResult{ID: id, Err: fmt.Errorf("%w: %s", ErrNoData, id)}, nil
	case resp.IsError():
		return port.FetchResult{}, statusError("peer_listing", resp)
	}
	if out.Meta.Code != 0 && out.Meta.Code != http.StatusOK {
		return port.FetchResult{ID: id, Err: fmt.Errorf("peer listing %s: %d %s", id, out.Meta.Code, out.Meta.Description)}, nil
	}

	snap, err := decodePriceGuide(out)
	if err != nil {
		return port.FetchResult{ID: id, Err: fmt.Errorf("peer listing %s: %w", id, err)}, nil
	}
	return port.FetchResult{ID: id, Snapshot: snap}, nil
}

func decodePriceGuide(out priceGuideResponse) (*model.PriceSnapshot, error) {
	snap := &model.PriceSnapshot{}
	var err error
	if snap.MinPrice, err = parseMoney(out.Data.MinPrice); err != nil {
		return nil, err
	}
	if snap.MaxPrice, err = parseMoney(out.Data.MaxPrice); err != nil {
		return nil, err
	}
	if snap.AvgPrice, err = parseMoney(out.Data.AvgPrice); err != nil {
		return nil, err
	}
	lots, qty := out.Data.UnitQuantity, out.Data.TotalQuantity
	snap.LotCount, snap.QuantityCount = &lots, &qty

	for _, d := range out.Data.PriceDetail {
		price, err := parseMoney(d.UnitPrice)
		if err != nil {
			return nil, err
		}
		if price == nil {
			continue
		}
		snap.Listings = append(snap.Listings, model.PeerListing{
			ListingID: strconv.FormatInt(d.InventoryID, 10),
			Price:     *price,
			Quantity:  d.Quantity,
			Condition: d.NewOrUsed,
		})
	}
	return snap, nil
}

var _ port.PricingSourceClient = (*PeerListing)(nil)
