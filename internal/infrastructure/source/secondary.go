package source

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"flipwatch/internal/application/port"
	"flipwatch/internal/domain/model"
)

const secondaryPageSize = 50

// Secondary 二级市场在售搜索，严格限流：一次一个 id
type Secondary struct {
	http        *resty.Client
	minInterval time.Duration
}

type itemSearchResponse struct {
	Total         int `json:"total"`
	ItemSummaries []struct {
		ItemID string `json:"itemId"`
		Price  struct {
			Value    string `json:"value"`
			Currency string `json:"currency"`
		} `json:"price"`
	} `json:"itemSummaries"`
}

func NewSecondary(opts Options, minInterval time.Duration) *Secondary {
	c := newResty(opts)
	if opts.APIKey != "" {
		c.SetAuthToken(opts.APIKey)
	}
	if minInterval <= 0 {
		minInterval = time.Second
	}
	return &Secondary{http: c, minInterval: minInterval}
}

func (c *Secondary) Source() model.Source       { return model.SourceSecondary }
func (c *Secondary) MaxBatchSize() int          { return 1 }
func (c *Secondary) MinInterval() time.Duration { return c.minInterval }

func (c *Secondary) FetchBatch(ctx context.Context, ids []string) ([]port.FetchResult, error) {
	results := make([]port.FetchResult, 0, len(ids))
	for _, id := range ids {
		var out itemSearchResponse
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"q":      id,
				"filter": "conditions:{NEW},buyingOptions:{FIXED_PRICE}",
				"limit":  fmt.Sprint(secondaryPageSize),
			}).
			SetResult(&out).
			Get("/item_summary/search")
		if err != nil {
			return nil, fmt.Errorf("secondary request: %w", err)
		}
		if resp.IsError() {
			return nil, statusError("secondary", resp)
		}
		snap, err := summarize(out)
		if err != nil {
			results = append(results, port.FetchResult{ID: id, Err: fmt.Errorf("secondary %s: %w", id, err)})
			continue
		}
		results = append(results, port.FetchResult{ID: id, Snapshot: snap})
	}
	return results, nil
}

// summarize folds live listings into min/avg/max/count; no listings yields nil prices.
func summarize(out itemSearchResponse) (*model.PriceSnapshot, error) {
	snap := &model.PriceSnapshot{}
	var (
		lo, hi, sum float64
		n           int
	)
	for _, it := range out.ItemSummaries {
		p, err := parseMoney(it.Price.Value)
		if err != nil {
			return nil, err
		}
		if p == nil || *p <= 0 {
			continue
		}
		if n == 0 || *p < lo {
			lo = *p
		}
		if n == 0 || *p > hi {
			hi = *p
		}
		sum += *p
		n++
	}
	snap.LotCount = &n
	if n == 0 {
		return snap, nil
	}
	avg := sum / float64(n)
	snap.MinPrice, snap.MaxPrice, snap.AvgPrice = &lo, &hi, &avg
	return snap, nil
}

var _ port.PricingSourceClient = (*Secondary)(nil)
