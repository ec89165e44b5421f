package source

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"flipwatch/internal/application/port"
	"flipwatch/internal/domain/model"
)

// stats.current 数组下标
const (
	csvNew       = 1
	csvSalesRank = 3
	csvBuyBox    = 18
)

const buyBoxMaxBatch = 100

// BuyBox 主市场商品接口（按目录 ID 批量查询，令牌桶计费）
type BuyBox struct {
	http   *resty.Client
	apiKey string
	domain int
}

type buyBoxResponse struct {
	Products   []buyBoxProduct `json:"products"`
	TokensLeft int             `json:"tokensLeft"`
	RefillIn   int64           `json:"refillIn"` // ms
}

type buyBoxProduct struct {
	ASIN  string `json:"asin"`
	Stats *struct {
		Current []int64 `json:"current"`
	} `json:"stats"`
}

func NewBuyBox(opts Options, domain int) *BuyBox {
	if domain <= 0 {
		domain = 2
	}
	return &BuyBox{http: newResty(opts), apiKey: opts.APIKey, domain: domain}
}

func (c *BuyBox) Source() model.Source       { return model.SourceBuyBox }
func (c *BuyBox) MaxBatchSize() int          { return buyBoxMaxBatch }
func (c *BuyBox) MinInterval() time.Duration { return 0 }

func (c *BuyBox) FetchBatch(ctx context.Context, ids []string) ([]port.FetchResult, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > buyBoxMaxBatch {
		return nil, fmt.Errorf("buybox: batch of %d exceeds %d", len(ids), buyBoxMaxBatch)
	}

	var out buyBoxResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"key":    c.apiKey,
			"domain": strconv.Itoa(c.domain),
			"asin":   strings.Join(ids, ","),
			"stats":  "1",
		}).
		SetResult(&out).
		Get("/product")
	if err != nil {
		return nil, fmt.Errorf("buybox request: %w", err)
	}
	if resp.StatusCode() == http.StatusTooManyRequests {
		var body buyBoxResponse
		_ = decodeJSON(resp.Body(), &body)
		if body.RefillIn > 0 {
			return nil, fmt.Errorf("%w: refill in %dms", port.ErrRateLimited, body.RefillIn)
		}
		return nil, port.ErrRateLimited
	}
	if resp.IsError() {
		return nil, statusError("buybox", resp)
	}
	log.Debug().Int("asins", len(ids)).Int("tokens_left", out.TokensLeft).Msg("buybox batch fetched")

	byASIN := make(map[string]buyBoxProduct, len(out.Products))
	for _, p := range out.Products {
		byASIN[p.ASIN] = p
	}
	results := make([]port.FetchResult, 0, len(ids))
	for _, id := range ids {
		p, ok := byASIN[id]
		if !ok {
			results = append(results, port.FetchResult{ID: id, Err: fmt.Errorf("%w: asin %s not returned", ErrNoData, id)})
			continue
		}
		results = append(results, port.FetchResult{ID: id, Snapshot: decodeBuyBox(p)})
	}
	return results, nil
}

func decodeBuyBox(p buyBoxProduct) *model.PriceSnapshot {
	snap := &model.PriceSnapshot{}
	if p.Stats == nil {
		return snap
	}
	cur := p.Stats.Current
	snap.BuyBoxPrice = minorUnits(cur, csvBuyBox)
	snap.LowestNewPrice = minorUnits(cur, csvNew)
	if len(cur) > csvSalesRank && cur[csvSalesRank] > 0 {
		rank := int(cur[csvSalesRank])
		snap.SalesRank = &rank
	}
	return snap
}

// minorUnits 分 -> 元；-1 或缺失表示无报价
func minorUnits(cur []int64, idx int) *float64 {
	if len(cur) <= idx || cur[idx] <= 0 {
		return nil
	}
	v := float64(cur[idx]) / 100
	return &v
}

var _ port.PricingSourceClient = (*BuyBox)(nil)
