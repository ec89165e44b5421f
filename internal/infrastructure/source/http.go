// Package source implements the pricing source clients over HTTP.
package source

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"flipwatch/internal/application/port"
)

// Options 来源连接配置
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Retries int // 仅对 5xx / 网络错误重试
}

// ErrNoData 来源确认没有该条目
var ErrNoData = errors.New("no data")

func newResty(opts Options) *resty.Client {
	c := resty.New()
	c.SetBaseURL(strings.TrimRight(opts.BaseURL, "/"))
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c.SetTimeout(timeout)
	c.SetHeader("Accept", "application/json")
	c.SetHeader("User-Agent", "flipwatch/1.0")
	if opts.Retries > 0 {
		c.SetRetryCount(opts.Retries)
		c.SetRetryWaitTime(500 * time.Millisecond)
		c.AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	}
	return c
}

// statusError maps a non-2xx response to a batch-level error.
func statusError(name string, resp *resty.Response) error {
	if resp.StatusCode() == http.StatusTooManyRequests {
		wait := resp.Header().Get("Retry-After")
		log.Warn().Str("source", name).Str("retry_after", wait).Msg("source rate limited")
		if wait != "" {
			return fmt.Errorf("%w: retry after %s", port.ErrRateLimited, wait)
		}
		return port.ErrRateLimited
	}
	body := string(resp.Body())
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Errorf("%s: http %d: %s", name, resp.StatusCode(), body)
}

// parseMoney 解析 "12.50" 形式的金额，空串返回 nil
func parseMoney(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("parse price %q: %w", s, err)
	}
	return &v, nil
}

func decodeJSON(b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}
