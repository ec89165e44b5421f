package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/BurntSushi/toml"
)

type Config struct {
	App struct {
		Timezone           string   `toml:"timezone"`
		Owners             []string `toml:"owners"`
		SyncIntervalSec    int      `toml:"sync_interval_sec"`
		RefreshIntervalMin int      `toml:"refresh_interval_min"` // 0 关闭定时刷新
		NotifyTimeoutMs    int      `toml:"notify_timeout_ms"`
	} `toml:"app"`

	Log struct {
		Level      string `toml:"level"`
		File       string `toml:"file"` // 空则只输出到 stdout
		MaxSizeMB  int    `toml:"max_size_mb"`
		MaxAgeDays int    `toml:"max_age_days"`
		MaxBackups int    `toml:"max_backups"`
	} `toml:"log"`

	HTTP struct {
		Addr string `toml:"addr"`
	} `toml:"http"`

	Storage struct {
		SQLite struct {
			Path string `toml:"path"`
		} `toml:"sqlite"`

		Postgres struct {
			Enabled bool   `toml:"enabled"`
			DSN     string `toml:"dsn"`
		} `toml:"postgres"`

		Redis struct {
			Enabled       bool   `toml:"enabled"`
			Addr          string `toml:"addr"`
			Password      string `toml:"password"`
			DB            int    `toml:"db"`
			Prefix        string `toml:"prefix"`
			NotifyStream  string `toml:"notify_stream"`
			NotifyChannel string `toml:"notify_channel"`
			LockTTLSec    int    `toml:"lock_ttl_sec"`
		} `toml:"redis"`
	} `toml:"storage"`

	Ops struct {
		Backend string `toml:"backend"` // sqlite | postgres
	} `toml:"ops"`

	Watchlist struct {
		BestSellers       int `toml:"best_sellers"`
		PopularRetired    int `toml:"popular_retired"`
		MaxItems          int `toml:"max_items"`
		SalesWindowMonths int `toml:"sales_window_months"`
	} `toml:"watchlist"`

	Opportunities struct {
		MinProfitMarginPercent float64 `toml:"min_profit_margin_percent"`
		MaxCOGPercent          float64 `toml:"max_cog_percent"`
		DefaultLimit           int     `toml:"default_limit"`
		MaxLimit               int     `toml:"max_limit"`
	} `toml:"opportunities"`

	Sources struct {
		BuyBox      Source `toml:"buybox"`
		Secondary   Source `toml:"secondary"`
		PeerListing Source `toml:"peer_listing"`
	} `toml:"sources"`
}

// Source 单个价格来源的连接与节流配置
type Source struct {
	Enabled          bool   `toml:"enabled"`
	BaseURL          string `toml:"base_url"`
	APIKey           string `toml:"api_key"`
	Domain           int    `toml:"domain"` // buybox marketplace domain id
	TimeoutSec       int    `toml:"timeout_sec"`
	BatchSize        int    `toml:"batch_size"`
	Concurrency      int    `toml:"concurrency"`
	InterCallDelayMs int    `toml:"inter_call_delay_ms"`

	// 令牌桶预算（buybox）
	TokensPerMinute float64 `toml:"tokens_per_minute"`
	WindowMinutes   float64 `toml:"window_minutes"`
	ItemsPerToken   float64 `toml:"items_per_token"`
	SafetyFactor    float64 `toml:"safety_factor"`

	// 固定预算
	PerInvocation int `toml:"per_invocation"`
	DailyCap      int `toml:"daily_cap"`
}

func (s Source) Timeout() time.Duration { return time.Duration(s.TimeoutSec) * time.Second }

func (s Source) InterCallDelay() time.Duration {
	return time.Duration(s.InterCallDelayMs) * time.Millisecond
}

// TokenBucket reports whether the source budgets by token bucket instead of a fixed count.
func (s Source) TokenBucket() bool { return s.TokensPerMinute > 0 }

func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.App.SyncIntervalSec) * time.Second
}

func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.App.RefreshIntervalMin) * time.Minute
}

func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.App.NotifyTimeoutMs) * time.Millisecond
}

func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.Storage.Redis.LockTTLSec) * time.Second
}

// Location 解析 app.timezone，validate 已保证合法
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv 环境变量覆盖密钥类配置
func applyEnv(cfg *Config) {
	override := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	override(&cfg.Sources.BuyBox.APIKey, "FLIPWATCH_BUYBOX_API_KEY")
	override(&cfg.Sources.Secondary.APIKey, "FLIPWATCH_SECONDARY_API_KEY")
	override(&cfg.Sources.PeerListing.APIKey, "FLIPWATCH_PEER_LISTING_API_KEY")
	override(&cfg.Storage.Postgres.DSN, "FLIPWATCH_POSTGRES_DSN")
	override(&cfg.Storage.Redis.Password, "FLIPWATCH_REDIS_PASSWORD")
}

func applyDefaults(cfg *Config) {
	if cfg.App.Timezone == "" {
		cfg.App.Timezone = "UTC"
	}
	if cfg.App.SyncIntervalSec <= 0 {
		cfg.App.SyncIntervalSec = 300
	}
	if cfg.App.NotifyTimeoutMs <= 0 {
		cfg.App.NotifyTimeoutMs = 3000
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 100
	}
	if cfg.Log.MaxAgeDays <= 0 {
		cfg.Log.MaxAgeDays = 14
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = "data/flipwatch.db"
	}
	if cfg.Storage.Redis.Prefix == "" {
		cfg.Storage.Redis.Prefix = "flipwatch:"
	}
	if cfg.Storage.Redis.NotifyStream == "" {
		cfg.Storage.Redis.NotifyStream = "sync_events"
	}
	if cfg.Storage.Redis.LockTTLSec <= 0 {
		cfg.Storage.Redis.LockTTLSec = 600
	}
	if cfg.Ops.Backend == "" {
		cfg.Ops.Backend = "sqlite"
	}
	if cfg.Watchlist.BestSellers <= 0 {
		cfg.Watchlist.BestSellers = 100
	}
	if cfg.Watchlist.PopularRetired <= 0 {
		cfg.Watchlist.PopularRetired = 100
	}
	if cfg.Watchlist.MaxItems <= 0 {
		cfg.Watchlist.MaxItems = 200
	}
	if cfg.Watchlist.SalesWindowMonths <= 0 {
		cfg.Watchlist.SalesWindowMonths = 13
	}
	if cfg.Opportunities.MinProfitMarginPercent <= 0 {
		cfg.Opportunities.MinProfitMarginPercent = 20
	}
	if cfg.Opportunities.MaxCOGPercent <= 0 {
		cfg.Opportunities.MaxCOGPercent = 60
	}
	if cfg.Opportunities.DefaultLimit <= 0 {
		cfg.Opportunities.DefaultLimit = 50
	}
	if cfg.Opportunities.MaxLimit <= 0 {
		cfg.Opportunities.MaxLimit = 500
	}

	sourceDefaults(&cfg.Sources.BuyBox, 10, 1, 0)
	if cfg.Sources.BuyBox.TokensPerMinute > 0 {
		if cfg.Sources.BuyBox.WindowMinutes <= 0 {
			cfg.Sources.BuyBox.WindowMinutes = 4
		}
		if cfg.Sources.BuyBox.SafetyFactor <= 0 {
			cfg.Sources.BuyBox.SafetyFactor = 0.9
		}
	}
	sourceDefaults(&cfg.Sources.Secondary, 1, 1, 1000)
	sourceDefaults(&cfg.Sources.PeerListing, 1, 5, 200)
}

func sourceDefaults(s *Source, batch, concurrency, delayMs int) {
	if s.BatchSize <= 0 {
		s.BatchSize = batch
	}
	if s.Concurrency <= 0 {
		s.Concurrency = concurrency
	}
	if s.InterCallDelayMs <= 0 {
		s.InterCallDelayMs = delayMs
	}
	if s.TimeoutSec <= 0 {
		s.TimeoutSec = 30
	}
	if !s.TokenBucket() && s.PerInvocation <= 0 {
		s.PerInvocation = 100
	}
}

func validate(cfg *Config) error {
	if _, err := time.LoadLocation(cfg.App.Timezone); err != nil {
		return fmt.Errorf("app.timezone: %w", err)
	}
	cfg.App.Owners = normalizeOwners(cfg.App.Owners)
	if len(cfg.App.Owners) == 0 {
		return errors.New("app.owners is empty")
	}

	switch cfg.Ops.Backend {
	case "sqlite":
	case "postgres":
		if !cfg.Storage.Postgres.Enabled {
			return errors.New("ops.backend is postgres but storage.postgres is disabled")
		}
	default:
		return fmt.Errorf("ops.backend %q: want sqlite or postgres", cfg.Ops.Backend)
	}
	if cfg.Storage.Postgres.Enabled && strings.TrimSpace(cfg.Storage.Postgres.DSN) == "" {
		return errors.New("storage.postgres.dsn empty but enabled")
	}
	if cfg.Storage.Redis.Enabled && strings.TrimSpace(cfg.Storage.Redis.Addr) == "" {
		return errors.New("storage.redis.addr empty but enabled")
	}

	sources := map[string]Source{
		"buybox":       cfg.Sources.BuyBox,
		"secondary":    cfg.Sources.Secondary,
		"peer_listing": cfg.Sources.PeerListing,
	}
	enabled := 0
	for name, s := range sources {
		if !s.Enabled {
			continue
		}
		enabled++
		if strings.TrimSpace(s.BaseURL) == "" {
			return fmt.Errorf("sources.%s.base_url empty but enabled", name)
		}
		if s.SafetyFactor > 1 {
			return fmt.Errorf("sources.%s.safety_factor must be <= 1", name)
		}
		// 并发的固定预算来源必须有调用间隔
		if s.Concurrency > 1 && !s.TokenBucket() && s.InterCallDelayMs <= 0 {
			return fmt.Errorf("sources.%s.inter_call_delay_ms must be > 0 when concurrency > 1", name)
		}
	}
	if enabled == 0 {
		return errors.New("no pricing source enabled")
	}
	return nil
}

func normalizeOwners(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		v := strings.TrimSpace(s)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
