package container

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flipwatch/internal/application/port"
	"flipwatch/internal/application/service"
	"flipwatch/internal/domain/model"
	domainservice "flipwatch/internal/domain/service"
	"flipwatch/internal/infrastructure/config"
	infracontainer "flipwatch/internal/infrastructure/container"
	"flipwatch/internal/infrastructure/lock"
	sqliterepo "flipwatch/internal/infrastructure/storage/sqlite"
)

// stubClient 固定返回 buy box 50 / 同行最低 40
type stubClient struct{ src model.Source }

func (c stubClient) Source() model.Source       { return c.src }
func (c stubClient) MaxBatchSize() int          { return 10 }
func (c stubClient) MinInterval() time.Duration { return 0 }

func (c stubClient) FetchBatch(_ context.Context, ids []string) ([]port.FetchResult, error) {
	out := make([]port.FetchResult, 0, len(ids))
	for _, id := range ids {
		bb, lo := 50.0, 40.0
		snap := &model.PriceSnapshot{}
		if c.src == model.SourceBuyBox {
			snap.BuyBoxPrice = &bb
		} else {
			snap.MinPrice = &lo
		}
		out = append(out, port.FetchResult{ID: id, Snapshot: snap})
	}
	return out, nil
}

func newInfra(t *testing.T) *infracontainer.Container {
	t.Helper()
	cfg := &config.Config{}
	cfg.Storage.SQLite.Path = filepath.Join(t.TempDir(), "container.db")
	cfg.Ops.Backend = "sqlite"

	c, err := infracontainer.New(cfg)
	if err != nil {
		t.Fatalf("failed to create container: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestContainerEndToEnd(t *testing.T) {
	infra := newInfra(t)
	db := infra.SQLiteRepo().GetDB()
	ops := sqliterepo.NewOpsRepo(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	require.NoError(t, ops.RecordSale(ctx, "o1", "75192", "B075", 2, now.AddDate(0, -1, 0)))
	require.NoError(t, ops.RecordSale(ctx, "o1", "10294", "B102", 1, now.AddDate(0, -2, 0)))

	c := New(Deps{
		Items:      sqliterepo.NewItemRepo(db),
		Snapshots:  sqliterepo.NewSnapshotRepo(db),
		Cursors:    sqliterepo.NewCursorRepo(db),
		Exclusions: sqliterepo.NewExclusionRepo(db),
		Ops:        infra.OpsReader(),
		Locker:     lock.NewLocal(),
		Location:   time.UTC,
		Now:        func() time.Time { return now },
	}, []SourceBinding{
		{Client: stubClient{src: model.SourceBuyBox}, Policy: service.SyncPolicy{BatchSize: 10, Quota: domainservice.FixedQuota{PerInvocation: 100}}},
		{Client: stubClient{src: model.SourcePeerListing}, Policy: service.SyncPolicy{BatchSize: 10, Quota: domainservice.FixedQuota{PerInvocation: 100}}},
	}, service.WatchlistLimits{}, service.AggregatorOptions{
		Thresholds: domainservice.Thresholds{MinProfitMarginPercent: 15, MaxCOGPercent: 60},
	})
	assert.Same(t, c.Aggregator(), c.Aggregator(), "services are built once")

	coord := c.Coordinator([]string{"o1"}, time.Minute, 0)
	assert.Equal(t, []model.Source{model.SourceBuyBox, model.SourcePeerListing}, coord.Sources())

	res, err := coord.Refresh(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)

	for _, src := range coord.Sources() {
		br, err := coord.Sync(ctx, "o1", src)
		require.NoError(t, err)
		assert.True(t, br.Complete)
		assert.Equal(t, 2, br.Processed)
	}
	_, err = coord.Sync(ctx, "o1", model.SourceSecondary)
	assert.ErrorIs(t, err, service.ErrUnknownSource)

	page, err := c.Aggregator().Query(ctx, "o1", model.Filter{Mode: model.FilterOpportunities}, model.Sort{}, model.Page{})
	require.NoError(t, err)
	require.Equal(t, 2, page.TotalCount)
	assert.InDelta(t, 20.0, *page.Rows[0].ProfitMarginPercent, 1e-9)

	cursors, err := coord.Status(ctx, "o1")
	require.NoError(t, err)
	assert.Len(t, cursors, 2)
}

func TestInfraContainerDefaultsToSQLiteOps(t *testing.T) {
	infra := newInfra(t)
	assert.Nil(t, infra.RedisRepo())
	assert.Nil(t, infra.PostgresRepo())
	assert.IsType(t, &sqliterepo.OpsRepo{}, infra.OpsReader())
	assert.NoError(t, infra.Ping(context.Background()))
	assert.NoError(t, infra.Close())
	assert.NoError(t, infra.Close(), "close is idempotent")
}
