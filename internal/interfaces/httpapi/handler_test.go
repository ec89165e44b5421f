package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appcontainer "flipwatch/internal/application/container"
	"flipwatch/internal/application/port"
	"flipwatch/internal/application/service"
	"flipwatch/internal/domain/model"
	domainservice "flipwatch/internal/domain/service"
	"flipwatch/internal/infrastructure/lock"
	sqliterepo "flipwatch/internal/infrastructure/storage/sqlite"
)

func init() {
	gin.SetMode(gin.TestMode)
}

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

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *ErrorInfo      `json:"error"`
}

type testAPI struct {
	t      *testing.T
	router *gin.Engine
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	repo, err := sqliterepo.New(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	db := repo.GetDB()
	ops := sqliterepo.NewOpsRepo(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, ops.RecordSale(ctx, "o1", "75192", "B075", 2, now.AddDate(0, -1, 0)))
	require.NoError(t, ops.RecordSale(ctx, "o1", "10294", "B102", 1, now.AddDate(0, -2, 0)))

	policy := service.SyncPolicy{BatchSize: 10, Quota: domainservice.FixedQuota{PerInvocation: 100}}
	app := appcontainer.New(appcontainer.Deps{
		Items:      sqliterepo.NewItemRepo(db),
		Snapshots:  sqliterepo.NewSnapshotRepo(db),
		Cursors:    sqliterepo.NewCursorRepo(db),
		Exclusions: sqliterepo.NewExclusionRepo(db),
		Ops:        ops,
		Locker:     lock.NewLocal(),
		Location:   time.UTC,
		Now:        func() time.Time { return now },
	}, []appcontainer.SourceBinding{
		{Client: stubClient{src: model.SourceBuyBox}, Policy: policy},
		{Client: stubClient{src: model.SourcePeerListing}, Policy: policy},
	}, service.WatchlistLimits{}, service.AggregatorOptions{
		Thresholds: domainservice.Thresholds{MinProfitMarginPercent: 15, MaxCOGPercent: 60},
	})

	owners := []string{"o1"}
	h := NewHandler(app.Coordinator(owners, time.Minute, 0), app.Aggregator(), app.Ledger(), owners)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("flipwatch_up 1\n"))
	})
	return &testAPI{t: t, router: NewRouter(h, RouterOptions{Metrics: metrics})}
}

func (a *testAPI) do(method, path, body string) *httptest.ResponseRecorder {
	a.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

// decode 解析信封，out 为 nil 时只校验状态码
func (a *testAPI) decode(w *httptest.ResponseRecorder, status int, out any) *envelope {
	a.t.Helper()
	require.Equal(a.t, status, w.Code, w.Body.String())
	var env envelope
	require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), &env))
	if out != nil {
		require.NoError(a.t, json.Unmarshal(env.Data, out))
	}
	return &env
}

func (a *testAPI) refreshAndSync() {
	a.t.Helper()
	var res model.RefreshResult
	a.decode(a.do(http.MethodPost, "/api/v1/owners/o1/watchlist/refresh", ""), http.StatusOK, &res)
	require.Equal(a.t, 2, res.Total)
	for _, src := range []string{"buybox", "peer-listing"} {
		var br model.BatchResult
		a.decode(a.do(http.MethodPost, "/api/v1/owners/o1/sync/"+src, ""), http.StatusOK, &br)
		require.True(a.t, br.Complete)
	}
}

func TestSyncEndpoints(t *testing.T) {
	api := newTestAPI(t)

	var cursors []model.SyncCursor
	api.decode(api.do(http.MethodGet, "/api/v1/owners/o1/sync", ""), http.StatusOK, &cursors)
	assert.Empty(t, cursors)

	api.refreshAndSync()

	api.decode(api.do(http.MethodGet, "/api/v1/owners/o1/sync", ""), http.StatusOK, &cursors)
	require.Len(t, cursors, 2)
	for _, c := range cursors {
		assert.Equal(t, model.CursorCompleted, c.Status)
		assert.Equal(t, 2, c.TotalItemsForDay)
	}

	tests := []struct {
		name   string
		path   string
		status int
		code   string
	}{
		{"unknown source name", "/api/v1/owners/o1/sync/bogus", http.StatusBadRequest, CodeInvalidArgument},
		{"source not configured", "/api/v1/owners/o1/sync/secondary", http.StatusBadRequest, CodeInvalidArgument},
		{"unknown owner", "/api/v1/owners/o2/sync/buybox", http.StatusNotFound, CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := api.decode(api.do(http.MethodPost, tt.path, ""), tt.status, nil)
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
			assert.NotEmpty(t, env.Error.RequestID)
		})
	}
}

func TestOpportunityEndpoints(t *testing.T) {
	api := newTestAPI(t)
	api.refreshAndSync()

	var page model.OpportunityPage
	api.decode(api.do(http.MethodGet, "/api/v1/owners/o1/opportunities?filter=opportunities", ""), http.StatusOK, &page)
	require.Equal(t, 2, page.TotalCount)
	assert.Equal(t, "10294", page.Rows[0].CounterpartID)
	assert.InDelta(t, 20.0, *page.Rows[0].ProfitMarginPercent, 1e-9)

	api.decode(api.do(http.MethodGet, "/api/v1/owners/o1/opportunities?sort=counterpart_id&order=desc&limit=1", ""), http.StatusOK, &page)
	assert.Equal(t, 2, page.TotalCount)
	require.Len(t, page.Rows, 1)
	assert.Equal(t, "75192", page.Rows[0].CounterpartID)

	api.decode(api.do(http.MethodGet, "/api/v1/owners/o1/opportunities?q=75192", ""), http.StatusOK, &page)
	assert.Equal(t, 1, page.TotalCount)

	var count struct {
		Mode  model.FilterMode `json:"mode"`
		Count int              `json:"count"`
	}
	api.decode(api.do(http.MethodGet, "/api/v1/owners/o1/opportunities/count?filter=no-data", ""), http.StatusOK, &count)
	assert.Equal(t, model.FilterNoData, count.Mode)
	assert.Equal(t, 0, count.Count)

	for _, q := range []string{"filter=bogus", "sort=bogus", "order=up", "offset=-1", "limit=abc"} {
		t.Run(q, func(t *testing.T) {
			env := api.decode(api.do(http.MethodGet, "/api/v1/owners/o1/opportunities?"+q, ""), http.StatusBadRequest, nil)
			assert.Equal(t, CodeInvalidArgument, env.Error.Code)
		})
	}
}

func TestListingExclusionEndpoints(t *testing.T) {
	api := newTestAPI(t)
	base := "/api/v1/owners/o1/exclusions/listings"

	api.decode(api.do(http.MethodPost, base, `{"listing_id":"L1"}`), http.StatusBadRequest, nil)
	api.decode(api.do(http.MethodPost, base, `{not json`), http.StatusBadRequest, nil)
	api.decode(api.do(http.MethodPost, base, `{"listing_id":"L1","counterpart_id":"75192","reason":"damaged box"}`), http.StatusCreated, nil)

	var listed []model.ListingExclusion
	api.decode(api.do(http.MethodGet, base+"?counterpart=75192", ""), http.StatusOK, &listed)
	require.Len(t, listed, 1)
	assert.Equal(t, "damaged box", listed[0].Reason)

	api.decode(api.do(http.MethodGet, base+"?counterpart=10294", ""), http.StatusOK, &listed)
	assert.Empty(t, listed)

	w := api.do(http.MethodDelete, base+"/L1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	env := api.decode(api.do(http.MethodDelete, base+"/L1", ""), http.StatusNotFound, nil)
	assert.Equal(t, CodeNotFound, env.Error.Code)
}

func TestItemExclusionEndpoints(t *testing.T) {
	api := newTestAPI(t)
	api.refreshAndSync()

	var page model.OpportunityPage
	api.decode(api.do(http.MethodGet, "/api/v1/owners/o1/opportunities", ""), http.StatusOK, &page)
	require.Len(t, page.Rows, 2)
	itemPath := fmt.Sprintf("/api/v1/owners/o1/items/%d/exclusion", page.Rows[0].ItemID)

	api.decode(api.do(http.MethodPost, itemPath, `{"reason":"not worth it"}`), http.StatusCreated, nil)

	var excluded []model.ItemExclusion
	api.decode(api.do(http.MethodGet, "/api/v1/owners/o1/exclusions/items", ""), http.StatusOK, &excluded)
	require.Len(t, excluded, 1)
	assert.Equal(t, page.Rows[0].CounterpartID, excluded[0].CounterpartID)

	api.decode(api.do(http.MethodGet, "/api/v1/owners/o1/opportunities", ""), http.StatusOK, &page)
	assert.Equal(t, 1, page.TotalCount, "excluded item leaves the table")

	assert.Equal(t, http.StatusNoContent, api.do(http.MethodDelete, itemPath, "").Code)
	api.decode(api.do(http.MethodDelete, itemPath, ""), http.StatusNotFound, nil)

	api.decode(api.do(http.MethodPost, "/api/v1/owners/o1/items/999/exclusion", ""), http.StatusNotFound, nil)
	api.decode(api.do(http.MethodPost, "/api/v1/owners/o1/items/abc/exclusion", ""), http.StatusBadRequest, nil)
}

func TestHealthMetricsAndRequestID(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDKey, "req-42")
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-42", w.Header().Get(RequestIDKey))

	w = api.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "flipwatch_up")

	env := api.decode(api.do(http.MethodGet, "/nope", ""), http.StatusNotFound, nil)
	assert.Equal(t, CodeNotFound, env.Error.Code)

	down := NewRouter(NewHandler(nil, nil, nil, nil), RouterOptions{
		Health: func(context.Context) error { return errors.New("sqlite: closed") },
	})
	w = httptest.NewRecorder()
	down.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "sqlite: closed")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("load item 3: %w", port.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: negative offset", service.ErrInvalidQuery), http.StatusBadRequest},
		{service.ErrInvalidArgument, http.StatusBadRequest},
		{service.ErrUnknownSource, http.StatusBadRequest},
		{service.ErrSyncInProgress, http.StatusConflict},
		{port.ErrCursorConflict, http.StatusConflict},
		{port.ErrRateLimited, http.StatusTooManyRequests},
		{service.ErrCursorCorrupt, http.StatusInternalServerError},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, _ := classify(tt.err)
			assert.Equal(t, tt.status, status)
		})
	}
}
