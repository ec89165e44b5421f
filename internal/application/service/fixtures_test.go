package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"flipwatch/internal/application/port"
	"flipwatch/internal/domain/model"
	"flipwatch/internal/infrastructure/storage/sqlite"
)

type testEnv struct {
	repo    *sqlite.Repo
	items   *sqlite.ItemRepo
	snaps   *sqlite.SnapshotRepo
	cursors *sqlite.CursorRepo
	excl    *sqlite.ExclusionRepo
	ops     *sqlite.OpsRepo
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo, err := sqlite.New(filepath.Join(t.TempDir(), "service.db"))
	if err != nil {
		t.Fatalf("create repo failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	db := repo.GetDB()
	return &testEnv{
		repo:    repo,
		items:   sqlite.NewItemRepo(db),
		snaps:   sqlite.NewSnapshotRepo(db),
		cursors: sqlite.NewCursorRepo(db),
		excl:    sqlite.NewExclusionRepo(db),
		ops:     sqlite.NewOpsRepo(db),
	}
}

// seedItems 写入 n 个激活条目：set-000 / B000 ...
func (e *testEnv) seedItems(t *testing.T, owner string, n int) {
	t.Helper()
	items := make([]model.TrackedItem, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, model.TrackedItem{
			ExternalID:    fmt.Sprintf("B%03d", i),
			CounterpartID: fmt.Sprintf("set-%03d", i),
			Reason:        model.ReasonSoldBefore,
			IsActive:      true,
		})
	}
	if err := e.items.ReplaceAll(context.Background(), owner, items); err != nil {
		t.Fatalf("seed items failed: %v", err)
	}
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeClient 可编排失败的价格来源
type fakeClient struct {
	src         model.Source
	maxBatch    int
	price       float64
	failIDs     map[string]bool
	rateLimitAt int // 第 n 次调用返回限流，0 表示不限流

	mu    sync.Mutex
	calls [][]string
}

func newFakeClient(src model.Source, maxBatch int) *fakeClient {
	return &fakeClient{src: src, maxBatch: maxBatch, price: 40, failIDs: map[string]bool{}}
}

func (c *fakeClient) Source() model.Source       { return c.src }
func (c *fakeClient) MaxBatchSize() int          { return c.maxBatch }
func (c *fakeClient) MinInterval() time.Duration { return 0 }

func (c *fakeClient) FetchBatch(ctx context.Context, ids []string) ([]port.FetchResult, error) {
	c.mu.Lock()
	c.calls = append(c.calls, append([]string(nil), ids...))
	n := len(c.calls)
	c.mu.Unlock()

	if c.rateLimitAt > 0 && n == c.rateLimitAt {
		return nil, port.ErrRateLimited
	}
	out := make([]port.FetchResult, 0, len(ids))
	for _, id := range ids {
		if c.failIDs[id] {
			out = append(out, port.FetchResult{ID: id, Err: fmt.Errorf("no data for %s", id)})
			continue
		}
		p := c.price
		out = append(out, port.FetchResult{ID: id, Snapshot: &model.PriceSnapshot{BuyBoxPrice: &p, MinPrice: &p}})
	}
	return out, nil
}

func (c *fakeClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *fakeClient) fetchedIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, call := range c.calls {
		out = append(out, call...)
	}
	return out
}

type fakeSink struct {
	mu     sync.Mutex
	events []model.Event
	err    error
}

func (s *fakeSink) Send(ctx context.Context, ev model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *fakeSink) kinds() []model.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.EventKind, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Kind)
	}
	return out
}

type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocker() *memLocker { return &memLocker{held: map[string]bool{}} }

func (l *memLocker) TryLock(ctx context.Context, key string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, true, nil
}

func f64(v float64) *float64 { return &v }
