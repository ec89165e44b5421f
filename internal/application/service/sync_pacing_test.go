package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flipwatch/internal/application/port"
	"flipwatch/internal/domain/model"
	domainservice "flipwatch/internal/domain/service"
)

// pacedClient 记录每次调用的开始时间和并发峰值
type pacedClient struct {
	*fakeClient
	hold time.Duration

	mu       sync.Mutex
	starts   []time.Time
	inFlight int
	peak     int
}

func newPacedClient(src model.Source, hold time.Duration) *pacedClient {
	return &pacedClient{fakeClient: newFakeClient(src, 1), hold: hold}
}

func (c *pacedClient) FetchBatch(ctx context.Context, ids []string) ([]port.FetchResult, error) {
	c.mu.Lock()
	c.starts = append(c.starts, time.Now())
	c.inFlight++
	if c.inFlight > c.peak {
		c.peak = c.inFlight
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight--
		c.mu.Unlock()
	}()

	select {
	case <-time.After(c.hold):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return c.fakeClient.FetchBatch(ctx, ids)
}

func (c *pacedClient) peakInFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peak
}

// startGaps 返回按时间排序的相邻开始间隔
func (c *pacedClient) startGaps() []time.Duration {
	c.mu.Lock()
	starts := append([]time.Time(nil), c.starts...)
	c.mu.Unlock()
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
	gaps := make([]time.Duration, 0, len(starts))
	for i := 1; i < len(starts); i++ {
		gaps = append(gaps, starts[i].Sub(starts[i-1]))
	}
	return gaps
}

func runPaced(t *testing.T, client *pacedClient, items int, policy SyncPolicy) *model.BatchResult {
	t.Helper()
	env := newTestEnv(t)
	env.seedItems(t, testOwner, items)
	s := newSynchronizer(env, client, &fakeSink{}, newMemLocker(), newClock(), policy)
	res, err := s.ProcessNextBatch(context.Background(), testOwner)
	require.NoError(t, err)
	require.Equal(t, items, res.Processed)
	return res
}

func TestDispatchBoundsInFlightCalls(t *testing.T) {
	client := newPacedClient(model.SourcePeerListing, 30*time.Millisecond)
	runPaced(t, client, 20, SyncPolicy{
		BatchSize: 1, Concurrency: 5, Quota: domainservice.FixedQuota{PerInvocation: 100},
	})

	assert.Equal(t, 20, client.callCount())
	assert.LessOrEqual(t, client.peakInFlight(), 5)
	assert.Greater(t, client.peakInFlight(), 1, "concurrent policy should overlap calls")
}

func TestDispatchSpacesCallStarts(t *testing.T) {
	const delay = 50 * time.Millisecond
	client := newPacedClient(model.SourcePeerListing, 120*time.Millisecond)
	runPaced(t, client, 10, SyncPolicy{
		BatchSize: 1, Concurrency: 5, InterCallDelay: delay,
		Quota: domainservice.FixedQuota{PerInvocation: 100},
	})

	assert.LessOrEqual(t, client.peakInFlight(), 5)
	gaps := client.startGaps()
	require.Len(t, gaps, 9)
	var span time.Duration
	for i, g := range gaps {
		assert.GreaterOrEqual(t, g, delay-10*time.Millisecond, "gap %d", i)
		span += g
	}
	assert.GreaterOrEqual(t, span, 9*delay-10*time.Millisecond)
}

func TestDispatchSequentialPolicy(t *testing.T) {
	const delay = 30 * time.Millisecond
	client := newPacedClient(model.SourceSecondary, 10*time.Millisecond)
	runPaced(t, client, 6, SyncPolicy{
		BatchSize: 1, Concurrency: 1, InterCallDelay: delay,
		Quota: domainservice.FixedQuota{PerInvocation: 100},
	})

	assert.Equal(t, 1, client.peakInFlight())
	for i, g := range client.startGaps() {
		assert.GreaterOrEqual(t, g, delay-5*time.Millisecond, "gap %d", i)
	}
}

func TestClientMinIntervalFloorsPolicyDelay(t *testing.T) {
	client := &flooredClient{fakeClient: newFakeClient(model.SourcePeerListing, 1), floor: 80 * time.Millisecond}
	s := NewBatchSynchronizer(SynchronizerDeps{Client: client}, SyncPolicy{Concurrency: 5})
	assert.Equal(t, 80*time.Millisecond, s.Policy().InterCallDelay)

	s = NewBatchSynchronizer(SynchronizerDeps{Client: client}, SyncPolicy{Concurrency: 5, InterCallDelay: 200 * time.Millisecond})
	assert.Equal(t, 200*time.Millisecond, s.Policy().InterCallDelay)
}

type flooredClient struct {
	*fakeClient
	floor time.Duration
}

func (c *flooredClient) MinInterval() time.Duration { return c.floor }

// blockingSink 一直阻塞到 ctx 超时
type blockingSink struct {
	fakeSink
}

func (s *blockingSink) Send(ctx context.Context, ev model.Event) error {
	<-ctx.Done()
	_ = s.fakeSink.Send(ctx, ev)
	return ctx.Err()
}

func TestSlowSinkDoesNotDelayBatch(t *testing.T) {
	env := newTestEnv(t)
	env.seedItems(t, testOwner, 5)
	sink := &blockingSink{}
	s := NewBatchSynchronizer(SynchronizerDeps{
		Client:        newFakeClient(model.SourceBuyBox, 10),
		Items:         env.items,
		Snapshots:     env.snaps,
		Cursors:       env.cursors,
		Locker:        newMemLocker(),
		Sink:          sink,
		Location:      time.UTC,
		Now:           newClock().Now,
		NotifyTimeout: time.Second,
	}, SyncPolicy{BatchSize: 10, Quota: domainservice.FixedQuota{PerInvocation: 100}})

	started := time.Now()
	res, err := s.ProcessNextBatch(context.Background(), testOwner)
	elapsed := time.Since(started)
	require.NoError(t, err)
	assert.True(t, res.Complete)
	assert.Less(t, elapsed, time.Second, "batch must not wait on notification delivery")

	// the lock is released before delivery finishes
	_, err = s.ProcessNextBatch(context.Background(), testOwner)
	require.NoError(t, err)

	s.WaitNotifications()
	assert.Equal(t, []model.EventKind{model.EventStart, model.EventComplete}, sink.kinds())
}
