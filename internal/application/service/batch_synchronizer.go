package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"flipwatch/internal/application/port"
	"flipwatch/internal/domain/model"
	domainservice "flipwatch/internal/domain/service"
)

// SyncPolicy 单个来源的调度策略
type SyncPolicy struct {
	BatchSize      int           // 每次 FetchBatch 的 id 数
	Concurrency    int           // 并发批次数，1 为顺序
	InterCallDelay time.Duration // 相邻调用最小间隔
	Quota          domainservice.Quota
}

// SynchronizerDeps 批量同步器依赖
type SynchronizerDeps struct {
	Client        port.PricingSourceClient
	Items         port.TrackedItemRepository
	Snapshots     port.SnapshotRepository
	Cursors       port.CursorRepository
	Locker        port.SyncLocker
	Sink          port.NotificationSink
	Metrics       port.SyncMetrics
	Location      *time.Location
	Now           func() time.Time
	NotifyTimeout time.Duration
}

// BatchSynchronizer drains one source's due items a budget at a time.
// It keeps no state between invocations; continuation lives in the cursor.
type BatchSynchronizer struct {
	deps     SynchronizerDeps
	policy   SyncPolicy
	source   model.Source
	notifier *notifier
}

func NewBatchSynchronizer(deps SynchronizerDeps, policy SyncPolicy) *BatchSynchronizer {
	if deps.Metrics == nil {
		deps.Metrics = NopMetrics{}
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if policy.BatchSize <= 0 {
		policy.BatchSize = 1
	}
	if limit := deps.Client.MaxBatchSize(); limit > 0 && policy.BatchSize > limit {
		policy.BatchSize = limit
	}
	if policy.Concurrency <= 0 {
		policy.Concurrency = 1
	}
	if d := deps.Client.MinInterval(); policy.InterCallDelay < d {
		policy.InterCallDelay = d
	}
	if policy.Quota == nil {
		policy.Quota = domainservice.FixedQuota{PerInvocation: policy.BatchSize}
	}
	return &BatchSynchronizer{
		deps:     deps,
		policy:   policy,
		source:   deps.Client.Source(),
		notifier: &notifier{sink: deps.Sink, timeout: deps.NotifyTimeout},
	}
}

func (s *BatchSynchronizer) Source() model.Source { return s.source }

func (s *BatchSynchronizer) Policy() SyncPolicy { return s.policy }

// WaitNotifications blocks until every dispatched event was delivered or timed out.
func (s *BatchSynchronizer) WaitNotifications() { s.notifier.wait() }

func lockKey(owner string, src model.Source) string {
	return fmt.Sprintf("sync:%s:%s", owner, src)
}

// ProcessNextBatch 处理下一批到期条目
func (s *BatchSynchronizer) ProcessNextBatch(ctx context.Context, owner string) (*model.BatchResult, error) {
	started := time.Now()

	unlock, ok, err := s.deps.Locker.TryLock(ctx, lockKey(owner, s.source))
	if err != nil {
		return nil, fmt.Errorf("acquire sync lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrSyncInProgress, owner, s.source)
	}
	defer unlock()

	var ob outbox
	res, err := s.run(ctx, owner, &ob)
	s.notifier.dispatch(ctx, ob.events)
	if res != nil {
		s.deps.Metrics.ObserveBatch(*res, time.Since(started))
	}
	return res, err
}

func (s *BatchSynchronizer) run(ctx context.Context, owner string, ob *outbox) (*model.BatchResult, error) {
	now := s.deps.Now().In(s.deps.Location)
	day := now.Format(model.SyncDateLayout)
	dayStart := startOfDay(now)

	cur, err := s.deps.Cursors.Get(ctx, owner, s.source)
	if err != nil && !errors.Is(err, port.ErrNotFound) {
		return nil, fmt.Errorf("load cursor: %w", err)
	}
	if cur != nil && cur.IsCompletedFor(day) {
		return s.result(cur, 0, 0, 0, false), nil
	}

	// an errored day that never advanced is seeded again
	if cur == nil || cur.SyncDate != day || (cur.Status == model.CursorError && cur.CursorPosition == 0) {
		cur = s.resetCursor(cur, owner, day, now)
		due, err := s.deps.Items.CountDue(ctx, owner, s.source, dayStart)
		if err != nil {
			return nil, s.fail(ctx, ob, cur, now, fmt.Errorf("count due items: %w", err))
		}
		cur.TotalItemsForDay = domainservice.DayTotal(s.policy.Quota, due)
		log.Info().
			Str("owner", owner).
			Str("source", string(s.source)).
			Str("day", day).
			Int("total", cur.TotalItemsForDay).
			Msg("sync cursor reset for new day")
	}

	if cur.CursorPosition > cur.TotalItemsForDay {
		return nil, s.fail(ctx, ob, cur, now, fmt.Errorf("%w: position %d > total %d",
			ErrCursorCorrupt, cur.CursorPosition, cur.TotalItemsForDay))
	}

	budget := domainservice.Budget(s.policy.Quota, cur.Remaining())
	var due []model.TrackedItem
	if budget > 0 {
		due, err = s.deps.Items.ListDue(ctx, owner, s.source, dayStart, budget)
		if err != nil {
			return nil, s.fail(ctx, ob, cur, now, fmt.Errorf("select due items: %w", err))
		}
	}

	out := s.dispatch(ctx, owner, due, now)

	prevPosition := cur.CursorPosition
	prevStatus := cur.Status
	cur.CursorPosition += out.attempted
	cur.ItemsProcessed += out.processed
	cur.ItemsFailed += out.failed
	cur.LastRunAt = now
	cur.Status = model.CursorRunning
	cur.LastError = ""
	if out.stopErr != nil {
		cur.LastError = out.stopErr.Error()
	}
	// a short due list without an early stop means nothing else is due today
	drained := out.stopErr == nil && len(due) < budget
	if cur.CursorPosition >= cur.TotalItemsForDay || drained {
		cur.Status = model.CursorCompleted
	}

	// the fetches already happened; persist even if the caller's context expired
	if err := s.deps.Cursors.Save(context.WithoutCancel(ctx), cur); err != nil {
		err = fmt.Errorf("persist cursor: %w", err)
		s.notify(ob, owner, model.EventError, err.Error())
		return nil, err
	}

	if prevPosition == 0 && cur.CursorPosition > 0 {
		s.notify(ob, owner, model.EventStart,
			fmt.Sprintf("%s sync started: %d items due today", s.source, cur.TotalItemsForDay))
	}
	if cur.Status == model.CursorCompleted && prevStatus != model.CursorCompleted && cur.TotalItemsForDay > 0 {
		s.notify(ob, owner, model.EventComplete,
			fmt.Sprintf("%s sync complete: %d processed, %d failed", s.source, cur.ItemsProcessed, cur.ItemsFailed))
	}

	res := s.result(cur, out.attempted, out.processed, out.failed, out.stopErr != nil)
	log.Info().
		Str("owner", owner).
		Str("source", string(s.source)).
		Int("attempted", res.Attempted).
		Int("processed", res.Processed).
		Int("failed", res.Failed).
		Int("position", res.CursorPosition).
		Int("total", res.TotalForDay).
		Bool("complete", res.Complete).
		Msg("sync batch done")
	return res, nil
}

func (s *BatchSynchronizer) resetCursor(prev *model.SyncCursor, owner, day string, now time.Time) *model.SyncCursor {
	c := &model.SyncCursor{
		OwnerID:   owner,
		Source:    s.source,
		SyncDate:  day,
		Status:    model.CursorRunning,
		LastRunAt: now,
	}
	if prev != nil {
		c.Version = prev.Version
	}
	return c
}

// fail marks the job as errored without moving the position.
func (s *BatchSynchronizer) fail(ctx context.Context, ob *outbox, cur *model.SyncCursor, now time.Time, cause error) error {
	cur.Status = model.CursorError
	cur.LastError = cause.Error()
	cur.LastRunAt = now
	if err := s.deps.Cursors.Save(context.WithoutCancel(ctx), cur); err != nil {
		log.Error().Err(err).Str("owner", cur.OwnerID).Str("source", string(s.source)).Msg("persist errored cursor failed")
	}
	log.Error().Err(cause).Str("owner", cur.OwnerID).Str("source", string(s.source)).Msg("sync job failed")
	s.notify(ob, cur.OwnerID, model.EventError, cause.Error())
	return cause
}

func (s *BatchSynchronizer) notify(ob *outbox, owner string, kind model.EventKind, msg string) {
	ob.add(model.Event{
		Kind:    kind,
		OwnerID: owner,
		Source:  s.source,
		Message: msg,
		At:      s.deps.Now(),
	})
}

func (s *BatchSynchronizer) result(c *model.SyncCursor, attempted, processed, failed int, stopped bool) *model.BatchResult {
	return &model.BatchResult{
		Source:         s.source,
		Attempted:      attempted,
		Processed:      processed,
		Failed:         failed,
		CursorPosition: c.CursorPosition,
		TotalForDay:    c.TotalItemsForDay,
		Complete:       c.Status == model.CursorCompleted,
		StoppedEarly:   stopped,
	}
}

// ========== Dispatch ==========

type dispatchOutcome struct {
	attempted int
	processed int
	failed    int
	stopErr   error
}

func chunk(items []model.TrackedItem, size int) [][]model.TrackedItem {
	var out [][]model.TrackedItem
	for size < len(items) {
		items, out = items[size:], append(out, items[:size])
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}

// dispatch fans batches out under the concurrency policy. The first batch-level error
// stops further launches; batches already in flight still finish.
func (s *BatchSynchronizer) dispatch(ctx context.Context, owner string, due []model.TrackedItem, now time.Time) dispatchOutcome {
	var (
		mu      sync.Mutex
		out     dispatchOutcome
		limiter = rate.NewLimiter(rate.Inf, 1)
	)
	if s.policy.InterCallDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(s.policy.InterCallDelay), 1)
	}
	stopped := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return out.stopErr != nil
	}
	stop := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if out.stopErr == nil {
			out.stopErr = err
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(s.policy.Concurrency)
	for _, batch := range chunk(due, s.policy.BatchSize) {
		if stopped() {
			break
		}
		g.Go(func() error {
			if err := limiter.Wait(ctx); err != nil {
				stop(err)
				return nil
			}
			if stopped() {
				return nil
			}
			processed, failed, err := s.fetchBatch(ctx, owner, batch, now)
			if err != nil {
				stop(err)
				return nil
			}
			mu.Lock()
			out.attempted += len(batch)
			out.processed += processed
			out.failed += failed
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if out.stopErr != nil {
		log.Warn().
			Err(out.stopErr).
			Str("owner", owner).
			Str("source", string(s.source)).
			Int("attempted", out.attempted).
			Int("due", len(due)).
			Msg("sync dispatch stopped early")
	}
	return out
}

// fetchBatch returns a non-nil error only for batch-level failures, in which case
// no item of the batch is marked.
func (s *BatchSynchronizer) fetchBatch(ctx context.Context, owner string, batch []model.TrackedItem, now time.Time) (processed, failed int, err error) {
	ids := make([]string, 0, len(batch))
	byID := make(map[string][]model.TrackedItem, len(batch))
	for _, it := range batch {
		id := s.source.LookupID(it)
		if _, ok := byID[id]; !ok {
			ids = append(ids, id)
		}
		byID[id] = append(byID[id], it)
	}

	results, err := s.deps.Client.FetchBatch(ctx, ids)
	if err != nil {
		outcome := "error"
		if errors.Is(err, port.ErrRateLimited) {
			outcome = "rate_limited"
		}
		s.deps.Metrics.ObserveFetch(s.source, outcome)
		return 0, 0, fmt.Errorf("fetch %s batch: %w", s.source, err)
	}

	// results are in hand; record them even if ctx expires from here on
	wctx := context.WithoutCancel(ctx)
	seen := make(map[string]struct{}, len(results))
	for _, r := range results {
		items, ok := byID[r.ID]
		if !ok {
			continue
		}
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		for _, it := range items {
			if s.storeResult(wctx, owner, it, r, now) {
				processed++
			} else {
				failed++
			}
		}
	}
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		for _, it := range byID[id] {
			s.markFailed(wctx, owner, it, now, "no result returned")
			failed++
		}
	}
	return processed, failed, nil
}

func (s *BatchSynchronizer) storeResult(ctx context.Context, owner string, it model.TrackedItem, r port.FetchResult, now time.Time) bool {
	if r.Err != nil || r.Snapshot == nil {
		reason := "empty result"
		if r.Err != nil {
			reason = r.Err.Error()
		}
		s.markFailed(ctx, owner, it, now, reason)
		return false
	}

	snap := *r.Snapshot
	snap.OwnerID = owner
	snap.CounterpartID = it.CounterpartID
	snap.Source = s.source
	if snap.SnapshotDate.IsZero() {
		snap.SnapshotDate = now
	}
	if err := s.deps.Snapshots.Upsert(ctx, &snap); err != nil {
		s.markFailed(ctx, owner, it, now, fmt.Sprintf("store snapshot: %v", err))
		return false
	}
	if err := s.deps.Items.MarkSynced(ctx, owner, s.source, it.CounterpartID, now); err != nil {
		log.Warn().Err(err).Str("counterpart", it.CounterpartID).Msg("mark synced failed")
	}
	s.deps.Metrics.ObserveFetch(s.source, "success")
	return true
}

func (s *BatchSynchronizer) markFailed(ctx context.Context, owner string, it model.TrackedItem, now time.Time, reason string) {
	s.deps.Metrics.ObserveFetch(s.source, "failure")
	log.Debug().
		Str("owner", owner).
		Str("source", string(s.source)).
		Str("counterpart", it.CounterpartID).
		Str("reason", reason).
		Msg("item fetch failed")
	if err := s.deps.Items.MarkFailed(ctx, owner, s.source, it.CounterpartID, now, reason); err != nil {
		log.Warn().Err(err).Str("counterpart", it.CounterpartID).Msg("mark failed failed")
	}
}
