package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"flipwatch/internal/application/port"
	"flipwatch/internal/domain/model"
)

const defaultNotifyTimeout = 5 * time.Second

// emit sends ev and only logs delivery failures; notifications never fail a sync.
func emit(ctx context.Context, sink port.NotificationSink, timeout time.Duration, ev model.Event) {
	if sink == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := sink.Send(ctx, ev); err != nil {
		log.Warn().
			Err(err).
			Str("owner", ev.OwnerID).
			Str("source", string(ev.Source)).
			Str("kind", string(ev.Kind)).
			Msg("notification delivery failed")
	}
}

// outbox collects an invocation's events; dispatch happens once the invocation is done.
type outbox struct {
	events []model.Event
}

func (o *outbox) add(ev model.Event) { o.events = append(o.events, ev) }

// notifier delivers event batches on a goroutine, in emission order within a batch.
type notifier struct {
	sink    port.NotificationSink
	timeout time.Duration
	wg      sync.WaitGroup
}

func (n *notifier) dispatch(ctx context.Context, events []model.Event) {
	if n.sink == nil || len(events) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for _, ev := range events {
			emit(ctx, n.sink, n.timeout, ev)
		}
	}()
}

func (n *notifier) wait() { n.wg.Wait() }

// NopMetrics discards all observations.
type NopMetrics struct{}

func (NopMetrics) ObserveBatch(model.BatchResult, time.Duration) {}
func (NopMetrics) ObserveFetch(model.Source, string) {}
func (NopMetrics) ObserveRefresh(string, model.RefreshResult) {}

var _ port.SyncMetrics = NopMetrics{}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
