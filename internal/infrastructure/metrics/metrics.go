// Package metrics registers the synchronizer metrics:
//
//	flipwatch_batch_items_total{source,result}
//	flipwatch_batch_duration_seconds{source}
//	flipwatch_batch_stopped_early_total{source}
//	flipwatch_cursor_position{source} / flipwatch_cursor_total{source}
//	flipwatch_fetch_total{source,outcome}
//	flipwatch_watchlist_items{owner} / flipwatch_watchlist_skipped_total{owner}
//	go_* and process_* system metrics
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"flipwatch/internal/application/port"
	"flipwatch/internal/domain/model"
)

type Registry struct {
	reg *prometheus.Registry

	batchItems     *prometheus.CounterVec
	batchDuration  *prometheus.HistogramVec
	stoppedEarly   *prometheus.CounterVec
	cursorPosition *prometheus.GaugeVec
	cursorTotal    *prometheus.GaugeVec
	fetches        *prometheus.CounterVec
	watchlistItems *prometheus.GaugeVec
	refreshSkipped *prometheus.CounterVec
}

func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		batchItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flipwatch_batch_items_total",
			Help: "Items attempted by ProcessNextBatch, by result",
		}, []string{"source", "result"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flipwatch_batch_duration_seconds",
			Help:    "Wall time of one ProcessNextBatch invocation",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"source"}),
		stoppedEarly: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flipwatch_batch_stopped_early_total",
			Help: "Invocations cut short by rate limiting or transport failure",
		}, []string{"source"}),
		cursorPosition: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flipwatch_cursor_position",
			Help: "Cursor position after the last invocation",
		}, []string{"source"}),
		cursorTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flipwatch_cursor_total",
			Help: "Items due for the current sync day",
		}, []string{"source"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flipwatch_fetch_total",
			Help: "Per-item fetch outcomes (success, failure, rate_limited, error)",
		}, []string{"source", "outcome"}),
		watchlistItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flipwatch_watchlist_items",
			Help: "Tracked items after the last refresh",
		}, []string{"owner"}),
		refreshSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flipwatch_watchlist_skipped_total",
			Help: "Candidates skipped during refresh",
		}, []string{"owner"}),
	}
	r.reg.MustRegister(
		r.batchItems, r.batchDuration, r.stoppedEarly, r.cursorPosition, r.cursorTotal,
		r.fetches, r.watchlistItems, r.refreshSkipped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Registry) ObserveBatch(res model.BatchResult, elapsed time.Duration) {
	src := string(res.Source)
	r.batchItems.WithLabelValues(src, "processed").Add(float64(res.Processed))
	r.batchItems.WithLabelValues(src, "failed").Add(float64(res.Failed))
	r.batchDuration.WithLabelValues(src).Observe(elapsed.Seconds())
	if res.StoppedEarly {
		r.stoppedEarly.WithLabelValues(src).Inc()
	}
	r.cursorPosition.WithLabelValues(src).Set(float64(res.CursorPosition))
	r.cursorTotal.WithLabelValues(src).Set(float64(res.TotalForDay))
}

func (r *Registry) ObserveFetch(src model.Source, outcome string) {
	r.fetches.WithLabelValues(string(src), outcome).Inc()
}

func (r *Registry) ObserveRefresh(owner string, res model.RefreshResult) {
	r.watchlistItems.WithLabelValues(owner).Set(float64(res.Total))
	r.refreshSkipped.WithLabelValues(owner).Add(float64(res.Skipped))
}

// Handler 暴露 /metrics
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

var _ port.SyncMetrics = (*Registry)(nil)
