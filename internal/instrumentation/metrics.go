package instrumentation

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the feeder's Prometheus collectors. Each Metrics owns its
// registry so tests can build as many as they like. All methods accept a nil
// receiver and do nothing.
type Metrics struct {
	reg *prometheus.Registry

	DepthUpdates  *prometheus.CounterVec
	Trades        *prometheus.CounterVec
	Signals       *prometheus.CounterVec
	Published     prometheus.Counter
	Dropped       prometheus.Counter
	Subscribers   prometheus.Gauge
	FeedConnected prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,

		DepthUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "feeder_depth_updates_total",
			Help: "Depth updates seen, by symbol and outcome",
		}, []string{"symbol", "outcome"}),

		Trades: f.NewCounterVec(prometheus.CounterOpts{
			Name: "feeder_trades_total",
			Help: "Aggregate trades seen, by symbol and outcome",
		}, []string{"symbol", "outcome"}),

		Signals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "feeder_breakout_signals_total",
			Help: "Breakout alerts published, by symbol and direction",
		}, []string{"symbol", "direction"}),

		Published: f.NewCounter(prometheus.CounterOpts{
			Name: "feeder_hub_published_total",
			Help: "Lines handed to the distribution hub",
		}),

		Dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "feeder_hub_dropped_total",
			Help: "Queued lines evicted from slow subscriber sessions",
		}),

		Subscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "feeder_hub_subscribers",
			Help: "Currently registered subscriber sessions",
		}),

		FeedConnected: f.NewGauge(prometheus.GaugeOpts{
			Name: "feeder_feed_connected",
			Help: "1 while the upstream feed is connected",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) RecordDepth(symbol, outcome string) {
	if m == nil {
		return
	}
	m.DepthUpdates.WithLabelValues(symbol, outcome).Inc()
}

func (m *Metrics) RecordTrade(symbol, outcome string) {
	if m == nil {
		return
	}
	m.Trades.WithLabelValues(symbol, outcome).Inc()
}

func (m *Metrics) RecordSignal(symbol, direction string) {
	if m == nil {
		return
	}
	m.Signals.WithLabelValues(symbol, direction).Inc()
}

func (m *Metrics) RecordPublished() {
	if m == nil {
		return
	}
	m.Published.Inc()
}

func (m *Metrics) RecordDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Dropped.Add(float64(n))
}

func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.Subscribers.Set(float64(n))
}

func (m *Metrics) SetFeedConnected(v bool) {
	if m == nil {
		return
	}
	if v {
		m.FeedConnected.Set(1)
		return
	}
	m.FeedConnected.Set(0)
}
