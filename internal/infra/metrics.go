package infra

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

const metricsNamespace = "quote_keeper"

// Cycle results used as the "result" label.
const (
	CycleQuoted      = "quoted"
	CycleAborted     = "aborted"
	CycleFailed      = "failed"
	CycleClosed      = "closed"
	CycleUnconfirmed = "unconfirmed"
	CycleSkipped     = "skipped"
	CycleRejected    = "rejected"
	CycleChecked     = "checked"
)

// Metrics exposes engine and feed counters to Prometheus.
// A few values are mirrored into atomics so Snapshot can serve /status
// without scraping the registry.
type Metrics struct {
	cycles          *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	droppedTriggers *prometheus.CounterVec
	emergencyCloses prometheus.Counter
	watchdogTrips   prometheus.Counter
	unconfirmed     prometheus.Counter
	feedReconnects  prometheus.Counter
	feedMessages    *prometheus.CounterVec

	busy          prometheus.Gauge
	emergency     prometheus.Gauge
	cooldown      prometheus.Gauge
	quotePrice    prometheus.Gauge
	feedConnected prometheus.Gauge

	cyclesTotal     atomic.Uint64
	closesTotal     atomic.Uint64
	unconfirmedSeen atomic.Uint64
	reconnectsTotal atomic.Uint64
}

// NewMetrics registers all collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "cycles_total",
			Help:      "Reorder cycles by result",
		}, []string{"result"}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a reorder cycle",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		droppedTriggers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "dropped_triggers_total",
			Help:      "Triggers dropped because a cycle was in flight",
		}, []string{"trigger"}),
		emergencyCloses: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "emergency_closes_total",
			Help:      "Market orders sent to flatten an unexpected position",
		}),
		watchdogTrips: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "watchdog",
			Name:      "trips_total",
			Help:      "Healthy to dead feed transitions",
		}),
		unconfirmed: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "unconfirmed_orders_total",
			Help:      "Placed orders that never showed up in open orders",
		}),
		feedReconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Feed reconnect attempts",
		}),
		feedMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "feed",
			Name:      "messages_total",
			Help:      "Feed messages by kind",
		}, []string{"kind"}),
		busy: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "busy",
			Help:      "1 while a reorder cycle holds the lock",
		}),
		emergency: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "emergency",
			Help:      "1 while the feed is considered dead",
		}),
		cooldown: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "cooldown",
			Help:      "1 while quoting is suspended after an emergency close",
		}),
		quotePrice: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "quote_price",
			Help:      "Reference price of the verified quote, 0 when none",
		}),
		feedConnected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "feed",
			Name:      "connected",
			Help:      "1 while the public feed connection is up",
		}),
	}
}

// RecordCycle counts a finished cycle.
func (m *Metrics) RecordCycle(result string, elapsed time.Duration) {
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(elapsed.Seconds())
	m.cyclesTotal.Add(1)
}

// RecordDroppedTrigger counts a trigger that found the engine busy.
func (m *Metrics) RecordDroppedTrigger(trigger string) {
	m.droppedTriggers.WithLabelValues(trigger).Inc()
}

func (m *Metrics) RecordEmergencyClose() {
	m.emergencyCloses.Inc()
	m.closesTotal.Add(1)
}

func (m *Metrics) RecordWatchdogTrip() {
	m.watchdogTrips.Inc()
}

func (m *Metrics) RecordUnconfirmed() {
	m.unconfirmed.Inc()
	m.unconfirmedSeen.Add(1)
}

func (m *Metrics) RecordFeedReconnect() {
	m.feedReconnects.Inc()
	m.reconnectsTotal.Add(1)
}

// RecordFeedMessage counts a decoded feed frame (ticker, positions, pong, event).
func (m *Metrics) RecordFeedMessage(kind string) {
	m.feedMessages.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetBusy(v bool)          { m.busy.Set(boolGauge(v)) }
func (m *Metrics) SetEmergency(v bool)     { m.emergency.Set(boolGauge(v)) }
func (m *Metrics) SetCooldown(v bool)      { m.cooldown.Set(boolGauge(v)) }
func (m *Metrics) SetFeedConnected(v bool) { m.feedConnected.Set(boolGauge(v)) }

// SetQuotePrice publishes the reference price; zero clears it.
func (m *Metrics) SetQuotePrice(p decimal.Decimal) {
	m.quotePrice.Set(p.InexactFloat64())
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

// MetricsSnapshot is a point-in-time view of the counters.
type MetricsSnapshot struct {
	Cycles          uint64    `json:"cycles"`
	EmergencyCloses uint64    `json:"emergency_closes"`
	Unconfirmed     uint64    `json:"unconfirmed_orders"`
	FeedReconnects  uint64    `json:"feed_reconnects"`
	Timestamp       time.Time `json:"timestamp"`
}

// Snapshot returns current counters as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Cycles:          m.cyclesTotal.Load(),
		EmergencyCloses: m.closesTotal.Load(),
		Unconfirmed:     m.unconfirmedSeen.Load(),
		FeedReconnects:  m.reconnectsTotal.Load(),
		Timestamp:       time.Now(),
	}
}
