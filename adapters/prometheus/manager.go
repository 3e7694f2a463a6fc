package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/shardmgr-go/core/manager"
	"github.com/codewandler/shardmgr-go/core/metrics"
)

// managerMetrics implements manager.ManagerMetrics using Prometheus.
type managerMetrics struct {
	podCount           prometheus.Gauge
	unassignedShards   prometheus.Gauge
	rebalanceDuration  prometheus.Histogram
	rebalancesTotal    *prometheus.CounterVec
	pingFailuresTotal  prometheus.Counter
	persistExhausted   *prometheus.CounterVec
	eventsDroppedTotal prometheus.Counter
}

// NewManagerMetrics creates a new Prometheus implementation of
// manager.ManagerMetrics.
func NewManagerMetrics(reg prometheus.Registerer) manager.ManagerMetrics {
	m := &managerMetrics{
		podCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shardmgr_pods",
			Help: "Number of registered pods",
		}),

		unassignedShards: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shardmgr_shards_unassigned",
			Help: "Number of shards without an owner",
		}),

		rebalanceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shardmgr_rebalance_duration_seconds",
			Help:    "Duration of one rebalance pass in seconds",
			Buckets: defaultBuckets,
		}),

		rebalancesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shardmgr_rebalances_total",
			Help: "Total number of completed rebalance passes",
		}, []string{"immediate", "success"}),

		pingFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shardmgr_ping_failures_total",
			Help: "Total number of failed pod readiness pings",
		}),

		persistExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shardmgr_persist_exhausted_total",
			Help: "Total number of state writes that ran out of retries",
		}, []string{"what"}),

		eventsDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shardmgr_events_dropped_total",
			Help: "Total number of events dropped for slow subscribers",
		}),
	}

	reg.MustRegister(
		m.podCount,
		m.unassignedShards,
		m.rebalanceDuration,
		m.rebalancesTotal,
		m.pingFailuresTotal,
		m.persistExhausted,
		m.eventsDroppedTotal,
	)

	return m
}

func (m *managerMetrics) PodCount(count int) {
	m.podCount.Set(float64(count))
}

func (m *managerMetrics) UnassignedShards(count int) {
	m.unassignedShards.Set(float64(count))
}

func (m *managerMetrics) RebalanceDuration() metrics.Timer {
	return newTimer(m.rebalanceDuration)
}

func (m *managerMetrics) RebalanceCompleted(immediate bool, success bool) {
	m.rebalancesTotal.WithLabelValues(boolToStr(immediate), boolToStr(success)).Inc()
}

func (m *managerMetrics) PingFailed() {
	m.pingFailuresTotal.Inc()
}

func (m *managerMetrics) PersistExhausted(what string) {
	m.persistExhausted.WithLabelValues(what).Inc()
}

func (m *managerMetrics) EventDropped() {
	m.eventsDroppedTotal.Inc()
}
