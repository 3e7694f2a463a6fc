package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/shardmgr-go/core/mailbox"
)

// mailboxMetrics implements mailbox.MailboxMetrics using Prometheus.
type mailboxMetrics struct {
	requestsTotal   *prometheus.CounterVec
	repliesTotal    *prometheus.CounterVec
	malformedTotal  prometheus.Counter
	handlersActive  prometheus.Gauge
	unprocessedSize prometheus.Histogram
}

// NewMailboxMetrics creates a new Prometheus implementation of
// mailbox.MailboxMetrics.
func NewMailboxMetrics(reg prometheus.Registerer) mailbox.MailboxMetrics {
	m := &mailboxMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shardmgr_mailbox_requests_total",
			Help: "Total number of saved requests",
		}, []string{"duplicate"}),

		repliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shardmgr_mailbox_replies_total",
			Help: "Total number of saved replies",
		}, []string{"terminal"}),

		malformedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shardmgr_mailbox_malformed_total",
			Help: "Total number of stored payloads that no longer decode",
		}),

		handlersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shardmgr_mailbox_handlers_active",
			Help: "Number of pending reply handlers",
		}),

		unprocessedSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shardmgr_mailbox_unprocessed_batch_size",
			Help:    "Envelopes returned per unprocessed-messages poll",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}

	reg.MustRegister(
		m.requestsTotal,
		m.repliesTotal,
		m.malformedTotal,
		m.handlersActive,
		m.unprocessedSize,
	)

	return m
}

func (m *mailboxMetrics) RequestSaved(duplicate bool) {
	m.requestsTotal.WithLabelValues(boolToStr(duplicate)).Inc()
}

func (m *mailboxMetrics) ReplySaved(terminal bool) {
	m.repliesTotal.WithLabelValues(boolToStr(terminal)).Inc()
}

func (m *mailboxMetrics) MalformedMessage() {
	m.malformedTotal.Inc()
}

func (m *mailboxMetrics) HandlersActive(count int) {
	m.handlersActive.Set(float64(count))
}

func (m *mailboxMetrics) UnprocessedBatch(count int) {
	m.unprocessedSize.Observe(float64(count))
}
