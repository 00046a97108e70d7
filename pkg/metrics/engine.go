package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics records poller and cart activity.
type EngineMetrics struct {
	pollTicks    *prometheus.CounterVec
	pollFailures *prometheus.CounterVec
	pollLatency  *prometheus.HistogramVec
	cartOps      *prometheus.CounterVec
}

// NewEngineMetrics registers the engine metrics on the provided registerer.
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	if reg == nil {
		return &EngineMetrics{}
	}
	pollTicks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "poll_ticks_total",
		Help: "Poll ticks executed, by poller.",
	}, []string{"poller"})
	pollFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "poll_failures_total",
		Help: "Poll ticks whose remote read failed, by poller.",
	}, []string{"poller"})
	pollLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "poll_latency_seconds",
		Help:    "Duration of a single poll tick in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"poller"})
	cartOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_operations_total",
		Help: "Cart mutations by operation and outcome.",
	}, []string{"operation", "outcome"})
	reg.MustRegister(pollTicks, pollFailures, pollLatency, cartOps)
	return &EngineMetrics{
		pollTicks:    pollTicks,
		pollFailures: pollFailures,
		pollLatency:  pollLatency,
		cartOps:      cartOps,
	}
}

// IncPollTick counts one executed tick for the named poller.
func (m *EngineMetrics) IncPollTick(poller string) {
	if m == nil || m.pollTicks == nil {
		return
	}
	m.pollTicks.WithLabelValues(normalizeLabel(poller)).Inc()
}

// IncPollFailure counts one failed remote read for the named poller.
func (m *EngineMetrics) IncPollFailure(poller string) {
	if m == nil || m.pollFailures == nil {
		return
	}
	m.pollFailures.WithLabelValues(normalizeLabel(poller)).Inc()
}

// ObservePollLatency records how long a tick took.
func (m *EngineMetrics) ObservePollLatency(poller string, d time.Duration) {
	if m == nil || m.pollLatency == nil {
		return
	}
	m.pollLatency.WithLabelValues(normalizeLabel(poller)).Observe(d.Seconds())
}

// IncCartOp counts one cart mutation with its outcome ("ok" or "error").
func (m *EngineMetrics) IncCartOp(operation, outcome string) {
	if m == nil || m.cartOps == nil {
		return
	}
	m.cartOps.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return "unknown"
	}
	return strings.ReplaceAll(value, " ", "_")
}
