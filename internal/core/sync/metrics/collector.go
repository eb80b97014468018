// Package metrics exports engine activity to prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zeusync/crdtsync/internal/core/delta"
	"github.com/zeusync/crdtsync/internal/core/events/bus"
	"github.com/zeusync/crdtsync/internal/core/sync"
)

const namespace = "crdtsync"

var (
	_ sync.MetricsCollector = (*Collector)(nil)
	_ bus.EventBusObserver  = (*Collector)(nil)
)

// Collector registers every engine metric on its own registry.
type Collector struct {
	registry *prometheus.Registry

	deltas       *prometheus.CounterVec
	mutations    *prometheus.CounterVec
	conflicts    *prometheus.CounterVec
	cycles       *prometheus.CounterVec
	cycleSeconds *prometheus.HistogramVec
	fullStates   *prometheus.CounterVec
	sessions     *prometheus.GaugeVec
	missed       prometheus.Counter
	violations   prometheus.Counter
	retries      *prometheus.CounterVec
	events       *prometheus.CounterVec
	handlerErrs  prometheus.Counter
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Collector{
		registry: reg,
		deltas: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deltas_received_total",
			Help:      "Remote deltas by collection and verdict (apply, duplicate, buffered).",
		}, []string{"collection", "verdict"}),
		mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "local_mutations_total",
			Help:      "Local writes by collection.",
		}, []string{"collection"}),
		conflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_total",
			Help:      "Concurrent writes by collection, strategy and outcome.",
		}, []string{"collection", "strategy", "outcome"}),
		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_cycles_total",
			Help:      "Sync cycles by collection and result.",
		}, []string{"collection", "result"}),
		cycleSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_cycle_duration_seconds",
			Help:      "Duration of sync cycles.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"collection"}),
		fullStates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "full_state_transfers_total",
			Help:      "Full state transfers by collection and direction.",
		}, []string{"collection", "direction"}),
		sessions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Peer sessions by protocol state.",
		}, []string{"state"}),
		missed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_missed_total",
			Help:      "Heartbeat intervals without any message from the peer.",
		}),
		violations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_violations_total",
			Help:      "Dropped malformed messages.",
		}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_retries_total",
			Help:      "Retried storage operations.",
		}, []string{"op"}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Bus events by type.",
		}, []string{"type"}),
		handlerErrs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_handler_errors_total",
			Help:      "Publishes where at least one handler failed.",
		}),
	}
}

// Registry is what the /metrics handler serves.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) DeltaReceived(collection string, verdict delta.Verdict) {
	c.deltas.WithLabelValues(collection, verdict.String()).Inc()
}

func (c *Collector) LocalMutation(collection string) {
	c.mutations.WithLabelValues(collection).Inc()
}

func (c *Collector) Conflict(collection, strategy, outcome string) {
	c.conflicts.WithLabelValues(collection, strategy, outcome).Inc()
}

func (c *Collector) SyncCycle(collection string, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.cycles.WithLabelValues(collection, result).Inc()
	c.cycleSeconds.WithLabelValues(collection).Observe(elapsed.Seconds())
}

func (c *Collector) FullStateTransfer(collection, direction string) {
	c.fullStates.WithLabelValues(collection, direction).Inc()
}

// SessionState moves one session between state gauges. Disconnected is not
// tracked since finished sessions would pile up there.
func (c *Collector) SessionState(from, to sync.State) {
	if from != sync.Disconnected {
		c.sessions.WithLabelValues(from.String()).Dec()
	}
	if to != sync.Disconnected {
		c.sessions.WithLabelValues(to.String()).Inc()
	}
}

func (c *Collector) HeartbeatMissed()   { c.missed.Inc() }
func (c *Collector) ProtocolViolation() { c.violations.Inc() }

func (c *Collector) StorageRetry(op string) {
	c.retries.WithLabelValues(op).Inc()
}

func (c *Collector) OnPublish(_, eventType string, _ bus.Event) {
	c.events.WithLabelValues(eventType).Inc()
}

func (c *Collector) OnDelivered(_, _ string, _ int, err error, _ time.Duration) {
	if err != nil {
		c.handlerErrs.Inc()
	}
}
