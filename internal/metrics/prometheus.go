package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arloliu/reconf/types"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
//
// Collectors are created and registered lazily on first use, so constructing a
// collector that is never used leaves the registry untouched.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	stateTransitions  *prometheus.CounterVec
	stateDuration     *prometheus.HistogramVec
	leadershipChanges *prometheus.CounterVec
	currentTerm       prometheus.Gauge
	isLeader          prometheus.Gauge

	reconfigurations *prometheus.CounterVec
	reconfigLatency  *prometheus.HistogramVec
	phaseLatency     *prometheus.HistogramVec
	rejectedRequests *prometheus.CounterVec
	operatorParallel *prometheus.GaugeVec
}

// Compile-time assertion that PrometheusCollector implements MetricsCollector.
var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer interface (uses prometheus.DefaultRegisterer if nil)
//   - namespace: Prometheus metrics namespace (defaults to "reconf" if empty)
//
// Returns:
//   - *PrometheusCollector: A MetricsCollector implementation using Prometheus
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "reconf"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "manager",
			Name:      "state_transitions_total",
			Help:      "Total lifecycle state transitions by source and target state.",
		}, []string{"from", "to"})

		p.stateDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "manager",
			Name:      "state_duration_seconds",
			Help:      "Time spent in a lifecycle state before leaving it.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"state"})

		p.leadershipChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "manager",
			Name:      "leadership_changes_total",
			Help:      "Total leadership grants and revocations.",
		}, []string{"event"})

		p.currentTerm = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "manager",
			Name:      "term",
			Help:      "Most recent leadership term granted to this node.",
		})

		p.isLeader = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "manager",
			Name:      "is_leader",
			Help:      "1 while this node holds leadership, 0 otherwise.",
		})

		p.reconfigurations = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "coordinator",
			Name:      "reconfigurations_total",
			Help:      "Total finished reconfigurations by kind and result.",
		}, []string{"kind", "result"})

		p.reconfigLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "coordinator",
			Name:      "reconfiguration_duration_seconds",
			Help:      "End-to-end reconfiguration latency by kind.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"kind"})

		p.phaseLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "coordinator",
			Name:      "phase_duration_seconds",
			Help:      "Protocol phase latency by phase and result.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"phase", "result"})

		p.rejectedRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "coordinator",
			Name:      "rejected_requests_total",
			Help:      "Total reconfiguration requests rejected before any phase ran.",
		}, []string{"kind", "reason"})

		p.operatorParallel = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "coordinator",
			Name:      "operator_parallelism",
			Help:      "Committed parallelism per operator.",
		}, []string{"operator_id"})

		p.reg.MustRegister(
			p.stateTransitions,
			p.stateDuration,
			p.leadershipChanges,
			p.currentTerm,
			p.isLeader,
			p.reconfigurations,
			p.reconfigLatency,
			p.phaseLatency,
			p.rejectedRequests,
			p.operatorParallel,
		)
	})
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}

	return "failure"
}

// RecordStateTransition increments the transition counter and observes the time spent in from.
func (p *PrometheusCollector) RecordStateTransition(from, to types.State, duration float64) {
	p.ensureRegistered()
	p.stateTransitions.WithLabelValues(from.String(), to.String()).Inc()
	p.stateDuration.WithLabelValues(from.String()).Observe(duration)
}

// RecordLeadershipChange records a grant or revocation.
func (p *PrometheusCollector) RecordLeadershipChange(term types.Term, leader bool) {
	p.ensureRegistered()
	if leader {
		p.leadershipChanges.WithLabelValues("granted").Inc()
		p.currentTerm.Set(float64(term))
		p.isLeader.Set(1)

		return
	}

	p.leadershipChanges.WithLabelValues("revoked").Inc()
	p.isLeader.Set(0)
}

// RecordReconfiguration records a finished reconfiguration.
func (p *PrometheusCollector) RecordReconfiguration(kind string, success bool, duration float64) {
	p.ensureRegistered()
	p.reconfigurations.WithLabelValues(kind, resultLabel(success)).Inc()
	p.reconfigLatency.WithLabelValues(kind).Observe(duration)
}

// RecordPhaseDuration observes one protocol phase.
func (p *PrometheusCollector) RecordPhaseDuration(phase string, success bool, duration float64) {
	p.ensureRegistered()
	p.phaseLatency.WithLabelValues(phase, resultLabel(success)).Observe(duration)
}

// RecordRejectedRequest counts a rejected request.
func (p *PrometheusCollector) RecordRejectedRequest(kind, reason string) {
	p.ensureRegistered()
	p.rejectedRequests.WithLabelValues(kind, reason).Inc()
}

// RecordOperatorParallelism sets the committed parallelism of an operator.
func (p *PrometheusCollector) RecordOperatorParallelism(operatorID int, parallelism int) {
	p.ensureRegistered()
	p.operatorParallel.WithLabelValues(strconv.Itoa(operatorID)).Set(float64(parallelism))
}
