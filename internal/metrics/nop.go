// Package metrics provides MetricsCollector implementations.
package metrics

import "github.com/arloliu/reconf/types"

// NopMetrics implements a no-op metrics collector.
//
// All metrics are discarded. Useful for testing or when external
// metrics collection is used.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
//
// Example:
//
//	mgr, _ := reconf.NewManager(&cfg, conn, factory, reconf.WithMetrics(metrics.NewNop()))
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// ManagerMetrics implementation

// RecordStateTransition discards the state transition metric.
func (n *NopMetrics) RecordStateTransition(_, _ types.State, _ float64) {}

// RecordLeadershipChange discards the leadership change metric.
func (n *NopMetrics) RecordLeadershipChange(_ types.Term, _ bool) {}

// CoordinatorMetrics implementation

// RecordReconfiguration discards the reconfiguration metric.
func (n *NopMetrics) RecordReconfiguration(_ string, _ bool, _ float64) {}

// RecordPhaseDuration discards the phase latency metric.
func (n *NopMetrics) RecordPhaseDuration(_ string, _ bool, _ float64) {}

// RecordRejectedRequest discards the rejection metric.
func (n *NopMetrics) RecordRejectedRequest(_, _ string) {}

// RecordOperatorParallelism discards the parallelism gauge.
func (n *NopMetrics) RecordOperatorParallelism(_ int, _ int) {}
