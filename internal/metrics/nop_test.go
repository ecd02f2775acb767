package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/reconf/types"
)

func TestNopMetrics(t *testing.T) {
	metrics := NewNop()
	require.IsType(t, &NopMetrics{}, metrics)

	// Should not panic with any input
	require.NotPanics(t, func() {
		metrics.RecordStateTransition(types.StateStopped, types.StateRunning, 1.5)
		metrics.RecordStateTransition(types.State(999), types.State(1000), -1.0)
		metrics.RecordLeadershipChange(7, true)
		metrics.RecordReconfiguration("rescale", true, 0.2)
		metrics.RecordPhaseDuration("prepare", false, 0.01)
		metrics.RecordRejectedRequest("rebalance", "in_progress")
		metrics.RecordOperatorParallelism(3, 4)
	})
}
