package planstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/reconf/coordinator"
	"github.com/arloliu/reconf/plan"
	reconftest "github.com/arloliu/reconf/testing"
	"github.com/arloliu/reconf/types"
)

var (
	_ coordinator.PlanStore = (*KV)(nil)
	_ coordinator.PlanStore = (*Bolt)(nil)
)

func snapshot(t *testing.T, term types.Term, version uint64) *plan.Snapshot {
	t.Helper()

	p, err := plan.New(32)
	require.NoError(t, err)
	require.NoError(t, p.RegisterOperator(plan.OperatorSpec{ID: 1, Name: "source", Parallelism: 1}))
	require.NoError(t, p.RegisterOperator(plan.OperatorSpec{
		ID:          2,
		Name:        "counter",
		Parallelism: 3,
		Stateful:    true,
		Logic:       plan.NewLogic(map[string]plan.Attribute{plan.AttrUDF: plan.StringAttr("count-v1")}),
	}))
	require.NoError(t, p.AddChildren(1, plan.Edge{Source: 1, Target: 2}))
	for range version {
		p.Commit()
	}

	snap := p.Snapshot()
	snap.Term = term

	return snap
}

func stores(t *testing.T) map[string]coordinator.PlanStore {
	t.Helper()

	_, nc := reconftest.StartEmbeddedNATS(t)
	bucket := reconftest.CreateJetStreamKV(t, nc, "reconf-plan", 0)

	boltStore, err := OpenBolt(filepath.Join(t.TempDir(), "plan.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = boltStore.Close() })

	return map[string]coordinator.PlanStore{
		"kv":   NewKV(bucket, ""),
		"bolt": boltStore,
	}
}

func TestPlanStore(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()

			_, err := store.Load(ctx)
			require.ErrorIs(t, err, types.ErrSnapshotNotFound)

			first := snapshot(t, 2, 1)
			require.NoError(t, store.Save(ctx, first))

			loaded, err := store.Load(ctx)
			require.NoError(t, err)
			require.Empty(t, cmp.Diff(first, loaded, cmpopts.EquateEmpty()))

			// Older version of the same term is ignored.
			require.NoError(t, store.Save(ctx, snapshot(t, 2, 0)))
			loaded, err = store.Load(ctx)
			require.NoError(t, err)
			require.Equal(t, uint64(1), loaded.Version)

			// Same version overwrites, e.g. when the plan turned provisional.
			provisional := snapshot(t, 2, 1)
			provisional.Provisional = true
			provisional.FailureCause = "update_key_state failed"
			require.NoError(t, store.Save(ctx, provisional))
			loaded, err = store.Load(ctx)
			require.NoError(t, err)
			require.True(t, loaded.Provisional)

			// Lower term is fenced.
			err = store.Save(ctx, snapshot(t, 1, 5))
			require.ErrorIs(t, err, types.ErrStaleTerm)

			// Higher term wins even with a lower version.
			next := snapshot(t, 3, 0)
			require.NoError(t, store.Save(ctx, next))
			loaded, err = store.Load(ctx)
			require.NoError(t, err)
			require.Equal(t, types.Term(3), loaded.Term)
			require.Zero(t, loaded.Version)

			restored, err := plan.FromSnapshot(loaded)
			require.NoError(t, err)
			require.NoError(t, restored.Validate())
		})
	}
}

func TestBolt_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.db")

	store, err := OpenBolt(path, "job-a")
	require.NoError(t, err)
	require.NoError(t, store.Save(t.Context(), snapshot(t, 1, 4)))
	require.NoError(t, store.Close())

	store, err = OpenBolt(path, "job-a")
	require.NoError(t, err)

	loaded, err := store.Load(t.Context())
	require.NoError(t, err)
	require.Equal(t, uint64(4), loaded.Version)

	other, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, loaded.Version, other.Version)

	require.NoError(t, store.Delete())
	_, err = OpenBolt(filepath.Join(t.TempDir(), "missing", "plan.db"), "")
	require.Error(t, err)
}

func TestBolt_CancelledContext(t *testing.T) {
	store, err := OpenBolt(filepath.Join(t.TempDir(), "plan.db"), "")
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.True(t, errors.Is(store.Save(ctx, snapshot(t, 1, 1)), context.Canceled))
	_, err = store.Load(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
