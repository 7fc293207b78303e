package task

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTopologicalBatches_LinearChain(t *testing.T) {
	plan, err := NewPlan([]Task{
		{ID: "t1"},
		{ID: "t2", DependsOn: []string{"t1"}},
		{ID: "t3", DependsOn: []string{"t2"}},
	})
	require.NoError(t, err)

	batches, err := TopologicalBatches(plan)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"t1"}, {"t2"}, {"t3"}}, batches)
}

func TestTopologicalBatches_FanOutThenJoin(t *testing.T) {
	plan, err := NewPlan([]Task{
		{ID: "t0"},
		{ID: "t1", DependsOn: []string{"t0"}},
		{ID: "t2", DependsOn: []string{"t0"}},
		{ID: "t3", DependsOn: []string{"t0"}},
		{ID: "t4", DependsOn: []string{"t1", "t2", "t3"}},
	})
	require.NoError(t, err)

	batches, err := TopologicalBatches(plan)
	require.NoError(t, err)
	require.Len(t, batches, 3)
	require.Equal(t, []string{"t0"}, batches[0])
	require.ElementsMatch(t, []string{"t1", "t2", "t3"}, batches[1])
	require.Equal(t, []string{"t4"}, batches[2])
}

func TestNewPlan_CycleRejected(t *testing.T) {
	_, err := NewPlan([]Task{
		{ID: "t1", DependsOn: []string{"t3"}},
		{ID: "t2", DependsOn: []string{"t1"}},
		{ID: "t3", DependsOn: []string{"t2"}},
	})
	require.Error(t, err)
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
}

func TestNewPlan_UnknownDependency(t *testing.T) {
	_, err := NewPlan([]Task{
		{ID: "t1", DependsOn: []string{"missing"}},
	})
	require.Error(t, err)
}

func TestNewPlan_DuplicateID(t *testing.T) {
	_, err := NewPlan([]Task{
		{ID: "t1"},
		{ID: "t1"},
	})
	require.Error(t, err)
}

func TestTopologicalBatches_EmptyPlan(t *testing.T) {
	plan, err := NewPlan(nil)
	require.NoError(t, err)

	batches, err := TopologicalBatches(plan)
	require.NoError(t, err)
	require.Empty(t, batches)
}

func TestTopologicalBatches_SingleTask(t *testing.T) {
	plan, err := NewPlan([]Task{{ID: "only"}})
	require.NoError(t, err)

	batches, err := TopologicalBatches(plan)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"only"}}, batches)
}

func TestTopologicalBatches_PriorityOrdersWithinBatch(t *testing.T) {
	plan, err := NewPlan([]Task{
		{ID: "low", Priority: 5},
		{ID: "high", Priority: 1},
		{ID: "mid", Priority: 3},
	})
	require.NoError(t, err)

	batches, err := TopologicalBatches(plan)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"high", "mid", "low"}}, batches)
}
