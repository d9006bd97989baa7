package ragged

import (
	"sync"
	"testing"

	"github.com/gomlx/collectives"
	"github.com/gomlx/collectives/inprocess"
	"github.com/gomlx/collectives/streamexec"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

func TestOffsetResolutionSingleRankIsIdentity(t *testing.T) {
	executor := streamexec.NewExecutor(0)
	defer executor.Finalize()
	stream := executor.NewStream()
	comm := inprocess.NewClique(collectives.NewCliqueKey([]int{0}))[0]

	const numUpdates = 4
	src := executor.Allocate(numUpdates * int64(dtypes.Int64.Size()))
	dst := executor.Allocate(numUpdates * int64(dtypes.Int64.Size()))
	copy(streamexec.View[int64](src.Bytes()), []int64{3, 1, 2, 0})

	require.NoError(t, runAllToAllOnIndexBuffer(src, dst, dtypes.Int64, numUpdates, stream, comm))
	require.Equal(t, []int64{3, 1, 2, 0}, streamexec.View[int64](dst.Bytes()))
}

// TestOffsetResolutionConvertsFrames checks the core conversion: after the
// exchange, rank r's block for peer p holds the values peer p had in its
// block for r. Producer-frame offsets become consumer-frame offsets.
func TestOffsetResolutionConvertsFrames(t *testing.T) {
	const numRanks = 2
	const updatesPerRank = 2
	comms := inprocess.NewClique(collectives.NewCliqueKey([]int{0, 1}))

	raw := [][]int64{
		{10, 11, 12, 13}, // rank 0: block for peer 0, then block for peer 1
		{20, 21, 22, 23}, // rank 1
	}
	want := [][]int64{
		{10, 11, 20, 21},
		{12, 13, 22, 23},
	}

	executors := make([]*streamexec.Executor, numRanks)
	dsts := make([]streamexec.DeviceMemory, numRanks)
	errs := make([]error, numRanks)
	var wg sync.WaitGroup
	for r := 0; r < numRanks; r++ {
		executors[r] = streamexec.NewExecutor(r)
		defer executors[r].Finalize()
	}
	for r := 0; r < numRanks; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			stream := executors[r].NewStream()
			src := executors[r].Allocate(int64(len(raw[r])) * int64(dtypes.Int64.Size()))
			dsts[r] = executors[r].Allocate(int64(src.Size()))
			copy(streamexec.View[int64](src.Bytes()), raw[r])
			errs[r] = runAllToAllOnIndexBuffer(src, dsts[r], dtypes.Int64, updatesPerRank, stream, comms[r])
		}(r)
	}
	wg.Wait()

	for r := 0; r < numRanks; r++ {
		require.NoError(t, errs[r], "rank %d", r)
		require.Equal(t, want[r], streamexec.View[int64](dsts[r].Bytes()), "rank %d", r)
	}
}
