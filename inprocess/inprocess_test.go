package inprocess

import (
	"sync"
	"testing"

	"github.com/gomlx/collectives"
	"github.com/gomlx/collectives/streamexec"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

// TestGroupedExchange runs a dense all-to-all over 3 ranks: rank r sends the
// value 100*r+p to every peer p, so after the bracket rank p holds
// [100*0+p, 100*1+p, 100*2+p].
func TestGroupedExchange(t *testing.T) {
	const numRanks = 3
	key := collectives.NewCliqueKey([]int{0, 1, 2})
	comms := NewClique(key)

	executors := make([]*streamexec.Executor, numRanks)
	streams := make([]*streamexec.Stream, numRanks)
	sendBufs := make([]streamexec.DeviceMemory, numRanks)
	recvBufs := make([]streamexec.DeviceMemory, numRanks)
	for r := 0; r < numRanks; r++ {
		executors[r] = streamexec.NewExecutor(r)
		defer executors[r].Finalize()
		streams[r] = executors[r].NewStream()
		sendBufs[r] = executors[r].Allocate(numRanks * int64(dtypes.Int32.Size()))
		recvBufs[r] = executors[r].Allocate(numRanks * int64(dtypes.Int32.Size()))
		sendView := streamexec.View[int32](sendBufs[r].Bytes())
		for p := 0; p < numRanks; p++ {
			sendView[p] = int32(100*r + p)
		}
	}

	errs := make([]error, numRanks)
	var wg sync.WaitGroup
	for r := 0; r < numRanks; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			errs[r] = func() error {
				comm := comms[r]
				if err := comm.GroupStart(); err != nil {
					return err
				}
				for p := 0; p < numRanks; p++ {
					sendSlice := sendBufs[r].Slice(dtypes.Int32, int64(p), 1)
					recvSlice := recvBufs[r].Slice(dtypes.Int32, int64(p), 1)
					if err := comm.Send(sendSlice, dtypes.Int32, 1, p, streams[r]); err != nil {
						return err
					}
					if err := comm.Recv(recvSlice, dtypes.Int32, 1, p, streams[r]); err != nil {
						return err
					}
				}
				if err := comm.GroupEnd(); err != nil {
					return err
				}
				return streams[r].BlockHostUntilDone()
			}()
		}(r)
	}
	wg.Wait()

	for r := 0; r < numRanks; r++ {
		require.NoError(t, errs[r], "rank %d", r)
		recvView := streamexec.View[int32](recvBufs[r].Bytes())
		for p := 0; p < numRanks; p++ {
			require.Equal(t, int32(100*p+r), recvView[p], "rank %d, from peer %d", r, p)
		}
	}
}

func TestSequentialBracketsReuseTheClique(t *testing.T) {
	const numRanks = 2
	key := collectives.NewCliqueKey([]int{0, 1})
	comms := NewClique(key)

	executors := make([]*streamexec.Executor, numRanks)
	streams := make([]*streamexec.Stream, numRanks)
	bufs := make([]streamexec.DeviceMemory, numRanks)
	for r := 0; r < numRanks; r++ {
		executors[r] = streamexec.NewExecutor(r)
		defer executors[r].Finalize()
		streams[r] = executors[r].NewStream()
		bufs[r] = executors[r].Allocate(2 * int64(dtypes.Int64.Size()))
	}

	for round := 0; round < 5; round++ {
		var wg sync.WaitGroup
		errs := make([]error, numRanks)
		for r := 0; r < numRanks; r++ {
			wg.Add(1)
			go func(r int) {
				defer wg.Done()
				peer := 1 - r
				view := streamexec.View[int64](bufs[r].Bytes())
				view[0] = int64(10*round + r)
				errs[r] = func() error {
					comm := comms[r]
					if err := comm.GroupStart(); err != nil {
						return err
					}
					if err := comm.Send(bufs[r].Slice(dtypes.Int64, 0, 1), dtypes.Int64, 1, peer, streams[r]); err != nil {
						return err
					}
					if err := comm.Recv(bufs[r].Slice(dtypes.Int64, 1, 1), dtypes.Int64, 1, peer, streams[r]); err != nil {
						return err
					}
					if err := comm.GroupEnd(); err != nil {
						return err
					}
					return streams[r].BlockHostUntilDone()
				}()
			}(r)
		}
		wg.Wait()
		for r := 0; r < numRanks; r++ {
			require.NoError(t, errs[r], "round %d, rank %d", round, r)
			view := streamexec.View[int64](bufs[r].Bytes())
			require.Equal(t, int64(10*round+(1-r)), view[1], "round %d, rank %d", round, r)
		}
	}
}

func TestBracketValidation(t *testing.T) {
	key := collectives.NewCliqueKey([]int{0, 1})
	comms := NewClique(key)
	executor := streamexec.NewExecutor(0)
	defer executor.Finalize()
	stream := executor.NewStream()
	buf := executor.Allocate(8)

	comm := comms[0]
	numRanks, err := comm.NumRanks()
	require.NoError(t, err)
	require.Equal(t, 2, numRanks)
	require.Equal(t, 0, comm.Rank())

	require.Error(t, comm.Send(buf, dtypes.Int64, 1, 1, stream), "send outside a bracket")
	require.Error(t, comm.GroupEnd(), "GroupEnd without GroupStart")

	require.NoError(t, comm.GroupStart())
	require.Error(t, comm.GroupStart(), "nested GroupStart")
	require.Error(t, comm.Send(buf, dtypes.Int64, 1, 7, stream), "peer out of range")
}
