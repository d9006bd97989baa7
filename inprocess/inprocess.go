// Package inprocess implements collectives.Communicator for devices living in
// one process.
//
// Each grouped bracket is realized inside the participating streams with two
// rendezvous rounds: every rank publishes a manifest of its queued sends and
// receives, pushes its outgoing data directly into the matching receive
// buffers of its peers, and a final barrier holds every rank in the bracket
// until all pushes have landed. The double-rendezvous discipline means no rank
// ever reads a receive buffer, or reuses a send buffer, while a peer is still
// copying.
package inprocess

import (
	"fmt"
	"sort"

	"github.com/gomlx/collectives"
	"github.com/gomlx/collectives/rendezvous"
	"github.com/gomlx/collectives/streamexec"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// fabric is the state shared by all communicators of one clique.
type fabric struct {
	key      collectives.CliqueKey
	numRanks int
}

// Communicator is one rank's endpoint. It is driven by a single host thread
// at a time; brackets on different communicators of the same clique run
// concurrently, one per device thread.
type Communicator struct {
	fab  *fabric
	rank int

	// seq counts closed brackets. All ranks of a clique execute the same
	// bracket sequence, so equal seq values on different ranks name the same
	// logical exchange.
	seq   int
	group *pendingGroup
}

type pendingGroup struct {
	stream *streamexec.Stream
	sends  []transfer
	recvs  []transfer
}

type transfer struct {
	peer int
	mem  streamexec.DeviceMemory
}

// manifest is the per-rank value exchanged at a bracket's first rendezvous.
type manifest struct {
	rank  int
	sends []transfer // in enqueue order
	recvs []transfer // in enqueue order
}

// NewClique creates the communicators of one clique, indexed by rank.
func NewClique(key collectives.CliqueKey) []*Communicator {
	fab := &fabric{key: key, numRanks: key.NumDevices()}
	comms := make([]*Communicator, fab.numRanks)
	for rank := range comms {
		comms[rank] = &Communicator{fab: fab, rank: rank}
	}
	return comms
}

// Rank returns this communicator's rank within the clique.
func (c *Communicator) Rank() int { return c.rank }

// NumRanks implements collectives.Communicator.
func (c *Communicator) NumRanks() (int, error) { return c.fab.numRanks, nil }

// GroupStart implements collectives.Communicator.
func (c *Communicator) GroupStart() error {
	if c.group != nil {
		return errors.Errorf("rank %d: GroupStart inside an already open bracket", c.rank)
	}
	c.group = &pendingGroup{}
	return nil
}

func (c *Communicator) queueTransfer(buf streamexec.DeviceMemory, dtype dtypes.DType, count int64, peer int, stream *streamexec.Stream) (transfer, error) {
	if c.group == nil {
		return transfer{}, errors.Errorf("rank %d: point-to-point operation outside a GroupStart/GroupEnd bracket", c.rank)
	}
	if peer < 0 || peer >= c.fab.numRanks {
		return transfer{}, errors.Errorf("rank %d: peer %d out of range, clique has %d ranks", c.rank, peer, c.fab.numRanks)
	}
	if c.group.stream == nil {
		c.group.stream = stream
	} else if c.group.stream != stream {
		return transfer{}, errors.Errorf("rank %d: a bracket must use a single stream", c.rank)
	}
	return transfer{peer: peer, mem: buf.Slice(dtype, 0, count)}, nil
}

// Send implements collectives.Communicator.
func (c *Communicator) Send(buf streamexec.DeviceMemory, dtype dtypes.DType, count int64, peer int, stream *streamexec.Stream) error {
	t, err := c.queueTransfer(buf, dtype, count, peer, stream)
	if err != nil {
		return err
	}
	c.group.sends = append(c.group.sends, t)
	return nil
}

// Recv implements collectives.Communicator.
func (c *Communicator) Recv(buf streamexec.DeviceMemory, dtype dtypes.DType, count int64, peer int, stream *streamexec.Stream) error {
	t, err := c.queueTransfer(buf, dtype, count, peer, stream)
	if err != nil {
		return err
	}
	c.group.recvs = append(c.group.recvs, t)
	return nil
}

// GroupEnd implements collectives.Communicator. The exchange itself runs on
// the bracket's stream; an all-empty bracket still participates in the
// rendezvous, from the calling goroutine.
func (c *Communicator) GroupEnd() error {
	group := c.group
	if group == nil {
		return errors.Errorf("rank %d: GroupEnd without a matching GroupStart", c.rank)
	}
	c.group = nil
	c.seq++
	exchange := c.exchangeFn(group, c.seq)
	if group.stream == nil {
		return exchange()
	}
	return group.stream.DoHostCallback(exchange)
}

func (c *Communicator) exchangeFn(group *pendingGroup, seq int) func() error {
	fab := c.fab
	local := manifest{rank: c.rank, sends: group.sends, recvs: group.recvs}
	return func() error {
		name := fmt.Sprintf("exchange step %d", seq)
		scope := fab.key.String()
		manifests := rendezvous.Rendezvous(name, scope, local, fab.numRanks, sortManifests)

		err := c.runCopies(manifests)
		// Reach the closing barrier even on failure, otherwise the error on
		// this rank turns into a stall on every peer.
		rendezvous.Barrier(name+" done", scope, fab.numRanks)
		return err
	}
}

// runCopies pushes this rank's sends into the matching receive buffers
// published by its peers. The k-th send from rank a to rank b pairs with the
// k-th receive from a queued by b.
func (c *Communicator) runCopies(manifests []manifest) error {
	mine := manifests[c.rank]
	sent := make([]int, c.fab.numRanks) // per-peer count of my sends already matched
	for _, send := range mine.sends {
		recv, ok := nthTransferFrom(manifests[send.peer].recvs, c.rank, sent[send.peer])
		sent[send.peer]++
		if !ok {
			return errors.Errorf("rank %d sends %d bytes to rank %d, which posted no matching receive",
				c.rank, send.mem.Size(), send.peer)
		}
		if recv.mem.Size() != send.mem.Size() {
			return errors.Errorf("rank %d sends %d bytes to rank %d, which expects %d bytes",
				c.rank, send.mem.Size(), send.peer, recv.mem.Size())
		}
		copy(recv.mem.Bytes(), send.mem.Bytes())
	}
	return nil
}

// nthTransferFrom returns the n-th (0-based) transfer whose peer is rank.
func nthTransferFrom(transfers []transfer, rank, n int) (transfer, bool) {
	for _, t := range transfers {
		if t.peer != rank {
			continue
		}
		if n == 0 {
			return t, true
		}
		n--
	}
	return transfer{}, false
}

// sortManifests orders the rendezvous values by rank, so every participant
// indexes its peers' manifests the same way the clique orders its devices.
func sortManifests(values []manifest) []manifest {
	sort.Slice(values, func(i, j int) bool { return values[i].rank < values[j].rank })
	return values
}
