package chord

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringmesh/ringmesh/pkg/log"
)

// memNetwork connects chord engines directly in memory, routing transport
// calls to the target engine's handlers.
type memNetwork struct {
	nodes map[ID]*memNode
	order []*memNode

	mu sync.Mutex
}

type memNode struct {
	chord   *Chord
	routing *RoutingTable
	self    Peer
	failed  bool
}

func newMemNetwork() *memNetwork {
	return &memNetwork{
		nodes: make(map[ID]*memNode),
	}
}

func (n *memNetwork) AddNode(addr string) *memNode {
	node := n.newNode(addr)
	n.nodes[node.self.ID] = node
	n.order = append(n.order, node)
	return node
}

// newNode creates an engine connected to the network without registering
// it as a reachable member.
func (n *memNetwork) newNode(addr string) *memNode {
	conf := DefaultConfig()
	conf.SuccessorListLen = 4
	conf.JoinRetries = 1

	self := NewPeer(addr)
	routing := NewRoutingTable(self, conf.SuccessorListLen)
	transport := &memTransport{net: n, self: self}
	return &memNode{
		chord:   NewChord(routing, transport, conf, log.NewNopLogger()),
		routing: routing,
		self:    self,
	}
}

func (n *memNetwork) Fail(node *memNode) {
	n.mu.Lock()
	defer n.mu.Unlock()

	node.failed = true
}

func (n *memNetwork) lookup(p Peer) (*memNode, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	node, ok := n.nodes[p.ID]
	if !ok || node.failed {
		return nil, fmt.Errorf("%w: %s", ErrTransportTimeout, p.Addr)
	}
	return node, nil
}

// StabilizeAll runs the given number of stabilize rounds across every live
// node.
func (n *memNetwork) StabilizeAll(rounds int) {
	ctx := context.Background()
	for r := 0; r != rounds; r++ {
		for _, node := range n.order {
			if node.failed {
				continue
			}
			_ = node.chord.Stabilize(ctx)
		}
	}
}

// FixAllFingers refreshes every finger of every live node.
func (n *memNetwork) FixAllFingers() {
	ctx := context.Background()
	for _, node := range n.order {
		if node.failed {
			continue
		}
		for i := 0; i != node.routing.NumFingers(); i++ {
			_ = node.chord.FixFingers(ctx)
		}
	}
}

// Sorted returns the live nodes ordered by ring identifier.
func (n *memNetwork) Sorted() []*memNode {
	var nodes []*memNode
	for _, node := range n.order {
		if !node.failed {
			nodes = append(nodes, node)
		}
	}
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].self.ID.Less(nodes[j].self.ID)
	})
	return nodes
}

type memTransport struct {
	net  *memNetwork
	self Peer
}

func (t *memTransport) FindSuccessor(
	ctx context.Context, peer Peer, id ID, hops int,
) (Peer, error) {
	node, err := t.net.lookup(peer)
	if err != nil {
		return Peer{}, err
	}
	return node.chord.HandleFindSuccessor(ctx, id, hops)
}

func (t *memTransport) GetPredecessor(
	_ context.Context, peer Peer,
) (Peer, bool, error) {
	node, err := t.net.lookup(peer)
	if err != nil {
		return Peer{}, false, err
	}
	pred, ok := node.routing.Predecessor()
	return pred, ok, nil
}

func (t *memTransport) GetSuccessorList(
	_ context.Context, peer Peer,
) ([]Peer, error) {
	node, err := t.net.lookup(peer)
	if err != nil {
		return nil, err
	}
	return node.routing.Successors(), nil
}

func (t *memTransport) Notify(
	_ context.Context, peer Peer, candidate Peer,
) ([]Peer, error) {
	node, err := t.net.lookup(peer)
	if err != nil {
		return nil, err
	}
	return node.chord.HandleNotify(t.self, candidate), nil
}

func (t *memTransport) Ping(_ context.Context, peer Peer) error {
	_, err := t.net.lookup(peer)
	return err
}

var _ Transport = &memTransport{}

// buildRing creates n nodes, joins them into a single ring and stabilizes
// until pointers converge.
func buildRing(t *testing.T, net *memNetwork, n int) []*memNode {
	first := net.AddNode("node-0:7000")
	first.chord.Create()

	ctx := context.Background()
	for i := 1; i != n; i++ {
		node := net.AddNode(fmt.Sprintf("node-%d:7000", i))
		require.NoError(t, node.chord.Join(ctx, first.self))
	}

	net.StabilizeAll(2 * n)
	net.FixAllFingers()
	net.StabilizeAll(2)
	return net.Sorted()
}

func TestChord_SingleNode(t *testing.T) {
	net := newMemNetwork()
	node := net.AddNode("node-0:7000")
	node.chord.Create()
	require.Equal(t, StatusActive, node.chord.Status())

	// The successor of every identifier is the node itself.
	peer, err := node.chord.FindSuccessor(context.Background(), testID(123))
	require.NoError(t, err)
	assert.Equal(t, node.self, peer)

	assert.NoError(t, node.chord.Stabilize(context.Background()))
}

func TestChord_Join(t *testing.T) {
	t.Run("two nodes", func(t *testing.T) {
		net := newMemNetwork()
		first := net.AddNode("node-0:7000")
		first.chord.Create()

		second := net.AddNode("node-1:7000")
		require.NoError(t, second.chord.Join(context.Background(), first.self))
		require.Equal(t, StatusActive, second.chord.Status())

		net.StabilizeAll(4)

		// Each node is the other's successor and predecessor.
		succ, ok := first.routing.Successor()
		require.True(t, ok)
		assert.Equal(t, second.self, succ)

		succ, ok = second.routing.Successor()
		require.True(t, ok)
		assert.Equal(t, first.self, succ)

		pred, ok := first.routing.Predecessor()
		require.True(t, ok)
		assert.Equal(t, second.self, pred)

		pred, ok = second.routing.Predecessor()
		require.True(t, ok)
		assert.Equal(t, first.self, pred)
	})

	t.Run("unreachable bootstrap", func(t *testing.T) {
		net := newMemNetwork()
		node := net.AddNode("node-0:7000")

		err := node.chord.Join(context.Background(), NewPeer("nowhere:7000"))
		require.ErrorIs(t, err, ErrJoin)
		assert.Equal(t, StatusJoining, node.chord.Status())
	})

	t.Run("duplicate identifier", func(t *testing.T) {
		net := newMemNetwork()
		first := net.AddNode("node-0:7000")
		first.chord.Create()

		// A node whose advertised address hashes to an identifier already
		// on the ring must be rejected.
		dup := net.newNode("node-0:7000")
		err := dup.chord.Join(context.Background(), first.self)
		require.Error(t, err)
	})
}

func TestChord_RingConvergence(t *testing.T) {
	net := newMemNetwork()
	nodes := buildRing(t, net, 8)

	// Every node's successor and predecessor match the ring order.
	for i, node := range nodes {
		next := nodes[(i+1)%len(nodes)]
		prev := nodes[(i+len(nodes)-1)%len(nodes)]

		succ, ok := node.routing.Successor()
		require.True(t, ok)
		assert.Equal(t, next.self, succ, "successor of %s", node.self.Addr)

		pred, ok := node.routing.Predecessor()
		require.True(t, ok)
		assert.Equal(t, prev.self, pred, "predecessor of %s", node.self.Addr)
	}
}

func TestChord_FindSuccessor(t *testing.T) {
	net := newMemNetwork()
	nodes := buildRing(t, net, 6)

	// owner returns the first node whose identifier equals or follows id.
	owner := func(id ID) Peer {
		for _, node := range nodes {
			if !node.self.ID.Less(id) {
				return node.self
			}
		}
		return nodes[0].self
	}

	keys := []string{"alpha", "beta", "gamma", "delta", "epsilon"}
	for _, key := range keys {
		id := IDFromKey(key)
		want := owner(id)
		for _, node := range nodes {
			got, err := node.chord.FindSuccessor(context.Background(), id)
			require.NoError(t, err)
			assert.Equal(
				t, want, got,
				"lookup of %q from %s", key, node.self.Addr,
			)
		}
	}
}

func TestChord_LookupExhausted(t *testing.T) {
	// A transport that forwards every lookup back to the same engine
	// simulates a routing cycle; the hop budget must terminate it.
	transport := &loopTransport{}

	conf := DefaultConfig()
	self := testPeer(0)
	routing := NewRoutingTable(self, conf.SuccessorListLen)
	engine := NewChord(routing, transport, conf, log.NewNopLogger())
	transport.chord = engine

	routing.UpdateSuccessors([]Peer{testPeer(100)})

	_, err := engine.FindSuccessor(context.Background(), testID(200))
	require.ErrorIs(t, err, ErrLookupExhausted)
}

type loopTransport struct {
	chord *Chord
}

func (t *loopTransport) FindSuccessor(
	ctx context.Context, _ Peer, id ID, hops int,
) (Peer, error) {
	return t.chord.HandleFindSuccessor(ctx, id, hops)
}

func (t *loopTransport) GetPredecessor(
	_ context.Context, _ Peer,
) (Peer, bool, error) {
	return Peer{}, false, nil
}

func (t *loopTransport) GetSuccessorList(
	_ context.Context, _ Peer,
) ([]Peer, error) {
	return nil, nil
}

func (t *loopTransport) Notify(
	_ context.Context, _ Peer, _ Peer,
) ([]Peer, error) {
	return nil, nil
}

func (t *loopTransport) Ping(_ context.Context, _ Peer) error {
	return nil
}

func TestChord_RepairSuccessors(t *testing.T) {
	net := newMemNetwork()
	nodes := buildRing(t, net, 4)

	// Fail node 1; its predecessor repairs around it.
	dead := nodes[1]
	net.Fail(dead)

	pred := nodes[0]
	require.NoError(
		t,
		pred.chord.RepairSuccessors(context.Background(), dead.self.ID),
	)

	successors := pred.routing.Successors()
	require.NotEmpty(t, successors)
	assert.Equal(t, nodes[2].self, successors[0])
	for _, succ := range successors {
		assert.NotEqual(t, dead.self.ID, succ.ID)
	}

	// The ring re-converges without the failed node.
	net.StabilizeAll(8)
	for i, node := range net.Sorted() {
		live := net.Sorted()
		succ, ok := node.routing.Successor()
		require.True(t, ok)
		assert.Equal(t, live[(i+1)%len(live)].self, succ)
	}
}

func TestChord_Isolated(t *testing.T) {
	net := newMemNetwork()
	first := net.AddNode("node-0:7000")
	first.chord.Create()

	second := net.AddNode("node-1:7000")
	require.NoError(t, second.chord.Join(context.Background(), first.self))

	net.Fail(first)

	err := second.chord.RepairSuccessors(context.Background(), first.self.ID)
	require.ErrorIs(t, err, ErrRingInconsistency)
	assert.Equal(t, StatusJoining, second.chord.Status())

	// Recreating resets the node to a self-successor ring.
	second.chord.Create()
	assert.Equal(t, StatusActive, second.chord.Status())
	succ, ok := second.routing.Successor()
	require.True(t, ok)
	assert.Equal(t, second.self, succ)
}

func TestChord_Leave(t *testing.T) {
	net := newMemNetwork()
	nodes := buildRing(t, net, 3)

	leaving := nodes[1]
	require.NoError(t, leaving.chord.Leave(context.Background()))
	assert.Equal(t, StatusLeaving, leaving.chord.Status())

	// The successor adopted the leaving node's predecessor immediately.
	pred, ok := nodes[2].routing.Predecessor()
	require.True(t, ok)
	assert.Equal(t, nodes[0].self, pred)

	// Once the leaving node stops responding the ring converges around it.
	net.Fail(leaving)
	net.StabilizeAll(8)

	succ, ok := nodes[0].routing.Successor()
	require.True(t, ok)
	assert.Equal(t, nodes[2].self, succ)
}
