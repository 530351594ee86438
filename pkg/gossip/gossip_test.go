package gossip

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringmesh/ringmesh/pkg/chord"
	"github.com/ringmesh/ringmesh/pkg/log"
)

// memCluster connects gossip engines directly in memory.
type memCluster struct {
	members map[chord.ID]*member

	mu sync.Mutex
}

type member struct {
	peer     chord.Peer
	store    *Store
	engine   *Gossip
	detector *FailureDetector
	sampler  *staticSampler
	failed   bool
}

func newMemCluster() *memCluster {
	return &memCluster{
		members: make(map[chord.ID]*member),
	}
}

func (c *memCluster) AddMember(addr string, conf Config) *member {
	peer := chord.NewPeer(addr)
	store := NewStore(peer.ID, nil)
	detector := NewFailureDetector(conf.DeadThreshold, conf.DeadPeerExpiry)
	sampler := &staticSampler{}
	m := &member{
		peer:     peer,
		store:    store,
		detector: detector,
		sampler:  sampler,
	}
	m.engine = NewGossip(
		store,
		sampler,
		detector,
		&memGossipTransport{cluster: c, self: peer},
		conf,
		log.NewNopLogger(),
	)
	c.members[peer.ID] = m
	return m
}

// Connect gives every member a full view of its peers.
func (c *memCluster) Connect() {
	for _, m := range c.members {
		var peers []chord.Peer
		for _, other := range c.members {
			if other.peer.ID != m.peer.ID {
				peers = append(peers, other.peer)
			}
		}
		m.sampler.peers = peers
	}
}

func (c *memCluster) Fail(m *member) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m.failed = true
}

func (c *memCluster) lookup(p chord.Peer) (*member, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.members[p.ID]
	if !ok || m.failed {
		return nil, fmt.Errorf("%w: %s", chord.ErrTransportTimeout, p.Addr)
	}
	return m, nil
}

// Rounds runs the given number of gossip rounds across every live member.
func (c *memCluster) Rounds(n int) {
	ctx := context.Background()
	for i := 0; i != n; i++ {
		for _, m := range c.members {
			if !m.failed {
				m.engine.Round(ctx)
			}
		}
	}
}

type staticSampler struct {
	peers []chord.Peer
}

func (s *staticSampler) SamplePeers(
	k int, include func(chord.Peer) bool,
) []chord.Peer {
	var sample []chord.Peer
	for _, p := range s.peers {
		if include != nil && !include(p) {
			continue
		}
		sample = append(sample, p)
		if len(sample) == k {
			break
		}
	}
	return sample
}

func (s *staticSampler) Peers() []chord.Peer {
	return s.peers
}

type memGossipTransport struct {
	cluster *memCluster
	self    chord.Peer
}

func (t *memGossipTransport) Digest(
	_ context.Context, peer chord.Peer, digest Digest,
) (Digest, error) {
	m, err := t.cluster.lookup(peer)
	if err != nil {
		return nil, err
	}
	return m.engine.HandleDigest(t.self, digest), nil
}

func (t *memGossipTransport) Pull(
	_ context.Context, peer chord.Peer, keys []string,
) ([]Entry, error) {
	m, err := t.cluster.lookup(peer)
	if err != nil {
		return nil, err
	}
	return m.engine.HandlePull(t.self, keys), nil
}

func (t *memGossipTransport) Push(
	_ context.Context, peer chord.Peer, entries []Entry,
) error {
	m, err := t.cluster.lookup(peer)
	if err != nil {
		return err
	}
	m.engine.HandlePush(t.self, entries)
	return nil
}

func (t *memGossipTransport) Ping(_ context.Context, peer chord.Peer) error {
	_, err := t.cluster.lookup(peer)
	return err
}

var _ Transport = &memGossipTransport{}

func TestGossip_Convergence(t *testing.T) {
	cluster := newMemCluster()

	conf := DefaultConfig()
	var members []*member
	for i := 0; i != 5; i++ {
		m := cluster.AddMember(fmt.Sprintf("node-%d:7000", i), conf)
		m.store.Put(fmt.Sprintf("key-%d", i), fmt.Sprintf("value-%d", i))
		members = append(members, m)
	}
	cluster.Connect()

	cluster.Rounds(10)

	// Every member converged on the union of all writes.
	want := members[0].store.Entries()
	require.Len(t, want, 5)
	for _, m := range members[1:] {
		assert.Equal(t, want, m.store.Entries(), m.peer.Addr)
	}
}

func TestGossip_TombstonePropagation(t *testing.T) {
	cluster := newMemCluster()

	conf := DefaultConfig()
	var members []*member
	for i := 0; i != 3; i++ {
		members = append(
			members, cluster.AddMember(fmt.Sprintf("node-%d:7000", i), conf),
		)
	}
	cluster.Connect()

	members[0].store.Put("k1", "v1")
	cluster.Rounds(5)
	for _, m := range members {
		_, ok := m.store.Get("k1")
		require.True(t, ok, m.peer.Addr)
	}

	// A different member deletes the key; the tombstone supersedes the
	// value everywhere.
	members[1].store.Delete("k1")
	cluster.Rounds(5)
	for _, m := range members {
		_, ok := m.store.Get("k1")
		assert.False(t, ok, m.peer.Addr)

		entries := m.store.Entries()
		require.Len(t, entries, 1)
		assert.True(t, entries[0].Deleted)
	}
}

func TestGossip_PartialFailure(t *testing.T) {
	cluster := newMemCluster()

	conf := DefaultConfig()
	m0 := cluster.AddMember("node-0:7000", conf)
	m1 := cluster.AddMember("node-1:7000", conf)
	m2 := cluster.AddMember("node-2:7000", conf)
	cluster.Connect()

	var deadMu sync.Mutex
	var dead []chord.Peer
	m0.engine.OnPeerDead(func(p chord.Peer) {
		deadMu.Lock()
		defer deadMu.Unlock()
		dead = append(dead, p)
	})

	cluster.Fail(m2)

	m0.store.Put("k1", "v1")
	cluster.Rounds(conf.DeadThreshold + 2)

	// State still converged between the live members.
	_, ok := m1.store.Get("k1")
	assert.True(t, ok)

	// The failed member was declared dead after the configured number of
	// consecutive failed exchanges.
	assert.Equal(t, PeerDead, m0.detector.State(m2.peer.ID))
	deadMu.Lock()
	defer deadMu.Unlock()
	require.Len(t, dead, 1)
	assert.Equal(t, m2.peer.ID, dead[0].ID)
}

func TestGossip_PingSweep(t *testing.T) {
	cluster := newMemCluster()

	conf := DefaultConfig()
	conf.DeadThreshold = 1

	m0 := cluster.AddMember("node-0:7000", conf)
	m1 := cluster.AddMember("node-1:7000", conf)
	cluster.Connect()

	var deadMu sync.Mutex
	var dead []chord.Peer
	m0.engine.OnPeerDead(func(p chord.Peer) {
		deadMu.Lock()
		defer deadMu.Unlock()
		dead = append(dead, p)
	})

	// A reachable peer is acked.
	m0.engine.PingSweep(context.Background())
	assert.Equal(t, PeerAlive, m0.detector.State(m1.peer.ID))

	cluster.Fail(m1)
	m0.engine.PingSweep(context.Background())

	assert.Equal(t, PeerDead, m0.detector.State(m1.peer.ID))
	deadMu.Lock()
	defer deadMu.Unlock()
	require.Len(t, dead, 1)
}
