package chord

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPeer(v uint64) Peer {
	return Peer{
		ID:   testID(v),
		Addr: testID(v).String()[:8],
	}
}

func TestRoutingTable_UpdateSuccessors(t *testing.T) {
	self := testPeer(10)

	t.Run("filters self and duplicates", func(t *testing.T) {
		table := NewRoutingTable(self, 8)
		table.UpdateSuccessors([]Peer{
			testPeer(20), self, testPeer(30), testPeer(20), {},
		})
		assert.Equal(
			t, []Peer{testPeer(20), testPeer(30)}, table.Successors(),
		)
	})

	t.Run("truncates to capacity", func(t *testing.T) {
		table := NewRoutingTable(self, 2)
		table.UpdateSuccessors([]Peer{
			testPeer(20), testPeer(30), testPeer(40),
		})
		assert.Equal(
			t, []Peer{testPeer(20), testPeer(30)}, table.Successors(),
		)
	})

	t.Run("empty list falls back to self", func(t *testing.T) {
		table := NewRoutingTable(self, 8)
		table.UpdateSuccessors(nil)

		succ, ok := table.Successor()
		require.True(t, ok)
		assert.Equal(t, self, succ)
	})

	t.Run("syncs first finger to head", func(t *testing.T) {
		table := NewRoutingTable(self, 8)
		table.UpdateSuccessors([]Peer{testPeer(20)})

		finger, ok := table.Finger(0)
		require.True(t, ok)
		assert.Equal(t, testPeer(20), finger)
	})
}

func TestRoutingTable_UpdatePredecessor(t *testing.T) {
	self := testPeer(100)

	t.Run("adopts when unset", func(t *testing.T) {
		table := NewRoutingTable(self, 8)
		assert.True(t, table.UpdatePredecessor(testPeer(20)))

		pred, ok := table.Predecessor()
		require.True(t, ok)
		assert.Equal(t, testPeer(20), pred)
	})

	t.Run("adopts closer candidate", func(t *testing.T) {
		table := NewRoutingTable(self, 8)
		table.UpdatePredecessor(testPeer(20))
		assert.True(t, table.UpdatePredecessor(testPeer(50)))

		pred, _ := table.Predecessor()
		assert.Equal(t, testPeer(50), pred)
	})

	t.Run("rejects farther candidate", func(t *testing.T) {
		table := NewRoutingTable(self, 8)
		table.UpdatePredecessor(testPeer(50))
		assert.False(t, table.UpdatePredecessor(testPeer(20)))

		pred, _ := table.Predecessor()
		assert.Equal(t, testPeer(50), pred)
	})

	t.Run("rejects self", func(t *testing.T) {
		table := NewRoutingTable(self, 8)
		assert.False(t, table.UpdatePredecessor(self))

		_, ok := table.Predecessor()
		assert.False(t, ok)
	})
}

func TestRoutingTable_ClosestPreceding(t *testing.T) {
	self := testPeer(0)

	t.Run("picks highest preceding finger", func(t *testing.T) {
		table := NewRoutingTable(self, 8)
		table.RefreshFinger(1, testPeer(4))
		table.RefreshFinger(4, testPeer(50))
		table.RefreshFinger(6, testPeer(200))

		assert.Equal(t, testPeer(50), table.ClosestPreceding(testID(100)))
		assert.Equal(t, testPeer(200), table.ClosestPreceding(testID(201)))
	})

	t.Run("falls back to successor list", func(t *testing.T) {
		table := NewRoutingTable(self, 8)
		table.UpdateSuccessors([]Peer{testPeer(30)})
		// Simulate a stale finger table.
		table.fingers[0] = Peer{}

		assert.Equal(t, testPeer(30), table.ClosestPreceding(testID(100)))
	})

	t.Run("returns self when nothing precedes", func(t *testing.T) {
		table := NewRoutingTable(self, 8)
		assert.Equal(t, self, table.ClosestPreceding(testID(100)))
	})
}

func TestRoutingTable_RemovePeer(t *testing.T) {
	self := testPeer(10)

	t.Run("removes head", func(t *testing.T) {
		table := NewRoutingTable(self, 8)
		table.UpdateSuccessors([]Peer{testPeer(20), testPeer(30)})

		assert.True(t, table.RemovePeer(testID(20)))
		assert.Equal(t, []Peer{testPeer(30)}, table.Successors())

		// Finger 0 synced to the new head.
		finger, ok := table.Finger(0)
		require.True(t, ok)
		assert.Equal(t, testPeer(30), finger)
	})

	t.Run("removes tail", func(t *testing.T) {
		table := NewRoutingTable(self, 8)
		table.UpdateSuccessors([]Peer{testPeer(20), testPeer(30)})

		assert.False(t, table.RemovePeer(testID(30)))
		assert.Equal(t, []Peer{testPeer(20)}, table.Successors())
	})

	t.Run("purges fingers and predecessor", func(t *testing.T) {
		table := NewRoutingTable(self, 8)
		table.UpdateSuccessors([]Peer{testPeer(20)})
		table.RefreshFinger(5, testPeer(40))
		table.UpdatePredecessor(testPeer(40))

		table.RemovePeer(testID(40))

		_, ok := table.Finger(5)
		assert.False(t, ok)
		_, ok = table.Predecessor()
		assert.False(t, ok)
	})
}

func TestRoutingTable_SamplePeers(t *testing.T) {
	self := testPeer(10)

	t.Run("mixes successors and fingers", func(t *testing.T) {
		table := NewRoutingTable(self, 8)
		table.UpdateSuccessors([]Peer{testPeer(20), testPeer(30)})
		table.RefreshFinger(7, testPeer(90))

		sample := table.SamplePeers(2, nil)
		assert.ElementsMatch(t, []Peer{testPeer(20), testPeer(90)}, sample)
	})

	t.Run("reserves a slot for a long-range finger", func(t *testing.T) {
		table := NewRoutingTable(self, 8)
		var successors []Peer
		for v := uint64(20); v < 100; v += 10 {
			successors = append(successors, testPeer(v))
		}
		table.UpdateSuccessors(successors)
		distant := testPeer(140)
		table.RefreshFinger(150, distant)

		// A full successor list must never crowd the finger out.
		for i := 0; i < 100; i++ {
			sample := table.SamplePeers(2, nil)
			require.Len(t, sample, 2)
			assert.Contains(t, sample, distant)
			assert.Contains(t, sample, successors[0])
		}
	})

	t.Run("falls back to successors without distinct fingers", func(t *testing.T) {
		table := NewRoutingTable(self, 8)
		table.UpdateSuccessors([]Peer{testPeer(20), testPeer(30), testPeer(40)})

		sample := table.SamplePeers(2, nil)
		assert.Equal(t, []Peer{testPeer(20), testPeer(30)}, sample)
	})

	t.Run("fills from fingers", func(t *testing.T) {
		table := NewRoutingTable(self, 8)
		table.UpdateSuccessors([]Peer{testPeer(20)})
		table.RefreshFinger(7, testPeer(90))

		sample := table.SamplePeers(4, nil)
		assert.ElementsMatch(t, []Peer{testPeer(20), testPeer(90)}, sample)
	})

	t.Run("respects include filter", func(t *testing.T) {
		table := NewRoutingTable(self, 8)
		table.UpdateSuccessors([]Peer{testPeer(20), testPeer(30)})

		sample := table.SamplePeers(2, func(p Peer) bool {
			return p.ID != testID(20)
		})
		assert.Equal(t, []Peer{testPeer(30)}, sample)
	})

	t.Run("excludes self", func(t *testing.T) {
		table := NewRoutingTable(self, 8)
		assert.Empty(t, table.SamplePeers(3, nil))
	})
}
