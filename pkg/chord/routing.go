package chord

import (
	"math/rand"
	"sync"
)

// RoutingTable owns a node's view of the ring: its predecessor, successor
// list and finger table.
//
// The table is pure data manipulation with no blocking operations. It is
// consulted concurrently by the ring engine and the gossiper so uses a
// single-writer many-reader lock discipline.
//
// Invariant: the head of the successor list is the closest known live
// successor, and finger 0 always mirrors it. Finger entries may be stale
// between refresh cycles; lookups tolerate staleness by falling back to the
// successor list.
type RoutingTable struct {
	self Peer

	predecessor Peer
	successors  []Peer
	fingers     []Peer

	// mu protects the above fields.
	mu sync.RWMutex

	// capacity is the maximum successor list length.
	capacity int
}

// NewRoutingTable creates a routing table for a node that is alone on the
// ring: its successor is itself and it has no predecessor.
func NewRoutingTable(self Peer, capacity int) *RoutingTable {
	fingers := make([]Peer, IDBits)
	fingers[0] = self
	return &RoutingTable{
		self:       self,
		successors: []Peer{self},
		fingers:    fingers,
		capacity:   capacity,
	}
}

func (t *RoutingTable) Self() Peer {
	return t.self
}

// Successor returns the head of the successor list. ok is false if the list
// has emptied, meaning the node is isolated.
func (t *RoutingTable) Successor() (Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.successors) == 0 {
		return Peer{}, false
	}
	return t.successors[0], true
}

// Successors returns a copy of the successor list, ordered by ring distance
// ascending.
func (t *RoutingTable) Successors() []Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()

	successors := make([]Peer, len(t.successors))
	copy(successors, t.successors)
	return successors
}

func (t *RoutingTable) Predecessor() (Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.predecessor.IsZero() {
		return Peer{}, false
	}
	return t.predecessor, true
}

// UpdatePredecessor adopts candidate as the predecessor if the node has
// none, or if candidate lies strictly between the current predecessor and
// the node. Returns whether the predecessor changed.
func (t *RoutingTable) UpdatePredecessor(candidate Peer) bool {
	if candidate.IsZero() {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if candidate.ID == t.self.ID {
		return false
	}
	if t.predecessor.IsZero() || t.predecessor.ID == t.self.ID ||
		Between(candidate.ID, t.predecessor.ID, t.self.ID) {
		t.predecessor = candidate
		return true
	}
	return false
}

// ClearPredecessor forgets the predecessor, such as when it stops responding
// to pings.
func (t *RoutingTable) ClearPredecessor() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.predecessor = Peer{}
}

// UpdateSuccessors replaces the successor list. Self entries are dropped
// unless the node is the only member, duplicates are removed and the list is
// truncated to capacity. Finger 0 is synced to the new head.
func (t *RoutingTable) UpdateSuccessors(successors []Peer) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var filtered []Peer
	seen := make(map[ID]struct{})
	for _, p := range successors {
		if p.IsZero() || p.ID == t.self.ID {
			continue
		}
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		filtered = append(filtered, p)
		if len(filtered) == t.capacity {
			break
		}
	}
	if len(filtered) == 0 {
		// Only member of the ring.
		filtered = []Peer{t.self}
	}

	t.successors = filtered
	t.fingers[0] = filtered[0]
}

// RefreshFinger replaces finger entry i. Driven by the fix-fingers cycle,
// one index per tick to bound per-tick cost.
func (t *RoutingTable) RefreshFinger(i int, p Peer) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p.IsZero() {
		return
	}
	t.fingers[i] = p
}

// Finger returns finger entry i. ok is false if the entry has not been
// resolved yet or its peer was purged.
func (t *RoutingTable) Finger(i int) (Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.fingers[i].IsZero() {
		return Peer{}, false
	}
	return t.fingers[i], true
}

// FingerStart returns the start of finger interval i, self + 2^i.
func (t *RoutingTable) FingerStart(i int) ID {
	return t.self.ID.Add2Exp(i)
}

// NumFingers returns the number of finger table entries.
func (t *RoutingTable) NumFingers() int {
	return len(t.fingers)
}

// ClosestPreceding returns the known peer closest to id without passing it,
// scanning the finger table from the highest index down and falling back to
// the successor list. Returns self if no peer precedes id, meaning self is
// the best known hop.
func (t *RoutingTable) ClosestPreceding(id ID) Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for i := len(t.fingers) - 1; i >= 0; i-- {
		f := t.fingers[i]
		if f.IsZero() || f.ID == t.self.ID {
			continue
		}
		if Between(f.ID, t.self.ID, id) {
			return f
		}
	}
	for i := len(t.successors) - 1; i >= 0; i-- {
		s := t.successors[i]
		if s.ID == t.self.ID {
			continue
		}
		if Between(s.ID, t.self.ID, id) {
			return s
		}
	}
	return t.self
}

// RemovePeer purges a failed peer from the successor list and finger table.
// Returns whether the successor list head was removed, which triggers
// successor repair.
func (t *RoutingTable) RemovePeer(id ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	headRemoved := len(t.successors) > 0 && t.successors[0].ID == id

	var successors []Peer
	for _, p := range t.successors {
		if p.ID != id {
			successors = append(successors, p)
		}
	}
	t.successors = successors

	for i, f := range t.fingers {
		if f.ID == id {
			t.fingers[i] = Peer{}
		}
	}
	if len(t.successors) > 0 {
		t.fingers[0] = t.successors[0]
	}

	if t.predecessor.ID == id {
		t.predecessor = Peer{}
	}

	return headRemoved
}

// Peers returns every distinct remote peer the table knows about.
func (t *RoutingTable) Peers() []Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()

	seen := make(map[ID]struct{})
	var peers []Peer
	add := func(p Peer) {
		if p.IsZero() || p.ID == t.self.ID {
			return
		}
		if _, ok := seen[p.ID]; ok {
			return
		}
		seen[p.ID] = struct{}{}
		peers = append(peers, p)
	}

	if !t.predecessor.IsZero() {
		add(t.predecessor)
	}
	for _, p := range t.successors {
		add(p)
	}
	for _, p := range t.fingers {
		add(p)
	}
	return peers
}

// SamplePeers selects up to k distinct remote peers for a gossip round.
// Successors keep ring-local neighbours in sync, while long-range fingers cut
// rumour spreading from O(N) to O(log N) rounds, so when k > 1 one slot is
// reserved for a random finger entry that is not already a successor. Peers
// rejected by the include filter are skipped.
func (t *RoutingTable) SamplePeers(k int, include func(Peer) bool) []Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if k <= 0 {
		return nil
	}

	seen := make(map[ID]struct{})
	var sample []Peer
	add := func(p Peer) bool {
		if p.IsZero() || p.ID == t.self.ID {
			return false
		}
		if _, ok := seen[p.ID]; ok {
			return false
		}
		seen[p.ID] = struct{}{}
		if include != nil && !include(p) {
			return false
		}
		sample = append(sample, p)
		return len(sample) == k
	}

	// Reserve a slot for a random long-range finger, otherwise a full
	// successor list would crowd fingers out of every round.
	successorBudget := k
	var reserved Peer
	if k > 1 {
		inSuccessors := make(map[ID]struct{}, len(t.successors))
		for _, p := range t.successors {
			inSuccessors[p.ID] = struct{}{}
		}
		order := rand.Perm(len(t.fingers))
		for _, i := range order {
			p := t.fingers[i]
			if p.IsZero() || p.ID == t.self.ID {
				continue
			}
			if _, ok := inSuccessors[p.ID]; ok {
				continue
			}
			if include != nil && !include(p) {
				continue
			}
			reserved = p
			successorBudget = k - 1
			break
		}
	}

	for _, p := range t.successors {
		if len(sample) == successorBudget {
			break
		}
		add(p)
	}
	if !reserved.IsZero() {
		if add(reserved) {
			return sample
		}
	}

	// Fill the remainder with random finger entries.
	order := rand.Perm(len(t.fingers))
	for _, i := range order {
		if add(t.fingers[i]) {
			return sample
		}
	}
	return sample
}
