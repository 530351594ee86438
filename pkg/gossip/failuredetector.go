package gossip

import (
	"sync"
	"time"

	"github.com/ringmesh/ringmesh/pkg/chord"
)

// PeerState is the health state of a known peer.
type PeerState int

const (
	// PeerAlive means the peer answered its most recent probe.
	PeerAlive PeerState = iota
	// PeerSuspect means the peer missed at least one probe but hasn't yet
	// crossed the dead threshold. Suspect peers are still gossiped with.
	PeerSuspect
	// PeerDead means the peer missed enough consecutive probes to be
	// considered failed. Dead peers are excluded from gossip and routing.
	PeerDead
)

func (s PeerState) String() string {
	switch s {
	case PeerAlive:
		return "alive"
	case PeerSuspect:
		return "suspect"
	case PeerDead:
		return "dead"
	default:
		return "unknown"
	}
}

type peerHealth struct {
	state PeerState
	// missed counts consecutive failed probes since the last ack.
	missed    int
	lastAck   time.Time
	deadSince time.Time
}

// PeerHealthStatus is a point-in-time view of a peer's health, exposed on
// the admin status API.
type PeerHealthStatus struct {
	ID      string    `json:"id"`
	State   string    `json:"state"`
	Missed  int       `json:"missed"`
	LastAck time.Time `json:"last_ack"`
}

// FailureDetector tracks peer health with a consecutive-miss counter per
// peer.
//
// Any successful interaction with a peer (answered probe, completed gossip
// exchange, inbound request) counts as an ack and resets the peer to
// alive. A single missed probe moves an alive peer to suspect; threshold
// consecutive misses move it to dead. Dead peers are retained for an
// expiry period so a flapping peer's state isn't immediately forgotten,
// then purged.
type FailureDetector struct {
	peers map[chord.ID]*peerHealth

	// threshold is the number of consecutive misses before a peer is
	// declared dead.
	threshold int

	// expiry is how long dead peers are retained before being purged.
	expiry time.Duration

	// mu protects the above fields.
	mu sync.Mutex
}

func NewFailureDetector(threshold int, expiry time.Duration) *FailureDetector {
	return &FailureDetector{
		peers:     make(map[chord.ID]*peerHealth),
		threshold: threshold,
		expiry:    expiry,
	}
}

// ReportAck records a successful interaction with the peer, resetting it
// to alive.
func (fd *FailureDetector) ReportAck(id chord.ID) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	health, ok := fd.peers[id]
	if !ok {
		health = &peerHealth{}
		fd.peers[id] = health
	}
	health.state = PeerAlive
	health.missed = 0
	health.lastAck = time.Now()
}

// ReportMiss records a failed probe of the peer. Returns the peer's state
// after the miss, and whether this miss transitioned the peer to dead.
func (fd *FailureDetector) ReportMiss(id chord.ID) (PeerState, bool) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	health, ok := fd.peers[id]
	if !ok {
		health = &peerHealth{}
		fd.peers[id] = health
	}
	if health.state == PeerDead {
		return PeerDead, false
	}

	health.missed++
	if health.missed >= fd.threshold {
		health.state = PeerDead
		health.deadSince = time.Now()
		return PeerDead, true
	}
	health.state = PeerSuspect
	return PeerSuspect, false
}

// State returns the peer's health state. Unknown peers are reported alive,
// since a peer we've never probed has missed nothing.
func (fd *FailureDetector) State(id chord.ID) PeerState {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	health, ok := fd.peers[id]
	if !ok {
		return PeerAlive
	}
	return health.state
}

// Usable returns whether the peer may be gossiped with and routed to.
// Suspect peers remain usable; only dead peers are excluded.
func (fd *FailureDetector) Usable(p chord.Peer) bool {
	return fd.State(p.ID) != PeerDead
}

// Remove forgets the peer, such as after a graceful leave.
func (fd *FailureDetector) Remove(id chord.ID) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	delete(fd.peers, id)
}

// RemoveExpired purges dead peers whose expiry has elapsed and returns
// their identifiers.
func (fd *FailureDetector) RemoveExpired() []chord.ID {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	var removed []chord.ID
	for id, health := range fd.peers {
		if health.state != PeerDead {
			continue
		}
		if time.Since(health.deadSince) >= fd.expiry {
			delete(fd.peers, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// Status returns a snapshot of all tracked peers for the admin API.
func (fd *FailureDetector) Status() []PeerHealthStatus {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	status := make([]PeerHealthStatus, 0, len(fd.peers))
	for id, health := range fd.peers {
		status = append(status, PeerHealthStatus{
			ID:      id.String(),
			State:   health.state.String(),
			Missed:  health.missed,
			LastAck: health.lastAck,
		})
	}
	return status
}
