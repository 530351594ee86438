package gossip

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ringmesh/ringmesh/pkg/chord"
)

func TestFailureDetector_Transitions(t *testing.T) {
	fd := NewFailureDetector(3, time.Minute)
	id := testOrigin(1)

	// Unknown peers are alive.
	assert.Equal(t, PeerAlive, fd.State(id))

	fd.ReportAck(id)
	assert.Equal(t, PeerAlive, fd.State(id))

	// A single miss suspects the peer.
	state, died := fd.ReportMiss(id)
	assert.Equal(t, PeerSuspect, state)
	assert.False(t, died)

	state, died = fd.ReportMiss(id)
	assert.Equal(t, PeerSuspect, state)
	assert.False(t, died)

	// The third consecutive miss declares the peer dead, exactly once.
	state, died = fd.ReportMiss(id)
	assert.Equal(t, PeerDead, state)
	assert.True(t, died)

	state, died = fd.ReportMiss(id)
	assert.Equal(t, PeerDead, state)
	assert.False(t, died)
}

func TestFailureDetector_AckResetsMisses(t *testing.T) {
	fd := NewFailureDetector(3, time.Minute)
	id := testOrigin(1)

	fd.ReportMiss(id)
	fd.ReportMiss(id)
	fd.ReportAck(id)
	assert.Equal(t, PeerAlive, fd.State(id))

	// The miss counter restarted from zero.
	state, died := fd.ReportMiss(id)
	assert.Equal(t, PeerSuspect, state)
	assert.False(t, died)
}

func TestFailureDetector_Usable(t *testing.T) {
	fd := NewFailureDetector(2, time.Minute)

	alive := chord.Peer{ID: testOrigin(1)}
	suspect := chord.Peer{ID: testOrigin(2)}
	dead := chord.Peer{ID: testOrigin(3)}

	fd.ReportAck(alive.ID)
	fd.ReportMiss(suspect.ID)
	fd.ReportMiss(dead.ID)
	fd.ReportMiss(dead.ID)

	// Suspect peers are still gossiped with; dead peers are not.
	assert.True(t, fd.Usable(alive))
	assert.True(t, fd.Usable(suspect))
	assert.False(t, fd.Usable(dead))
}

func TestFailureDetector_RemoveExpired(t *testing.T) {
	fd := NewFailureDetector(1, 0)
	id := testOrigin(1)

	fd.ReportMiss(id)
	assert.Equal(t, PeerDead, fd.State(id))

	removed := fd.RemoveExpired()
	assert.Equal(t, []chord.ID{id}, removed)

	// Purged peers are forgotten entirely.
	assert.Equal(t, PeerAlive, fd.State(id))
}

func TestFailureDetector_Remove(t *testing.T) {
	fd := NewFailureDetector(3, time.Minute)
	id := testOrigin(1)

	fd.ReportMiss(id)
	fd.Remove(id)
	assert.Equal(t, PeerAlive, fd.State(id))
	assert.Empty(t, fd.Status())
}
