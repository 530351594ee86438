package node

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ringmesh/ringmesh/node/admin"
	"github.com/ringmesh/ringmesh/pkg/chord"
	"github.com/ringmesh/ringmesh/pkg/gossip"
)

type PeerInfo struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

func peerInfoFrom(p chord.Peer) PeerInfo {
	return PeerInfo{
		ID:   p.ID.String(),
		Addr: p.Addr,
	}
}

// RoutingInfo describes the local node's view of the ring.
type RoutingInfo struct {
	Status      string     `json:"status"`
	Self        PeerInfo   `json:"self"`
	Predecessor *PeerInfo  `json:"predecessor"`
	Successors  []PeerInfo `json:"successors"`
	Fingers     []PeerInfo `json:"fingers"`
}

// RingStatus exposes the ring engine's routing state and lookups on the
// admin status API.
type RingStatus struct {
	ring    *chord.Chord
	routing *chord.RoutingTable
}

func NewRingStatus(ring *chord.Chord, routing *chord.RoutingTable) *RingStatus {
	return &RingStatus{
		ring:    ring,
		routing: routing,
	}
}

func (s *RingStatus) Register(group *gin.RouterGroup) {
	group.GET("/routing", s.routingRoute)
	group.GET("/lookup/:key", s.lookupRoute)
}

func (s *RingStatus) routingRoute(c *gin.Context) {
	info := RoutingInfo{
		Status: string(s.ring.Status()),
		Self:   peerInfoFrom(s.routing.Self()),
	}
	if pred, ok := s.routing.Predecessor(); ok {
		predInfo := peerInfoFrom(pred)
		info.Predecessor = &predInfo
	}
	for _, succ := range s.routing.Successors() {
		info.Successors = append(info.Successors, peerInfoFrom(succ))
	}
	// Report distinct finger entries only; most fingers repeat in small
	// rings.
	seen := make(map[chord.ID]struct{})
	for i := 0; i != s.routing.NumFingers(); i++ {
		finger, ok := s.routing.Finger(i)
		if !ok {
			continue
		}
		if _, dup := seen[finger.ID]; dup {
			continue
		}
		seen[finger.ID] = struct{}{}
		info.Fingers = append(info.Fingers, peerInfoFrom(finger))
	}
	c.JSON(http.StatusOK, info)
}

// lookupRoute resolves the node responsible for a key by running a ring
// lookup from the local node.
func (s *RingStatus) lookupRoute(c *gin.Context) {
	key := c.Param("key")

	peer, err := s.ring.FindSuccessor(
		c.Request.Context(), chord.IDFromKey(key),
	)
	if err != nil {
		if c.Request.Context().Err() == context.Canceled {
			c.Status(http.StatusServiceUnavailable)
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"key":  key,
		"id":   chord.IDFromKey(key).String(),
		"peer": peerInfoFrom(peer),
	})
}

// GossipStatus exposes the gossip store and peer health on the admin
// status API.
type GossipStatus struct {
	store    *gossip.Store
	detector *gossip.FailureDetector
}

func NewGossipStatus(
	store *gossip.Store,
	detector *gossip.FailureDetector,
) *GossipStatus {
	return &GossipStatus{
		store:    store,
		detector: detector,
	}
}

func (s *GossipStatus) Register(group *gin.RouterGroup) {
	group.GET("/entries", s.entriesRoute)
	group.GET("/peers", s.peersRoute)
}

// entriesRoute returns every entry in the local store, including
// tombstones.
func (s *GossipStatus) entriesRoute(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.Entries())
}

func (s *GossipStatus) peersRoute(c *gin.Context) {
	c.JSON(http.StatusOK, s.detector.Status())
}

var (
	_ admin.Handler = &RingStatus{}
	_ admin.Handler = &GossipStatus{}
)
