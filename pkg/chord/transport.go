package chord

import "context"

// Transport sends ring maintenance RPCs to remote peers.
//
// Calls are blocking with a per-call timeout and must be safe for concurrent
// use. A call that times out returns an error wrapping ErrTransportTimeout;
// callers must never hold a routing lock across a call.
type Transport interface {
	// FindSuccessor asks peer for the successor of id. hops is the number of
	// times the lookup has already been forwarded.
	FindSuccessor(ctx context.Context, peer Peer, id ID, hops int) (Peer, error)

	// GetPredecessor asks peer for its current predecessor. ok is false if
	// the peer has none.
	GetPredecessor(ctx context.Context, peer Peer) (pred Peer, ok bool, err error)

	// GetSuccessorList asks peer for its successor list, ordered by ring
	// distance ascending.
	GetSuccessorList(ctx context.Context, peer Peer) ([]Peer, error)

	// Notify hints to peer that candidate may be its predecessor. The
	// response piggybacks the peer's successor list so one stabilize round
	// trip also refreshes the caller's list.
	Notify(ctx context.Context, peer Peer, candidate Peer) ([]Peer, error)

	// Ping probes peer for liveness.
	Ping(ctx context.Context, peer Peer) error
}
