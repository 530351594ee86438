package chord

import "errors"

var (
	// ErrTransportTimeout indicates an RPC to a remote peer did not complete
	// within its timeout. Always recoverable; the caller reports the peer to
	// the failure detector and moves on.
	ErrTransportTimeout = errors.New("transport timeout")

	// ErrJoin indicates no bootstrap node could be reached within the join
	// retry budget. Recoverable by retrying with another bootstrap.
	ErrJoin = errors.New("bootstrap unreachable")

	// ErrLookupExhausted indicates a lookup exceeded its hop budget, which
	// only happens when the routing state is corrupted. The caller should
	// retry after a brief delay once stabilization has repaired the ring.
	ErrLookupExhausted = errors.New("lookup exhausted hop budget")

	// ErrRingInconsistency indicates the successor list emptied so the node
	// is isolated from the ring. The node must re-join via a bootstrap.
	ErrRingInconsistency = errors.New("successor list empty")
)
