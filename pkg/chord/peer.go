package chord

// Peer identifies a node on the ring by its identifier and the transport
// address other nodes use to reach it.
//
// Peer is a value type compared by ID. The same peer value may appear in the
// successor list and multiple finger entries at once; routing structures
// store copies, never owning references.
type Peer struct {
	ID   ID     `json:"id"`
	Addr string `json:"addr"`
}

// NewPeer creates the peer for the node with the given advertised address.
func NewPeer(addr string) Peer {
	return Peer{
		ID:   IDFromAddr(addr),
		Addr: addr,
	}
}

// IsZero returns whether the peer is unset.
func (p Peer) IsZero() bool {
	return p.Addr == "" && p.ID == ID{}
}
