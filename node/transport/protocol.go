package transport

import (
	"errors"
	"fmt"
	"io"

	"github.com/ugorji/go/codec"

	"github.com/ringmesh/ringmesh/pkg/chord"
	"github.com/ringmesh/ringmesh/pkg/gossip"
)

// protocolVersion is the supported wire format version.
const protocolVersion = uint8(1)

// messageType is the first byte of every message on the wire, identifying
// the request or response payload that follows. The second byte is the
// protocol version, then the msgpack encoded payload.
type messageType uint8

const (
	typeFindSuccessor messageType = iota + 1
	typeGetPredecessor
	typeGetSuccessorList
	typeNotify
	typePing
	typeGossipDigest
	typeGossipPull
	typeGossipPush
)

func (t messageType) String() string {
	switch t {
	case typeFindSuccessor:
		return "find-successor"
	case typeGetPredecessor:
		return "get-predecessor"
	case typeGetSuccessorList:
		return "get-successor-list"
	case typeNotify:
		return "notify"
	case typePing:
		return "ping"
	case typeGossipDigest:
		return "gossip-digest"
	case typeGossipPull:
		return "gossip-pull"
	case typeGossipPush:
		return "gossip-push"
	default:
		return "unknown"
	}
}

const (
	errCodeLookupExhausted = "lookup_exhausted"
	errCodeInternal        = "internal"
)

// wireError carries a handler error back to the caller. Code identifies
// sentinel errors the caller maps back to typed errors.
type wireError struct {
	Code    string `codec:"code"`
	Message string `codec:"message"`
}

func newWireError(err error) *wireError {
	if errors.Is(err, chord.ErrLookupExhausted) {
		return &wireError{Code: errCodeLookupExhausted, Message: err.Error()}
	}
	return &wireError{Code: errCodeInternal, Message: err.Error()}
}

// unwrap maps the wire error back to a local error, restoring sentinels.
func (e *wireError) unwrap() error {
	switch e.Code {
	case errCodeLookupExhausted:
		return fmt.Errorf("remote: %s: %w", e.Message, chord.ErrLookupExhausted)
	default:
		return fmt.Errorf("remote: %s", e.Message)
	}
}

type wirePeer struct {
	ID   []byte `codec:"id"`
	Addr string `codec:"addr"`
}

func peerToWire(p chord.Peer) wirePeer {
	return wirePeer{
		ID:   p.ID[:],
		Addr: p.Addr,
	}
}

func peerFromWire(p wirePeer) chord.Peer {
	var id chord.ID
	copy(id[:], p.ID)
	return chord.Peer{
		ID:   id,
		Addr: p.Addr,
	}
}

func peersToWire(peers []chord.Peer) []wirePeer {
	wire := make([]wirePeer, 0, len(peers))
	for _, p := range peers {
		wire = append(wire, peerToWire(p))
	}
	return wire
}

func peersFromWire(wire []wirePeer) []chord.Peer {
	peers := make([]chord.Peer, 0, len(wire))
	for _, p := range wire {
		peers = append(peers, peerFromWire(p))
	}
	return peers
}

type findSuccessorRequest struct {
	From wirePeer `codec:"from"`
	ID   []byte   `codec:"id"`
	Hops int      `codec:"hops"`
}

type findSuccessorResponse struct {
	Peer  wirePeer   `codec:"peer"`
	Error *wireError `codec:"error"`
}

type getPredecessorRequest struct {
	From wirePeer `codec:"from"`
}

type getPredecessorResponse struct {
	Peer  wirePeer   `codec:"peer"`
	Ok    bool       `codec:"ok"`
	Error *wireError `codec:"error"`
}

type getSuccessorListRequest struct {
	From wirePeer `codec:"from"`
}

type getSuccessorListResponse struct {
	Peers []wirePeer `codec:"peers"`
	Error *wireError `codec:"error"`
}

type notifyRequest struct {
	From      wirePeer `codec:"from"`
	Candidate wirePeer `codec:"candidate"`
}

type notifyResponse struct {
	// Peers is the receiver's successor list, piggybacked so a stabilize
	// round trip also refreshes the caller's list.
	Peers []wirePeer `codec:"peers"`
	Error *wireError `codec:"error"`
}

type pingRequest struct {
	From wirePeer `codec:"from"`
}

type pingResponse struct {
	Error *wireError `codec:"error"`
}

type gossipDigestRequest struct {
	From   wirePeer      `codec:"from"`
	Digest gossip.Digest `codec:"digest"`
}

type gossipDigestResponse struct {
	Digest gossip.Digest `codec:"digest"`
	Error  *wireError    `codec:"error"`
}

type gossipPullRequest struct {
	From wirePeer `codec:"from"`
	Keys []string `codec:"keys"`
}

type gossipPullResponse struct {
	Entries []gossip.Entry `codec:"entries"`
	Error   *wireError     `codec:"error"`
}

type gossipPushRequest struct {
	From    wirePeer       `codec:"from"`
	Entries []gossip.Entry `codec:"entries"`
}

type gossipPushResponse struct {
	Error *wireError `codec:"error"`
}

func encodeMessage(w io.Writer, t messageType, payload interface{}) error {
	if _, err := w.Write([]byte{uint8(t), protocolVersion}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	handle := &codec.MsgpackHandle{}
	if err := codec.NewEncoder(w, handle).Encode(payload); err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return nil
}

func decodeHeader(r io.Reader) (messageType, error) {
	header := make([]byte, 2)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, err
	}
	if header[1] != protocolVersion {
		return 0, fmt.Errorf("unsupported protocol version: %d", header[1])
	}
	return messageType(header[0]), nil
}

func decodePayload(r io.Reader, payload interface{}) error {
	handle := &codec.MsgpackHandle{}
	if err := codec.NewDecoder(r, handle).Decode(payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
