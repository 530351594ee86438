package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/ringmesh/ringmesh/pkg/chord"
	"github.com/ringmesh/ringmesh/pkg/gossip"
	"github.com/ringmesh/ringmesh/pkg/log"
)

// connIdleTimeout bounds how long the server waits for the next request
// on an idle connection.
const connIdleTimeout = time.Minute

// ChordHandler handles inbound ring maintenance requests.
type ChordHandler interface {
	// HandleFindSuccessor resolves the successor of id, forwarding the
	// lookup around the ring if needed.
	HandleFindSuccessor(ctx context.Context, id chord.ID, hops int) (chord.Peer, error)

	// HandleNotify processes a predecessor hint from a remote peer and
	// returns the local successor list.
	HandleNotify(from, candidate chord.Peer) []chord.Peer
}

// GossipHandler handles inbound anti-entropy requests.
type GossipHandler interface {
	HandleDigest(from chord.Peer, digest gossip.Digest) gossip.Digest
	HandlePull(from chord.Peer, keys []string) []gossip.Entry
	HandlePush(from chord.Peer, entries []gossip.Entry)
}

// Server accepts peer connections and dispatches ring maintenance and
// gossip requests to the local engines.
//
// Connections are persistent: a peer may send any number of sequential
// requests before closing. Each accepted connection is served on its own
// goroutine.
type Server struct {
	ln net.Listener

	chord   ChordHandler
	routing *chord.RoutingTable
	gossip  GossipHandler

	// onInbound, if set, is called with the sender of every inbound
	// request, feeding the failure detector.
	onInbound func(chord.Peer)

	// requestTimeout bounds handling of a single request, including any
	// lookups forwarded to other peers.
	requestTimeout time.Duration

	metrics *Metrics

	logger log.Logger
}

func NewServer(
	ln net.Listener,
	chordHandler ChordHandler,
	routing *chord.RoutingTable,
	gossipHandler GossipHandler,
	requestTimeout time.Duration,
	metrics *Metrics,
	logger log.Logger,
) *Server {
	return &Server{
		ln:             ln,
		chord:          chordHandler,
		routing:        routing,
		gossip:         gossipHandler,
		requestTimeout: requestTimeout,
		metrics:        metrics,
		logger:         logger.WithSubsystem("transport.server"),
	}
}

// OnInbound registers a callback invoked with the sender of every inbound
// request. Must be set before Serve.
func (s *Server) OnInbound(f func(chord.Peer)) {
	s.onInbound = f
}

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		s.metrics.InboundConnections.Inc()
		go s.serveConn(conn)
	}
}

// Close closes the listener, which unblocks Serve.
func (s *Server) Close() error {
	return s.ln.Close()
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(connIdleTimeout)); err != nil {
			return
		}

		t, err := decodeHeader(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug(
					"failed to read request header",
					zap.String("remote", conn.RemoteAddr().String()),
					zap.Error(err),
				)
			}
			return
		}

		if err := s.handleRequest(conn, t); err != nil {
			s.metrics.RequestErrors.With(prometheusTypeLabel(t)).Inc()
			s.logger.Debug(
				"failed to handle request",
				zap.String("type", t.String()),
				zap.String("remote", conn.RemoteAddr().String()),
				zap.Error(err),
			)
			return
		}
		s.metrics.Requests.With(prometheusTypeLabel(t)).Inc()
	}
}

func (s *Server) handleRequest(conn net.Conn, t messageType) error {
	if err := conn.SetWriteDeadline(time.Now().Add(s.requestTimeout)); err != nil {
		return err
	}

	switch t {
	case typeFindSuccessor:
		return s.handleFindSuccessor(conn)
	case typeGetPredecessor:
		return s.handleGetPredecessor(conn)
	case typeGetSuccessorList:
		return s.handleGetSuccessorList(conn)
	case typeNotify:
		return s.handleNotify(conn)
	case typePing:
		return s.handlePing(conn)
	case typeGossipDigest:
		return s.handleGossipDigest(conn)
	case typeGossipPull:
		return s.handleGossipPull(conn)
	case typeGossipPush:
		return s.handleGossipPush(conn)
	default:
		return errors.New("unknown message type")
	}
}

func (s *Server) handleFindSuccessor(conn net.Conn) error {
	var req findSuccessorRequest
	if err := decodePayload(conn, &req); err != nil {
		return err
	}
	s.reportInbound(req.From)

	ctx, cancel := context.WithTimeout(context.Background(), s.requestTimeout)
	defer cancel()

	var id chord.ID
	copy(id[:], req.ID)

	var resp findSuccessorResponse
	peer, err := s.chord.HandleFindSuccessor(ctx, id, req.Hops)
	if err != nil {
		resp.Error = newWireError(err)
	} else {
		resp.Peer = peerToWire(peer)
	}
	return encodeMessage(conn, typeFindSuccessor, &resp)
}

func (s *Server) handleGetPredecessor(conn net.Conn) error {
	var req getPredecessorRequest
	if err := decodePayload(conn, &req); err != nil {
		return err
	}
	s.reportInbound(req.From)

	var resp getPredecessorResponse
	if pred, ok := s.routing.Predecessor(); ok {
		resp.Peer = peerToWire(pred)
		resp.Ok = true
	}
	return encodeMessage(conn, typeGetPredecessor, &resp)
}

func (s *Server) handleGetSuccessorList(conn net.Conn) error {
	var req getSuccessorListRequest
	if err := decodePayload(conn, &req); err != nil {
		return err
	}
	s.reportInbound(req.From)

	resp := getSuccessorListResponse{
		Peers: peersToWire(s.routing.Successors()),
	}
	return encodeMessage(conn, typeGetSuccessorList, &resp)
}

func (s *Server) handleNotify(conn net.Conn) error {
	var req notifyRequest
	if err := decodePayload(conn, &req); err != nil {
		return err
	}
	s.reportInbound(req.From)

	successors := s.chord.HandleNotify(
		peerFromWire(req.From), peerFromWire(req.Candidate),
	)
	resp := notifyResponse{
		Peers: peersToWire(successors),
	}
	return encodeMessage(conn, typeNotify, &resp)
}

func (s *Server) handlePing(conn net.Conn) error {
	var req pingRequest
	if err := decodePayload(conn, &req); err != nil {
		return err
	}
	s.reportInbound(req.From)

	return encodeMessage(conn, typePing, &pingResponse{})
}

func (s *Server) handleGossipDigest(conn net.Conn) error {
	var req gossipDigestRequest
	if err := decodePayload(conn, &req); err != nil {
		return err
	}

	digest := s.gossip.HandleDigest(peerFromWire(req.From), req.Digest)
	resp := gossipDigestResponse{
		Digest: digest,
	}
	return encodeMessage(conn, typeGossipDigest, &resp)
}

func (s *Server) handleGossipPull(conn net.Conn) error {
	var req gossipPullRequest
	if err := decodePayload(conn, &req); err != nil {
		return err
	}

	entries := s.gossip.HandlePull(peerFromWire(req.From), req.Keys)
	resp := gossipPullResponse{
		Entries: entries,
	}
	return encodeMessage(conn, typeGossipPull, &resp)
}

func (s *Server) handleGossipPush(conn net.Conn) error {
	var req gossipPushRequest
	if err := decodePayload(conn, &req); err != nil {
		return err
	}

	s.gossip.HandlePush(peerFromWire(req.From), req.Entries)
	return encodeMessage(conn, typeGossipPush, &gossipPushResponse{})
}

func (s *Server) reportInbound(from wirePeer) {
	if s.onInbound == nil || from.Addr == "" {
		return
	}
	s.onInbound(peerFromWire(from))
}

func prometheusTypeLabel(t messageType) map[string]string {
	return map[string]string{"type": t.String()}
}
