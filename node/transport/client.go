package transport

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/ringmesh/ringmesh/pkg/chord"
	"github.com/ringmesh/ringmesh/pkg/gossip"
	"github.com/ringmesh/ringmesh/pkg/log"
)

// Client sends ring maintenance and gossip RPCs over TCP.
//
// Each call dials the target, sends a single request and reads the
// response. The context deadline bounds the whole call including the
// dial; a deadline hit is reported as chord.ErrTransportTimeout so
// callers can distinguish unreachable peers from remote failures.
//
// Client implements both chord.Transport and gossip.Transport.
type Client struct {
	// local is the advertised local peer, sent with every request so the
	// receiver knows who is calling.
	local chord.Peer

	metrics *Metrics

	logger log.Logger
}

func NewClient(local chord.Peer, metrics *Metrics, logger log.Logger) *Client {
	return &Client{
		local:   local,
		metrics: metrics,
		logger:  logger.WithSubsystem("transport.client"),
	}
}

func (c *Client) FindSuccessor(
	ctx context.Context,
	peer chord.Peer,
	id chord.ID,
	hops int,
) (chord.Peer, error) {
	req := &findSuccessorRequest{
		From: peerToWire(c.local),
		ID:   id[:],
		Hops: hops,
	}
	var resp findSuccessorResponse
	if err := c.call(ctx, peer.Addr, typeFindSuccessor, req, &resp); err != nil {
		return chord.Peer{}, err
	}
	if resp.Error != nil {
		return chord.Peer{}, resp.Error.unwrap()
	}
	return peerFromWire(resp.Peer), nil
}

func (c *Client) GetPredecessor(
	ctx context.Context,
	peer chord.Peer,
) (chord.Peer, bool, error) {
	req := &getPredecessorRequest{
		From: peerToWire(c.local),
	}
	var resp getPredecessorResponse
	if err := c.call(ctx, peer.Addr, typeGetPredecessor, req, &resp); err != nil {
		return chord.Peer{}, false, err
	}
	if resp.Error != nil {
		return chord.Peer{}, false, resp.Error.unwrap()
	}
	if !resp.Ok {
		return chord.Peer{}, false, nil
	}
	return peerFromWire(resp.Peer), true, nil
}

func (c *Client) GetSuccessorList(
	ctx context.Context,
	peer chord.Peer,
) ([]chord.Peer, error) {
	req := &getSuccessorListRequest{
		From: peerToWire(c.local),
	}
	var resp getSuccessorListResponse
	if err := c.call(ctx, peer.Addr, typeGetSuccessorList, req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error.unwrap()
	}
	return peersFromWire(resp.Peers), nil
}

func (c *Client) Notify(
	ctx context.Context,
	peer chord.Peer,
	candidate chord.Peer,
) ([]chord.Peer, error) {
	req := &notifyRequest{
		From:      peerToWire(c.local),
		Candidate: peerToWire(candidate),
	}
	var resp notifyResponse
	if err := c.call(ctx, peer.Addr, typeNotify, req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error.unwrap()
	}
	return peersFromWire(resp.Peers), nil
}

func (c *Client) Ping(ctx context.Context, peer chord.Peer) error {
	req := &pingRequest{
		From: peerToWire(c.local),
	}
	var resp pingResponse
	if err := c.call(ctx, peer.Addr, typePing, req, &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error.unwrap()
	}
	return nil
}

func (c *Client) Digest(
	ctx context.Context,
	peer chord.Peer,
	digest gossip.Digest,
) (gossip.Digest, error) {
	req := &gossipDigestRequest{
		From:   peerToWire(c.local),
		Digest: digest,
	}
	var resp gossipDigestResponse
	if err := c.call(ctx, peer.Addr, typeGossipDigest, req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error.unwrap()
	}
	return resp.Digest, nil
}

func (c *Client) Pull(
	ctx context.Context,
	peer chord.Peer,
	keys []string,
) ([]gossip.Entry, error) {
	req := &gossipPullRequest{
		From: peerToWire(c.local),
		Keys: keys,
	}
	var resp gossipPullResponse
	if err := c.call(ctx, peer.Addr, typeGossipPull, req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error.unwrap()
	}
	return resp.Entries, nil
}

func (c *Client) Push(
	ctx context.Context,
	peer chord.Peer,
	entries []gossip.Entry,
) error {
	req := &gossipPushRequest{
		From:    peerToWire(c.local),
		Entries: entries,
	}
	var resp gossipPushResponse
	if err := c.call(ctx, peer.Addr, typeGossipPush, req, &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error.unwrap()
	}
	return nil
}

// call dials addr, sends a single request of the given type and decodes
// the response into resp.
func (c *Client) call(
	ctx context.Context,
	addr string,
	t messageType,
	req interface{},
	resp interface{},
) error {
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, classifyErr(err))
	}
	defer conn.Close()

	c.metrics.OutboundConnections.Inc()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return fmt.Errorf("set deadline: %w", err)
		}
	}

	if err := encodeMessage(conn, t, req); err != nil {
		return fmt.Errorf("%s: %s: %w", t, addr, classifyErr(err))
	}

	respType, err := decodeHeader(conn)
	if err != nil {
		return fmt.Errorf("%s: %s: %w", t, addr, classifyErr(err))
	}
	if respType != t {
		return fmt.Errorf("%s: %s: unexpected response type: %s", t, addr, respType)
	}
	if err := decodePayload(conn, resp); err != nil {
		return fmt.Errorf("%s: %s: %w", t, addr, classifyErr(err))
	}
	return nil
}

// classifyErr maps network timeouts onto chord.ErrTransportTimeout so the
// ring engine can treat the peer as unreachable rather than broken.
func classifyErr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s", chord.ErrTransportTimeout, err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", chord.ErrTransportTimeout, err.Error())
	}
	return err
}

var (
	_ chord.Transport  = &Client{}
	_ gossip.Transport = &Client{}
)
