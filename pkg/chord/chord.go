package chord

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/ringmesh/ringmesh/pkg/backoff"
	"github.com/ringmesh/ringmesh/pkg/log"
)

// Status is the ring membership state of the local node.
type Status string

const (
	// StatusJoining means the node has not yet located its successor on the
	// ring, either because it just started or because it was isolated and
	// must re-join.
	StatusJoining Status = "joining"
	// StatusActive means the node is a ring member.
	StatusActive Status = "active"
	// StatusLeaving means the node is gracefully leaving the ring.
	StatusLeaving Status = "leaving"
)

const (
	joinMinBackoff = time.Millisecond * 100
	joinMaxBackoff = time.Second * 2
)

// Chord maintains the local node's position on the ring: joining, lookups,
// stabilization, finger refresh and successor repair.
//
// All remote communication goes through the Transport; no routing lock is
// ever held across a network wait.
type Chord struct {
	routing *RoutingTable

	transport Transport

	conf Config

	status *atomic.String

	// fixFingerNext is the next finger index to refresh. Only accessed from
	// the fix-fingers scheduler task.
	fixFingerNext int

	// onUnreachable reports a peer that failed to respond to an RPC, feeding
	// the failure detector.
	onUnreachable func(Peer)

	logger log.Logger
}

func NewChord(
	routing *RoutingTable,
	transport Transport,
	conf Config,
	logger log.Logger,
) *Chord {
	return &Chord{
		routing:   routing,
		transport: transport,
		conf:      conf,
		status:    atomic.NewString(string(StatusJoining)),
		logger:    logger.WithSubsystem("chord"),
	}
}

func (c *Chord) Status() Status {
	return Status(c.status.Load())
}

// OnPeerUnreachable registers a callback reporting peers that failed to
// respond to a ring maintenance RPC. Must be set before the engine starts.
func (c *Chord) OnPeerUnreachable(f func(Peer)) {
	c.onUnreachable = f
}

// Create starts a new ring with the local node as the only member.
func (c *Chord) Create() {
	// Reset to a self-successor ring. After an isolation event the
	// successor list may be empty.
	c.routing.UpdateSuccessors(nil)
	c.routing.ClearPredecessor()
	c.status.Store(string(StatusActive))
	c.logger.Info(
		"created ring",
		zap.String("node-id", c.routing.Self().ID.String()),
	)
}

// Join joins the ring via the given bootstrap peer by asking it to locate
// the successor of the local node's identifier.
//
// Retries with backoff up to the configured retry budget; if the bootstrap
// stays unreachable the join fails with an error wrapping ErrJoin and the
// caller should retry with a different bootstrap.
func (c *Chord) Join(ctx context.Context, bootstrap Peer) error {
	self := c.routing.Self()

	var succ Peer
	var lastErr error
	b := backoff.New(c.conf.JoinRetries, joinMinBackoff, joinMaxBackoff)
	for {
		rpcCtx, cancel := context.WithTimeout(ctx, c.conf.RPCTimeout)
		succ, lastErr = c.transport.FindSuccessor(rpcCtx, bootstrap, self.ID, 0)
		cancel()
		if lastErr == nil {
			break
		}

		c.logger.Warn(
			"join: find successor failed",
			zap.String("bootstrap", bootstrap.Addr),
			zap.Error(lastErr),
		)
		if !b.Wait(ctx) {
			return fmt.Errorf("join: %s: %w: %s", bootstrap.Addr, ErrJoin, lastErr)
		}
	}

	if succ.ID == self.ID {
		return fmt.Errorf("join: %s: identifier already on the ring", self.ID)
	}

	// Bootstrap the successor list from the new successor's own list. If
	// this fails we still adopt the successor alone; stabilize will backfill
	// the tail.
	successors := []Peer{succ}
	rpcCtx, cancel := context.WithTimeout(ctx, c.conf.RPCTimeout)
	list, err := c.transport.GetSuccessorList(rpcCtx, succ)
	cancel()
	if err != nil {
		c.logger.Warn(
			"join: get successor list failed",
			zap.String("successor", succ.Addr),
			zap.Error(err),
		)
	} else {
		successors = append(successors, list...)
	}

	c.routing.ClearPredecessor()
	c.routing.UpdateSuccessors(successors)
	c.status.Store(string(StatusActive))

	c.logger.Info(
		"joined ring",
		zap.String("node-id", self.ID.String()),
		zap.String("successor", succ.Addr),
	)
	return nil
}

// FindSuccessor returns the peer responsible for id: the first node whose
// identifier equals or follows id on the ring.
func (c *Chord) FindSuccessor(ctx context.Context, id ID) (Peer, error) {
	return c.findSuccessor(ctx, id, 0)
}

// HandleFindSuccessor resolves a lookup forwarded by a remote peer. hops is
// the number of times the lookup has already been forwarded.
func (c *Chord) HandleFindSuccessor(ctx context.Context, id ID, hops int) (Peer, error) {
	return c.findSuccessor(ctx, id, hops)
}

func (c *Chord) findSuccessor(ctx context.Context, id ID, hops int) (Peer, error) {
	if hops >= c.conf.HopBudget {
		return Peer{}, fmt.Errorf("find successor: %w", ErrLookupExhausted)
	}

	self := c.routing.Self()
	succ, ok := c.routing.Successor()
	if !ok {
		return Peer{}, fmt.Errorf("find successor: %w", ErrRingInconsistency)
	}

	// Single node ring: the successor of every identifier is self.
	if succ.ID == self.ID {
		return self, nil
	}

	if BetweenRightIncl(id, self.ID, succ.ID) {
		return succ, nil
	}

	next := c.routing.ClosestPreceding(id)
	if next.ID == self.ID {
		// No better hop known; the successor is the best answer we have.
		return succ, nil
	}

	rpcCtx, cancel := context.WithTimeout(ctx, c.conf.RPCTimeout)
	defer cancel()

	p, err := c.transport.FindSuccessor(rpcCtx, next, id, hops+1)
	if err != nil {
		c.reportUnreachable(next, err)
		return Peer{}, fmt.Errorf("find successor: forward: %s: %w", next.Addr, err)
	}
	return p, nil
}

// Stabilize runs one round of the stabilize protocol: ask the successor for
// its predecessor, adopt it if it sits between us and the successor, then
// notify the successor of ourselves. The notify response piggybacks the
// successor's successor list, which refreshes our own.
func (c *Chord) Stabilize(ctx context.Context) error {
	self := c.routing.Self()
	successors := c.routing.Successors()
	if len(successors) == 0 {
		return fmt.Errorf("stabilize: %w", ErrRingInconsistency)
	}

	if successors[0].ID == self.ID {
		c.checkPredecessor(ctx)

		pred, ok := c.routing.Predecessor()
		if !ok || pred.ID == self.ID {
			// Only member of the ring; nothing to stabilize.
			return nil
		}
		// A node joined with us as its bootstrap and notified us. Adopt it
		// as our successor to close the two node ring.
		c.routing.UpdateSuccessors([]Peer{pred})
		successors = c.routing.Successors()
	}

	// Find the first reachable successor.
	var (
		succ     Peer
		succPred Peer
		hasPred  bool
		found    int = -1
	)
	for i, s := range successors {
		rpcCtx, cancel := context.WithTimeout(ctx, c.conf.RPCTimeout)
		pred, ok, err := c.transport.GetPredecessor(rpcCtx, s)
		cancel()
		if err != nil {
			c.reportUnreachable(s, err)
			continue
		}
		succ = s
		succPred = pred
		hasPred = ok
		found = i
		break
	}
	if found == -1 {
		return fmt.Errorf("stabilize: no reachable successor")
	}
	if found > 0 {
		// Unreachable entries precede the live successor; shift them off.
		c.routing.UpdateSuccessors(successors[found:])
	}

	if hasPred && succPred.ID != self.ID &&
		(succ.ID == self.ID || Between(succPred.ID, self.ID, succ.ID)) {
		// The successor knows a closer node; adopt it if it is alive.
		rpcCtx, cancel := context.WithTimeout(ctx, c.conf.RPCTimeout)
		err := c.transport.Ping(rpcCtx, succPred)
		cancel()
		if err == nil {
			succ = succPred
		} else {
			c.reportUnreachable(succPred, err)
		}
	}

	rpcCtx, cancel := context.WithTimeout(ctx, c.conf.RPCTimeout)
	list, err := c.transport.Notify(rpcCtx, succ, self)
	cancel()
	if err != nil {
		c.reportUnreachable(succ, err)
		return fmt.Errorf("stabilize: notify: %s: %w", succ.Addr, err)
	}

	c.routing.UpdateSuccessors(append([]Peer{succ}, list...))

	c.checkPredecessor(ctx)
	return nil
}

// FixFingers refreshes a single finger table entry, round-robining through
// the table across calls.
func (c *Chord) FixFingers(ctx context.Context) error {
	i := c.fixFingerNext
	c.fixFingerNext = (c.fixFingerNext + 1) % c.routing.NumFingers()

	p, err := c.findSuccessor(ctx, c.routing.FingerStart(i), 0)
	if err != nil {
		return fmt.Errorf("fix fingers: %d: %w", i, err)
	}
	c.routing.RefreshFinger(i, p)
	return nil
}

// HandleNotify processes a predecessor-candidate hint from a remote peer and
// returns the successor list for the caller to refresh its own.
//
// During stabilization the sender hints itself. A leaving node instead
// hints its own predecessor; when the sender is our current predecessor we
// drop it so the candidate can take its place immediately rather than
// waiting for failure detection.
func (c *Chord) HandleNotify(from, candidate Peer) []Peer {
	if from.ID != candidate.ID {
		if pred, ok := c.routing.Predecessor(); ok && pred.ID == from.ID {
			c.routing.ClearPredecessor()
		}
	}
	if c.routing.UpdatePredecessor(candidate) {
		c.logger.Debug(
			"adopted predecessor",
			zap.String("predecessor", candidate.Addr),
		)
	}
	return c.routing.Successors()
}

// RepairSuccessors purges a peer declared dead by the failure detector. If
// the successor list head was removed the tail is backfilled from the new
// head's own list. If the list empties the node is isolated and the error
// wraps ErrRingInconsistency; the caller must re-join via a bootstrap.
func (c *Chord) RepairSuccessors(ctx context.Context, dead ID) error {
	headRemoved := c.routing.RemovePeer(dead)

	successors := c.routing.Successors()
	if len(successors) == 0 {
		c.status.Store(string(StatusJoining))
		return fmt.Errorf("repair successors: %w", ErrRingInconsistency)
	}
	if !headRemoved {
		return nil
	}

	head := successors[0]
	if head.ID == c.routing.Self().ID {
		return nil
	}

	rpcCtx, cancel := context.WithTimeout(ctx, c.conf.RPCTimeout)
	list, err := c.transport.GetSuccessorList(rpcCtx, head)
	cancel()
	if err != nil {
		// Leave the shortened list; stabilize will backfill.
		c.reportUnreachable(head, err)
		return nil
	}

	// The head's list may still contain the dead peer.
	backfill := []Peer{head}
	for _, p := range list {
		if p.ID != dead {
			backfill = append(backfill, p)
		}
	}
	c.routing.UpdateSuccessors(backfill)
	return nil
}

// Leave gracefully leaves the ring by hinting to the successor that our
// predecessor is its new predecessor candidate, splicing the ring around
// us. The predecessor is not notified directly; its next stabilize round
// discovers the departure and adopts the successor, so remaining pointers
// converge via stabilization and failure detection.
func (c *Chord) Leave(ctx context.Context) error {
	c.status.Store(string(StatusLeaving))

	self := c.routing.Self()
	succ, ok := c.routing.Successor()
	if !ok || succ.ID == self.ID {
		return nil
	}
	pred, hasPred := c.routing.Predecessor()
	if !hasPred {
		return nil
	}

	rpcCtx, cancel := context.WithTimeout(ctx, c.conf.RPCTimeout)
	defer cancel()

	if _, err := c.transport.Notify(rpcCtx, succ, pred); err != nil {
		return fmt.Errorf("leave: notify: %s: %w", succ.Addr, err)
	}

	c.logger.Info("left ring", zap.String("successor", succ.Addr))
	return nil
}

func (c *Chord) checkPredecessor(ctx context.Context) {
	pred, ok := c.routing.Predecessor()
	if !ok || pred.ID == c.routing.Self().ID {
		return
	}

	rpcCtx, cancel := context.WithTimeout(ctx, c.conf.RPCTimeout)
	defer cancel()

	if err := c.transport.Ping(rpcCtx, pred); err != nil {
		c.reportUnreachable(pred, err)
		c.routing.ClearPredecessor()
	}
}

func (c *Chord) reportUnreachable(p Peer, err error) {
	c.logger.Debug(
		"peer unreachable",
		zap.String("addr", p.Addr),
		zap.Error(err),
	)
	if c.onUnreachable != nil {
		c.onUnreachable(p)
	}
}
