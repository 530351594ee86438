package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ringmesh/ringmesh/node/config"
	"github.com/ringmesh/ringmesh/node/transport"
	"github.com/ringmesh/ringmesh/pkg/chord"
	"github.com/ringmesh/ringmesh/pkg/gossip"
	"github.com/ringmesh/ringmesh/pkg/log"
	"github.com/ringmesh/ringmesh/pkg/scheduler"
)

// statusLogInterval is the interval between periodic node status log
// records.
const statusLogInterval = time.Second * 10

// Node assembles the ring engine, the gossip engine, the failure detector
// and the peer transport into a single cluster member.
//
// The ring maintains who the node's neighbours are; gossip disseminates
// the key-value state to them; the failure detector decides when a
// neighbour is gone, triggering ring repair.
type Node struct {
	conf *config.Config

	self chord.Peer

	routing *chord.RoutingTable
	ring    *chord.Chord

	store    *gossip.Store
	gossiper *gossip.Gossip
	detector *gossip.FailureDetector

	client *transport.Client
	server *transport.Server

	transportMetrics *transport.Metrics

	scheduler *scheduler.Scheduler

	logger log.Logger
}

func NewNode(conf *config.Config, ln net.Listener, logger log.Logger) *Node {
	logger = logger.WithSubsystem("node")

	self := chord.NewPeer(conf.Cluster.AdvertiseAddr)

	routing := chord.NewRoutingTable(self, conf.Chord.SuccessorListLen)

	transportMetrics := transport.NewMetrics()
	client := transport.NewClient(self, transportMetrics, logger)

	ring := chord.NewChord(routing, client, conf.Chord, logger)

	detector := gossip.NewFailureDetector(
		conf.Gossip.DeadThreshold,
		conf.Gossip.DeadPeerExpiry,
	)

	store := gossip.NewStore(self.ID, newLogWatcher(logger))
	gossiper := gossip.NewGossip(
		store,
		routing,
		detector,
		client,
		conf.Gossip,
		logger,
	)

	server := transport.NewServer(
		ln,
		ring,
		routing,
		gossiper,
		conf.Chord.RPCTimeout,
		transportMetrics,
		logger,
	)

	node := &Node{
		conf:             conf,
		self:             self,
		routing:          routing,
		ring:             ring,
		store:            store,
		gossiper:         gossiper,
		detector:         detector,
		client:           client,
		server:           server,
		transportMetrics: transportMetrics,
		scheduler:        scheduler.New(),
		logger:           logger,
	}

	// A peer that failed a maintenance RPC counts as a probe miss; enough
	// misses and the detector declares it dead.
	ring.OnPeerUnreachable(node.handleUnreachablePeer)
	// A dead peer is removed from routing and the successor list repaired.
	gossiper.OnPeerDead(node.handleDeadPeer)
	// Any inbound request proves the sender is alive.
	server.OnInbound(func(p chord.Peer) {
		detector.ReportAck(p.ID)
	})

	return node
}

// Start joins the ring, or creates a new one if no join addresses are
// configured, then starts the background maintenance tasks.
func (n *Node) Start(ctx context.Context) error {
	if len(n.conf.Cluster.Join) == 0 {
		n.ring.Create()
	} else if err := n.join(ctx); err != nil {
		return err
	}

	n.scheduler.Schedule(n.conf.Chord.StabilizeInterval, n.stabilize)
	n.scheduler.Schedule(n.conf.Chord.FixFingersInterval, n.fixFingers)
	n.scheduler.Schedule(n.conf.Gossip.Interval, n.gossipRound)
	n.scheduler.Schedule(n.conf.Gossip.PingInterval, n.pingSweep)
	n.scheduler.Schedule(statusLogInterval, n.logStatus)

	return nil
}

// Serve serves peer connections until the node is closed.
func (n *Node) Serve() error {
	return n.server.Serve()
}

// Leave notifies the node's neighbours that it is leaving so they can
// splice it out of the ring without waiting for failure detection.
func (n *Node) Leave(ctx context.Context) error {
	return n.ring.Leave(ctx)
}

// Close stops the background tasks and the peer server.
func (n *Node) Close() error {
	n.scheduler.Close()
	return n.server.Close()
}

// Put writes a key locally. The update propagates to the rest of the
// cluster via gossip.
func (n *Node) Put(key, value string) {
	n.store.Put(key, value)
}

// Get returns the local view of the key, which may not yet reflect
// updates that are still propagating.
func (n *Node) Get(key string) (string, bool) {
	entry, ok := n.store.Get(key)
	if !ok {
		return "", false
	}
	return entry.Value, true
}

// Delete deletes a key locally. The deletion propagates to the rest of
// the cluster via gossip.
func (n *Node) Delete(key string) {
	n.store.Delete(key)
}

// RegisterMetrics registers the node's metrics with the given registry.
func (n *Node) RegisterMetrics(registry *prometheus.Registry) {
	n.gossiper.Metrics().Register(registry)
	n.transportMetrics.Register(registry)
}

// RingStatus returns the status handler for the ring engine.
func (n *Node) RingStatus() *RingStatus {
	return NewRingStatus(n.ring, n.routing)
}

// GossipStatus returns the status handler for the gossip engine.
func (n *Node) GossipStatus() *GossipStatus {
	return NewGossipStatus(n.store, n.detector)
}

// join attempts to join the ring via each configured join address in
// turn.
func (n *Node) join(ctx context.Context) error {
	var lastErr error
	for _, addr := range n.conf.Cluster.Join {
		bootstrap := chord.NewPeer(addr)
		if bootstrap.ID == n.self.ID {
			continue
		}

		if err := n.ring.Join(ctx, bootstrap); err != nil {
			n.logger.Warn(
				"failed to join via bootstrap",
				zap.String("bootstrap", addr),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("join: %w", lastErr)
	}
	return fmt.Errorf("join: no usable bootstrap address")
}

func (n *Node) stabilize() {
	// Recover ring membership first if the node lost all its successors.
	if n.ring.Status() == chord.StatusJoining {
		n.rejoin()
		return
	}

	ctx, cancel := n.taskContext()
	defer cancel()

	if err := n.ring.Stabilize(ctx); err != nil {
		n.logger.Debug("stabilize failed", zap.Error(err))
	}
}

func (n *Node) fixFingers() {
	if n.ring.Status() != chord.StatusActive {
		return
	}

	ctx, cancel := n.taskContext()
	defer cancel()

	if err := n.ring.FixFingers(ctx); err != nil {
		n.logger.Debug("fix fingers failed", zap.Error(err))
	}
}

func (n *Node) gossipRound() {
	ctx, cancel := context.WithTimeout(
		context.Background(), n.conf.Gossip.RoundTimeout,
	)
	defer cancel()

	n.gossiper.Round(ctx)
}

func (n *Node) pingSweep() {
	ctx, cancel := context.WithTimeout(
		context.Background(), n.conf.Gossip.PingTimeout,
	)
	defer cancel()

	n.gossiper.PingSweep(ctx)
}

// rejoin attempts to recover ring membership after the node became
// isolated, such as when every successor failed at once. Falls back to a
// single-node ring when no bootstrap is configured or reachable.
func (n *Node) rejoin() {
	// Join retries with backoff internally so needs a longer budget than a
	// single RPC.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	if len(n.conf.Cluster.Join) == 0 {
		n.logger.Warn("isolated from ring; continuing as single node ring")
		n.ring.Create()
		return
	}

	if err := n.join(ctx); err != nil {
		n.logger.Warn("failed to rejoin ring", zap.Error(err))
	}
}

func (n *Node) handleUnreachablePeer(p chord.Peer) {
	state, died := n.detector.ReportMiss(p.ID)
	if died {
		n.handleDeadPeer(p)
		return
	}
	if state == gossip.PeerSuspect {
		n.logger.Debug(
			"peer suspected",
			zap.String("peer", p.Addr),
		)
	}
}

// handleDeadPeer removes a failed peer from routing and repairs the
// successor list.
func (n *Node) handleDeadPeer(p chord.Peer) {
	n.logger.Info(
		"removing dead peer",
		zap.String("peer", p.Addr),
		zap.String("id", p.ID.String()),
	)

	ctx, cancel := n.taskContext()
	defer cancel()

	if err := n.ring.RepairSuccessors(ctx, p.ID); err != nil {
		if errors.Is(err, chord.ErrRingInconsistency) {
			// Isolated; the next stabilize tick attempts to rejoin.
			n.logger.Warn("lost all successors", zap.Error(err))
			return
		}
		n.logger.Debug("successor repair failed", zap.Error(err))
	}
}

func (n *Node) taskContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), n.conf.Chord.RPCTimeout)
}

func (n *Node) logStatus() {
	var predecessor string
	if pred, ok := n.routing.Predecessor(); ok {
		predecessor = pred.Addr
	}

	successors := n.routing.Successors()
	successorAddrs := make([]string, 0, len(successors))
	for _, succ := range successors {
		successorAddrs = append(successorAddrs, succ.Addr)
	}

	n.logger.Debug(
		"node status",
		zap.String("status", string(n.ring.Status())),
		zap.String("predecessor", predecessor),
		zap.Strings("successors", successorAddrs),
		zap.Int("known-peers", len(n.routing.Peers())),
		zap.Int("store-entries", n.store.Len()),
	)
}

// logWatcher logs visible state changes applied by remote merges.
type logWatcher struct {
	logger log.Logger
}

func newLogWatcher(logger log.Logger) *logWatcher {
	return &logWatcher{
		logger: logger.WithSubsystem("node.store"),
	}
}

func (w *logWatcher) OnUpsertKey(key, value string) {
	w.logger.Debug(
		"key upserted",
		zap.String("key", key),
		zap.String("value", value),
	)
}

func (w *logWatcher) OnDeleteKey(key string) {
	w.logger.Debug("key deleted", zap.String("key", key))
}

var _ gossip.Watcher = &logWatcher{}
