package gossip

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ringmesh/ringmesh/pkg/chord"
	"github.com/ringmesh/ringmesh/pkg/log"
)

// Transport sends gossip messages to remote peers.
type Transport interface {
	// Digest exchanges state digests with the peer, returning the peer's
	// digest.
	Digest(ctx context.Context, peer chord.Peer, digest Digest) (Digest, error)

	// Pull fetches the full entries for the given keys from the peer.
	Pull(ctx context.Context, peer chord.Peer, keys []string) ([]Entry, error)

	// Push sends full entries to the peer to merge.
	Push(ctx context.Context, peer chord.Peer, entries []Entry) error

	// Ping probes the peer for liveness.
	Ping(ctx context.Context, peer chord.Peer) error
}

// PeerSampler selects known remote peers to gossip with.
type PeerSampler interface {
	// SamplePeers returns up to k distinct remote peers matching the
	// include filter.
	SamplePeers(k int, include func(chord.Peer) bool) []chord.Peer

	// Peers returns all distinct known remote peers.
	Peers() []chord.Peer
}

// Gossip runs push-pull anti-entropy rounds against sampled peers and
// probes peer liveness.
//
// Each round the node exchanges digests with a few peers, pulls entries
// the remote supersedes it on and pushes entries it supersedes the remote
// on. State therefore converges without any coordinator; a failed exchange
// with one peer never blocks exchanges with the others.
type Gossip struct {
	store    *Store
	sampler  PeerSampler
	detector *FailureDetector

	transport Transport

	conf Config

	// onPeerDead, if set, is called when the failure detector declares a
	// peer dead.
	onPeerDead func(chord.Peer)

	metrics *Metrics

	logger log.Logger
}

func NewGossip(
	store *Store,
	sampler PeerSampler,
	detector *FailureDetector,
	transport Transport,
	conf Config,
	logger log.Logger,
) *Gossip {
	return &Gossip{
		store:     store,
		sampler:   sampler,
		detector:  detector,
		transport: transport,
		conf:      conf,
		metrics:   NewMetrics(),
		logger:    logger.WithSubsystem("gossip"),
	}
}

// OnPeerDead registers a callback invoked when the failure detector
// declares a peer dead. Must be set before the scheduler starts.
func (g *Gossip) OnPeerDead(f func(chord.Peer)) {
	g.onPeerDead = f
}

// Round runs a single gossip round, exchanging state with up to FanOut
// sampled peers concurrently.
//
// A failed exchange counts as a probe miss for that peer but never fails
// the round; partial progress is the normal case.
func (g *Gossip) Round(ctx context.Context) {
	peers := g.sampler.SamplePeers(g.conf.FanOut, g.detector.Usable)
	if len(peers) == 0 {
		return
	}

	g.metrics.Rounds.Inc()

	var wg sync.WaitGroup
	for _, peer := range peers {
		wg.Add(1)
		go func(peer chord.Peer) {
			defer wg.Done()

			exchangeCtx, cancel := context.WithTimeout(ctx, g.conf.RoundTimeout)
			defer cancel()

			if err := g.exchange(exchangeCtx, peer); err != nil {
				g.logger.Debug(
					"gossip exchange failed",
					zap.String("peer", peer.Addr),
					zap.Error(err),
				)
				g.metrics.RoundErrors.Inc()
				g.reportMiss(peer)
				return
			}
			g.detector.ReportAck(peer.ID)
		}(peer)
	}
	wg.Wait()

	g.metrics.StoreEntries.Set(float64(g.store.Len()))
}

// exchange runs a full push-pull exchange with a single peer.
func (g *Gossip) exchange(ctx context.Context, peer chord.Peer) error {
	remote, err := g.transport.Digest(ctx, peer, g.store.Digest())
	if err != nil {
		return err
	}

	missing, stale := g.store.Diff(remote)

	if len(stale) > 0 {
		entries, err := g.transport.Pull(ctx, peer, stale)
		if err != nil {
			return err
		}
		applied := g.store.Merge(entries)
		g.metrics.EntriesInbound.Add(float64(applied))
	}

	if len(missing) > 0 {
		entries := g.store.EntriesForKeys(missing)
		if err := g.transport.Push(ctx, peer, entries); err != nil {
			return err
		}
		g.metrics.EntriesOutbound.Add(float64(len(entries)))
	}

	return nil
}

// PingSweep probes every known peer concurrently, reporting acks and
// misses to the failure detector, then purges expired dead peers.
func (g *Gossip) PingSweep(ctx context.Context) {
	peers := g.sampler.Peers()

	var wg sync.WaitGroup
	for _, peer := range peers {
		if g.detector.State(peer.ID) == PeerDead {
			continue
		}

		wg.Add(1)
		go func(peer chord.Peer) {
			defer wg.Done()

			pingCtx, cancel := context.WithTimeout(ctx, g.conf.PingTimeout)
			defer cancel()

			if err := g.transport.Ping(pingCtx, peer); err != nil {
				g.logger.Debug(
					"ping failed",
					zap.String("peer", peer.Addr),
					zap.Error(err),
				)
				g.reportMiss(peer)
				return
			}
			g.detector.ReportAck(peer.ID)
		}(peer)
	}
	wg.Wait()

	g.detector.RemoveExpired()
}

// HandleDigest handles an inbound digest exchange, returning the local
// digest. An inbound exchange counts as an ack for the sender.
func (g *Gossip) HandleDigest(from chord.Peer, _ Digest) Digest {
	g.detector.ReportAck(from.ID)
	return g.store.Digest()
}

// HandlePull handles an inbound pull, returning the full entries for the
// requested keys.
func (g *Gossip) HandlePull(from chord.Peer, keys []string) []Entry {
	g.detector.ReportAck(from.ID)
	return g.store.EntriesForKeys(keys)
}

// HandlePush merges entries pushed by a remote peer.
func (g *Gossip) HandlePush(from chord.Peer, entries []Entry) {
	g.detector.ReportAck(from.ID)
	applied := g.store.Merge(entries)
	g.metrics.EntriesInbound.Add(float64(applied))
	g.metrics.StoreEntries.Set(float64(g.store.Len()))
}

// Metrics returns the gossip metrics for registration.
func (g *Gossip) Metrics() *Metrics {
	return g.metrics
}

func (g *Gossip) reportMiss(peer chord.Peer) {
	state, died := g.detector.ReportMiss(peer.ID)
	if died {
		g.logger.Warn(
			"peer declared dead",
			zap.String("peer", peer.Addr),
			zap.String("id", peer.ID.String()),
		)
		if g.onPeerDead != nil {
			g.onPeerDead(peer)
		}
		return
	}
	if state == PeerSuspect {
		g.logger.Debug(
			"peer suspected",
			zap.String("peer", peer.Addr),
		)
	}
}
