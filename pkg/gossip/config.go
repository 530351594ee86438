package gossip

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

type Config struct {
	// Interval is the time between gossip rounds.
	Interval time.Duration `json:"interval" yaml:"interval"`

	// FanOut is the number of peers exchanged with per round.
	FanOut int `json:"fan_out" yaml:"fan_out"`

	// RoundTimeout is the timeout applied to a full exchange with a single
	// peer (digest, pull and push).
	RoundTimeout time.Duration `json:"round_timeout" yaml:"round_timeout"`

	// PingInterval is the time between failure detector probe sweeps.
	PingInterval time.Duration `json:"ping_interval" yaml:"ping_interval"`

	// PingTimeout is the timeout applied to a single probe.
	PingTimeout time.Duration `json:"ping_timeout" yaml:"ping_timeout"`

	// DeadThreshold is the number of consecutive missed probes before a
	// peer is considered dead.
	DeadThreshold int `json:"dead_threshold" yaml:"dead_threshold"`

	// DeadPeerExpiry is how long dead peers are remembered before their
	// health state is purged.
	DeadPeerExpiry time.Duration `json:"dead_peer_expiry" yaml:"dead_peer_expiry"`
}

func DefaultConfig() Config {
	return Config{
		Interval:       time.Millisecond * 500,
		FanOut:         2,
		RoundTimeout:   time.Second * 2,
		PingInterval:   time.Second,
		PingTimeout:    time.Second,
		DeadThreshold:  3,
		DeadPeerExpiry: time.Second * 30,
	}
}

func (c *Config) Validate() error {
	if c.Interval == 0 {
		return fmt.Errorf("missing interval")
	}
	if c.FanOut == 0 {
		return fmt.Errorf("missing fan out")
	}
	if c.RoundTimeout == 0 {
		return fmt.Errorf("missing round timeout")
	}
	if c.PingInterval == 0 {
		return fmt.Errorf("missing ping interval")
	}
	if c.DeadThreshold == 0 {
		return fmt.Errorf("missing dead threshold")
	}
	return nil
}

func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.DurationVar(
		&c.Interval,
		"gossip.interval",
		c.Interval,
		`
The interval between gossip rounds.

Each round the node exchanges state digests with a small set of peers, so
a smaller interval propagates updates faster at the cost of more network
traffic.`,
	)
	fs.IntVar(
		&c.FanOut,
		"gossip.fan-out",
		c.FanOut,
		`
The number of peers to exchange state with per gossip round.`,
	)
	fs.DurationVar(
		&c.RoundTimeout,
		"gossip.round-timeout",
		c.RoundTimeout,
		`
The timeout for a full state exchange with a single peer.`,
	)
	fs.DurationVar(
		&c.PingInterval,
		"gossip.ping-interval",
		c.PingInterval,
		`
The interval between failure detector probe sweeps of known peers.`,
	)
	fs.DurationVar(
		&c.PingTimeout,
		"gossip.ping-timeout",
		c.PingTimeout,
		`
The timeout for a single failure detector probe.`,
	)
	fs.IntVar(
		&c.DeadThreshold,
		"gossip.dead-threshold",
		c.DeadThreshold,
		`
The number of consecutive missed probes before a peer is considered dead
and removed from routing.`,
	)
	fs.DurationVar(
		&c.DeadPeerExpiry,
		"gossip.dead-peer-expiry",
		c.DeadPeerExpiry,
		`
How long dead peers are remembered before their health state is purged.`,
	)
}
