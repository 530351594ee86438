package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/ringmesh/ringmesh/pkg/chord"
	"github.com/ringmesh/ringmesh/pkg/gossip"
	"github.com/ringmesh/ringmesh/pkg/log"
)

type ClusterConfig struct {
	// BindAddr is the address to bind to listen for peer traffic.
	BindAddr string `json:"bind_addr" yaml:"bind_addr"`

	// AdvertiseAddr is the address to advertise to peers.
	AdvertiseAddr string `json:"advertise_addr" yaml:"advertise_addr"`

	// Join contains a list of addresses of cluster members to join via. If
	// empty the node starts a new ring.
	Join []string `json:"join" yaml:"join"`
}

func (c *ClusterConfig) Validate() error {
	if c.BindAddr == "" {
		return fmt.Errorf("missing bind addr")
	}
	return nil
}

func (c *ClusterConfig) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(
		&c.BindAddr,
		"cluster.bind-addr",
		c.BindAddr,
		`
The host/port to listen on for peer traffic, used for both ring
maintenance and state gossip.

If the host is unspecified it defaults to all listeners, such as
'--cluster.bind-addr :7000' will listen on '0.0.0.0:7000'.`,
	)
	fs.StringVar(
		&c.AdvertiseAddr,
		"cluster.advertise-addr",
		c.AdvertiseAddr,
		`
The address to advertise to other nodes in the cluster. The node's
identifier is derived from this address so it must be stable and routable
from all other nodes.

Such as if the node is behind a NAT, the advertised address should be the
NAT public address.

By default, ringmesh will use the bind address, though if the bind address
is all interfaces it will infer the private IP.`,
	)
	fs.StringSliceVar(
		&c.Join,
		"cluster.join",
		c.Join,
		`
A list of addresses of cluster members to join via. The node asks the
first reachable member to locate its position on the ring.

If empty the node starts a new ring.`,
	)
}

type AdminConfig struct {
	// BindAddr is the address to bind to listen for admin connections.
	BindAddr string `json:"bind_addr" yaml:"bind_addr"`
}

func (c *AdminConfig) Validate() error {
	if c.BindAddr == "" {
		return fmt.Errorf("missing bind addr")
	}
	return nil
}

func (c *AdminConfig) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(
		&c.BindAddr,
		"admin.bind-addr",
		c.BindAddr,
		`
The host/port to listen for admin connections on, which serves the
key-value API, health, metrics and node status.`,
	)
}

type Config struct {
	Cluster ClusterConfig `json:"cluster" yaml:"cluster"`

	Chord chord.Config `json:"chord" yaml:"chord"`

	Gossip gossip.Config `json:"gossip" yaml:"gossip"`

	Admin AdminConfig `json:"admin" yaml:"admin"`

	Log log.Config `json:"log" yaml:"log"`

	// GracePeriod is the maximum duration to wait for the node to leave the
	// ring gracefully on shutdown.
	GracePeriod time.Duration `json:"grace_period" yaml:"grace_period"`
}

func Default() *Config {
	return &Config{
		Cluster: ClusterConfig{
			BindAddr: ":7000",
		},
		Chord:  chord.DefaultConfig(),
		Gossip: gossip.DefaultConfig(),
		Admin: AdminConfig{
			BindAddr: ":7001",
		},
		Log: log.Config{
			Level: "info",
		},
		GracePeriod: time.Minute,
	}
}

func (c *Config) Validate() error {
	if err := c.Cluster.Validate(); err != nil {
		return fmt.Errorf("cluster: %w", err)
	}
	if err := c.Chord.Validate(); err != nil {
		return fmt.Errorf("chord: %w", err)
	}
	if err := c.Gossip.Validate(); err != nil {
		return fmt.Errorf("gossip: %w", err)
	}
	if err := c.Admin.Validate(); err != nil {
		return fmt.Errorf("admin: %w", err)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	c.Cluster.RegisterFlags(fs)
	c.Chord.RegisterFlags(fs)
	c.Gossip.RegisterFlags(fs)
	c.Admin.RegisterFlags(fs)
	c.Log.RegisterFlags(fs)

	fs.DurationVar(
		&c.GracePeriod,
		"grace-period",
		c.GracePeriod,
		`
Maximum duration after a shutdown signal is received to leave the ring
gracefully and drain pending requests.`,
	)
}
