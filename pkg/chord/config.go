package chord

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

type Config struct {
	// SuccessorListLen is the successor list capacity. Longer lists tolerate
	// more simultaneous successor failures.
	SuccessorListLen int `json:"successor_list_len" yaml:"successor_list_len"`

	// HopBudget is the maximum number of times a lookup may be forwarded
	// before failing. Guards against routing corruption causing infinite
	// forwarding.
	HopBudget int `json:"hop_budget" yaml:"hop_budget"`

	// StabilizeInterval is the rate to run the stabilize protocol.
	StabilizeInterval time.Duration `json:"stabilize_interval" yaml:"stabilize_interval"`

	// FixFingersInterval is the rate to refresh finger table entries, one
	// entry per tick.
	FixFingersInterval time.Duration `json:"fix_fingers_interval" yaml:"fix_fingers_interval"`

	// JoinRetries is the number of attempts to reach a bootstrap node before
	// the join fails.
	JoinRetries int `json:"join_retries" yaml:"join_retries"`

	// RPCTimeout is the timeout for each outbound ring maintenance RPC.
	RPCTimeout time.Duration `json:"rpc_timeout" yaml:"rpc_timeout"`
}

func DefaultConfig() Config {
	return Config{
		SuccessorListLen:   8,
		HopBudget:          2 * IDBits,
		StabilizeInterval:  time.Second,
		FixFingersInterval: time.Millisecond * 200,
		JoinRetries:        3,
		RPCTimeout:         time.Second * 2,
	}
}

func (c *Config) Validate() error {
	if c.SuccessorListLen == 0 {
		return fmt.Errorf("missing successor list len")
	}
	if c.HopBudget == 0 {
		return fmt.Errorf("missing hop budget")
	}
	if c.StabilizeInterval == 0 {
		return fmt.Errorf("missing stabilize interval")
	}
	if c.FixFingersInterval == 0 {
		return fmt.Errorf("missing fix fingers interval")
	}
	if c.RPCTimeout == 0 {
		return fmt.Errorf("missing rpc timeout")
	}
	return nil
}

func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.IntVar(
		&c.SuccessorListLen,
		"chord.successor-list-len",
		c.SuccessorListLen,
		`
The successor list capacity.

A longer list tolerates more simultaneous successor failures at the cost of
slightly larger stabilize responses.`,
	)
	fs.IntVar(
		&c.HopBudget,
		"chord.hop-budget",
		c.HopBudget,
		`
The maximum number of hops a ring lookup may be forwarded before it fails.

In a well formed ring lookups take O(log N) hops, so the budget is only hit
when the routing state is corrupted.`,
	)
	fs.DurationVar(
		&c.StabilizeInterval,
		"chord.stabilize-interval",
		c.StabilizeInterval,
		`
The interval to run the stabilize protocol, which corrects successor and
predecessor pointers after churn.`,
	)
	fs.DurationVar(
		&c.FixFingersInterval,
		"chord.fix-fingers-interval",
		c.FixFingersInterval,
		`
The interval to refresh finger table entries.

Each tick refreshes a single entry, round-robining through the table to bound
the per-tick cost.`,
	)
	fs.IntVar(
		&c.JoinRetries,
		"chord.join-retries",
		c.JoinRetries,
		`
The number of attempts to reach each bootstrap node before the join fails.`,
	)
	fs.DurationVar(
		&c.RPCTimeout,
		"chord.rpc-timeout",
		c.RPCTimeout,
		`
The timeout for each outbound ring maintenance RPC.`,
	)
}
