package workload

import (
	"fmt"
	"net/url"

	"github.com/spf13/pflag"
)

type Config struct {
	// Nodes contains the admin API URLs of the nodes to write through.
	Nodes []string `json:"nodes" yaml:"nodes"`

	// Writers is the number of concurrent writers.
	Writers int `json:"writers" yaml:"writers"`

	// Rate is the number of writes per second per writer.
	Rate int `json:"rate" yaml:"rate"`

	// Keys is the number of distinct keys to write.
	Keys int `json:"keys" yaml:"keys"`
}

func (c *Config) Validate() error {
	if len(c.Nodes) == 0 {
		return fmt.Errorf("missing nodes")
	}
	for _, addr := range c.Nodes {
		if _, err := url.Parse(addr); err != nil {
			return fmt.Errorf("invalid node url: %s: %w", addr, err)
		}
	}
	if c.Writers == 0 {
		return fmt.Errorf("missing writers")
	}
	if c.Rate == 0 {
		return fmt.Errorf("missing rate")
	}
	if c.Keys == 0 {
		return fmt.Errorf("missing keys")
	}
	return nil
}

func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringSliceVar(
		&c.Nodes,
		"nodes",
		[]string{"http://localhost:7001"},
		`
A list of admin API URLs of the nodes to write through. Each write selects
a random node.`,
	)
	fs.IntVar(
		&c.Writers,
		"writers",
		5,
		`
The number of concurrent writers.`,
	)
	fs.IntVar(
		&c.Rate,
		"rate",
		1,
		`
The number of writes per second per writer.`,
	)
	fs.IntVar(
		&c.Keys,
		"keys",
		100,
		`
The number of distinct keys to write. Each write selects a random key.`,
	)
}
