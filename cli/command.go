package cli

import (
	"github.com/spf13/cobra"

	"github.com/ringmesh/ringmesh/cli/client"
	"github.com/ringmesh/ringmesh/cli/node"
	"github.com/ringmesh/ringmesh/cli/workload"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "ringmesh [command] (flags)",
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Long: `Ringmesh is a decentralized key-value store that organizes nodes
into a ring and disseminates state with gossip.

Each node derives its position on the ring from a hash of its advertised
address, then maintains links to its successors and a finger table for
fast lookups. Key-value updates are versioned and spread between nodes
with periodic push-pull gossip, so every node converges on the same state
without any coordinator.

Start the first node of a new ring with:

  $ ringmesh node

Further nodes join by naming any existing member:

  $ ringmesh node --cluster.join 10.26.104.14:7000

Read and write keys through any node's admin API:

  $ ringmesh client put my-key my-value
  $ ringmesh client get my-key
`,
	}

	cmd.AddCommand(node.NewCommand())
	cmd.AddCommand(client.NewCommand())
	cmd.AddCommand(workload.NewCommand())

	return cmd
}

func init() {
	cobra.EnableCommandSorting = false
}
