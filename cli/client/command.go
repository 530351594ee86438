package client

import (
	"fmt"
	"net/url"
	"os"

	yaml "github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/ringmesh/ringmesh/client"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "read and write keys",
		Long: `Read and write keys through a node's admin API.

Writes apply to the queried node and propagate to the rest of the cluster
via gossip. Reads return the queried node's local view, which may not yet
reflect updates that are still propagating.

Examples:
  # Write key 'my-key'.
  ringmesh client put my-key my-value

  # Read key 'my-key'.
  ringmesh client get my-key

  # Delete key 'my-key'.
  ringmesh client delete my-key

  # Inspect the node's view of the ring.
  ringmesh client status ring
`,
	}

	var serverURL string
	cmd.PersistentFlags().StringVar(
		&serverURL,
		"server.url",
		"http://localhost:7001",
		`
Node admin server URL.`,
	)

	cmd.AddCommand(newGetCommand(&serverURL))
	cmd.AddCommand(newPutCommand(&serverURL))
	cmd.AddCommand(newDeleteCommand(&serverURL))
	cmd.AddCommand(newStatusCommand(&serverURL))

	return cmd
}

func newGetCommand(serverURL *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get [key]",
		Short: "read a key",
		Args:  cobra.ExactArgs(1),
	}

	cmd.Run = func(cmd *cobra.Command, args []string) {
		c := newClient(*serverURL)
		defer c.Close()

		value, ok, err := c.Get(args[0])
		if err != nil {
			exitError("failed to get key: %s", err.Error())
		}
		if !ok {
			exitError("key not found: %s", args[0])
		}
		fmt.Println(value)
	}

	return cmd
}

func newPutCommand(serverURL *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put [key] [value]",
		Short: "write a key",
		Args:  cobra.ExactArgs(2),
	}

	cmd.Run = func(cmd *cobra.Command, args []string) {
		c := newClient(*serverURL)
		defer c.Close()

		if err := c.Put(args[0], args[1]); err != nil {
			exitError("failed to put key: %s", err.Error())
		}
	}

	return cmd
}

func newDeleteCommand(serverURL *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete [key]",
		Short: "delete a key",
		Args:  cobra.ExactArgs(1),
	}

	cmd.Run = func(cmd *cobra.Command, args []string) {
		c := newClient(*serverURL)
		defer c.Close()

		if err := c.Delete(args[0]); err != nil {
			exitError("failed to delete key: %s", err.Error())
		}
	}

	return cmd
}

func newStatusCommand(serverURL *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "inspect node status",
	}

	cmd.AddCommand(newStatusRingCommand(serverURL))
	cmd.AddCommand(newStatusEntriesCommand(serverURL))
	cmd.AddCommand(newStatusPeersCommand(serverURL))

	return cmd
}

func newStatusRingCommand(serverURL *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ring",
		Short: "inspect the node's view of the ring",
	}

	cmd.Run = func(cmd *cobra.Command, args []string) {
		c := newClient(*serverURL)
		defer c.Close()

		info, err := c.RingRouting()
		if err != nil {
			exitError("failed to get ring status: %s", err.Error())
		}
		printYAML(info)
	}

	return cmd
}

func newStatusEntriesCommand(serverURL *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entries",
		Short: "inspect the node's store entries",
	}

	cmd.Run = func(cmd *cobra.Command, args []string) {
		c := newClient(*serverURL)
		defer c.Close()

		entries, err := c.GossipEntries()
		if err != nil {
			exitError("failed to get entries: %s", err.Error())
		}
		printYAML(entries)
	}

	return cmd
}

func newStatusPeersCommand(serverURL *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peers",
		Short: "inspect the health of the node's known peers",
	}

	cmd.Run = func(cmd *cobra.Command, args []string) {
		c := newClient(*serverURL)
		defer c.Close()

		peers, err := c.GossipPeers()
		if err != nil {
			exitError("failed to get peers: %s", err.Error())
		}
		printYAML(peers)
	}

	return cmd
}

func newClient(serverURL string) *client.Client {
	u, err := url.Parse(serverURL)
	if err != nil {
		exitError("invalid server url: %s", err.Error())
	}
	return client.NewClient(u)
}

func printYAML(v interface{}) {
	b, err := yaml.Marshal(v)
	if err != nil {
		exitError("failed to encode output: %s", err.Error())
	}
	fmt.Print(string(b))
}

func exitError(format string, args ...interface{}) {
	fmt.Printf(format+"\n", args...)
	os.Exit(1)
}
