package node

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hashicorp/go-sockaddr"
	rungroup "github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ringmesh/ringmesh/node"
	adminserver "github.com/ringmesh/ringmesh/node/admin"
	"github.com/ringmesh/ringmesh/node/config"
	ringmeshconfig "github.com/ringmesh/ringmesh/pkg/config"
	"github.com/ringmesh/ringmesh/pkg/log"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "start a cluster node",
		Long: `Start a cluster node.

Each node maintains its position on the ring and gossips key-value state
with its peers. With no '--cluster.join' addresses the node starts a new
ring; otherwise it joins an existing ring by asking a configured member to
locate its successor.

Examples:
  # Start the first node of a new ring.
  ringmesh node

  # Start a node listening for peer traffic on :7000 and admin connections
  # on :7001.
  ringmesh node --cluster.bind-addr :7000 --admin.bind-addr :7001

  # Start a node and join an existing ring by specifying cluster members.
  ringmesh node --cluster.join 10.26.104.14:7000,10.26.104.75:7000
`,
	}

	conf := config.Default()

	var configPath string
	cmd.Flags().StringVar(
		&configPath,
		"config.path",
		"",
		`
YAML config file path.`,
	)

	var configExpandEnv bool
	cmd.Flags().BoolVar(
		&configExpandEnv,
		"config.expand-env",
		false,
		`
Whether to expand environment variables in the config file.

This will replaces references to ${VAR} or $VAR with the corresponding
environment variable. The replacement is case-sensitive.

References to undefined variables will be replaced with an empty string. A
default value can be given using form ${VAR:default}.`,
	)

	// Register flags and set default values.
	conf.RegisterFlags(cmd.Flags())

	cmd.Run = func(cmd *cobra.Command, args []string) {
		if configPath != "" {
			if err := ringmeshconfig.Load(configPath, conf, configExpandEnv); err != nil {
				fmt.Printf("load config: %s\n", err.Error())
				os.Exit(1)
			}
		}

		if err := conf.Validate(); err != nil {
			fmt.Printf("invalid config: %s\n", err.Error())
			os.Exit(1)
		}

		logger, err := log.NewLogger(conf.Log.Level, conf.Log.Subsystems)
		if err != nil {
			fmt.Printf("failed to setup logger: %s\n", err.Error())
			os.Exit(1)
		}
		defer func() {
			_ = logger.Sync()
		}()

		if conf.Cluster.AdvertiseAddr == "" {
			advertiseAddr, err := advertiseAddrFromBindAddr(conf.Cluster.BindAddr)
			if err != nil {
				logger.Error("invalid configuration", zap.Error(err))
				os.Exit(1)
			}
			conf.Cluster.AdvertiseAddr = advertiseAddr
		}

		if err := run(conf, logger); err != nil {
			logger.Error("failed to run node", zap.Error(err))
			os.Exit(1)
		}
	}

	return cmd
}

func run(conf *config.Config, logger log.Logger) error {
	logger.Info("starting ringmesh node", zap.Any("conf", conf))

	registry := prometheus.NewRegistry()

	peerLn, err := net.Listen("tcp", conf.Cluster.BindAddr)
	if err != nil {
		return fmt.Errorf("peer listen: %s: %w", conf.Cluster.BindAddr, err)
	}

	n := node.NewNode(conf, peerLn, logger)
	n.RegisterMetrics(registry)

	adminLn, err := net.Listen("tcp", conf.Admin.BindAddr)
	if err != nil {
		return fmt.Errorf("admin listen: %s: %w", conf.Admin.BindAddr, err)
	}
	adminServer := adminserver.NewServer(n, registry, logger)
	adminServer.AddStatus("/ring", n.RingStatus())
	adminServer.AddStatus("/gossip", n.GossipStatus())

	var group rungroup.Group

	// Peer server. Must serve before the node joins so the bootstrap can
	// call back.
	group.Add(func() error {
		if err := n.Serve(); err != nil {
			return fmt.Errorf("peer server serve: %w", err)
		}
		return nil
	}, func(error) {
		if err := n.Close(); err != nil {
			logger.Warn("failed to close node", zap.Error(err))
		}

		logger.Info("node shut down")
	})

	// Node engines.
	engineCtx, engineCancel := context.WithCancel(context.Background())
	group.Add(func() error {
		startCtx, cancel := context.WithTimeout(engineCtx, conf.GracePeriod)
		defer cancel()

		if err := n.Start(startCtx); err != nil {
			return fmt.Errorf("node start: %w", err)
		}

		// Block until another run group actor exits.
		<-engineCtx.Done()
		return nil
	}, func(error) {
		engineCancel()
	})

	// Termination handler.
	signalCtx, signalCancel := context.WithCancel(context.Background())
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	group.Add(func() error {
		select {
		case sig := <-signalCh:
			logger.Info(
				"received shutdown signal",
				zap.String("signal", sig.String()),
			)

			leaveCtx, cancel := context.WithTimeout(
				context.Background(), conf.GracePeriod,
			)
			defer cancel()

			// Leave as soon as we receive the shutdown signal so neighbours
			// splice us out without waiting for failure detection.
			if err := n.Leave(leaveCtx); err != nil {
				logger.Warn("failed to gracefully leave ring", zap.Error(err))
			} else {
				logger.Info("left ring")
			}

			return nil
		case <-signalCtx.Done():
			return nil
		}
	}, func(error) {
		signalCancel()
	})

	// Admin server.
	group.Add(func() error {
		if err := adminServer.Serve(adminLn); err != nil {
			return fmt.Errorf("admin server serve: %w", err)
		}
		return nil
	}, func(error) {
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(), conf.GracePeriod,
		)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to gracefully shutdown admin server", zap.Error(err))
		}

		logger.Info("admin server shut down")
	})

	if err := group.Run(); err != nil {
		return err
	}

	logger.Info("shutdown complete")

	return nil
}

func advertiseAddrFromBindAddr(bindAddr string) (string, error) {
	if strings.HasPrefix(bindAddr, ":") {
		bindAddr = "0.0.0.0" + bindAddr
	}

	host, port, err := net.SplitHostPort(bindAddr)
	if err != nil {
		return "", fmt.Errorf("invalid bind addr: %s: %w", bindAddr, err)
	}

	if host == "0.0.0.0" {
		ip, err := sockaddr.GetPrivateIP()
		if err != nil {
			return "", fmt.Errorf("get interface addr: %w", err)
		}
		if ip == "" {
			return "", fmt.Errorf("no private ip found")
		}
		return ip + ":" + port, nil
	}
	return bindAddr, nil
}
