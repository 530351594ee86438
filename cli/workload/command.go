package workload

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ringmesh/ringmesh/client"
	"github.com/ringmesh/ringmesh/pkg/log"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workload",
		Short: "generate cluster traffic",
		Long: `Generate cluster traffic.

Starts the configured number of writers, each periodically writing a
random key through a randomly selected node's admin API. Useful for
observing propagation and convergence in a test cluster.

Examples:
  # Run 5 writers at 1 write per second each against two nodes.
  ringmesh workload --nodes http://localhost:7001,http://localhost:7101

  # Run 10 writers at 5 writes per second using 50 distinct keys.
  ringmesh workload --writers 10 --rate 5 --keys 50
`,
	}

	var conf Config

	// Register flags and set default values.
	conf.RegisterFlags(cmd.Flags())

	var logConf log.Config
	logConf.Level = "info"
	logConf.RegisterFlags(cmd.Flags())

	cmd.Run = func(cmd *cobra.Command, args []string) {
		if err := conf.Validate(); err != nil {
			fmt.Printf("invalid config: %s\n", err.Error())
			os.Exit(1)
		}

		logger, err := log.NewLogger(logConf.Level, logConf.Subsystems)
		if err != nil {
			fmt.Printf("failed to setup logger: %s\n", err.Error())
			os.Exit(1)
		}

		if err := run(&conf, logger); err != nil {
			logger.Error("failed to run workload", zap.Error(err))
			os.Exit(1)
		}
	}

	return cmd
}

func run(conf *Config, logger log.Logger) error {
	logger.Info("starting workload", zap.Any("conf", conf))

	ctx, cancel := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i != conf.Writers; i++ {
		g.Go(func() error {
			return runWriter(ctx, conf, logger)
		})
	}

	return g.Wait()
}

func runWriter(ctx context.Context, conf *Config, logger log.Logger) error {
	ticker := time.NewTicker(time.Duration(int(time.Second) / conf.Rate))
	defer ticker.Stop()

	clients := make([]*client.Client, 0, len(conf.Nodes))
	for _, addr := range conf.Nodes {
		// The URL has already been validated in conf.
		u, _ := url.Parse(addr)
		c := client.NewClient(u)
		defer c.Close()
		clients = append(clients, c)
	}

	for {
		select {
		case <-ticker.C:
			c := clients[rand.Int()%len(clients)]
			key := "workload-" + strconv.Itoa(rand.Int()%conf.Keys)
			value := strconv.FormatInt(time.Now().UnixMilli(), 10)
			if err := c.Put(key, value); err != nil {
				logger.Warn("put", zap.Error(err))
			}
		case <-ctx.Done():
			return nil
		}
	}
}
