package cli

import (
	"github.com/spf13/cobra"

	"github.com/jassi-singh/forgeload/internal/errext"
	"github.com/jassi-singh/forgeload/internal/errext/exitcodes"
	"github.com/jassi-singh/forgeload/internal/mockserver"
)

type cmdMockServer struct {
	root *rootCommand

	host        string
	ports       []int
	cfg         mockserver.Config
	listenReady func(addrs []string)
}

func getMockServerCmd(root *rootCommand) *cobra.Command {
	c := &cmdMockServer{root: root}

	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Serve a local key service to load test against",
		Long: `Start a key service on one or more ports. Every port answers
GET /get-key with a fresh plain-text key and GET /health with "healthy".

Latency, failure and empty-body injection make it possible to watch
thresholds trip without a real backend.`,
		Example: `  # Three key servers matching the default endpoints
  forgeload mock-server --port 8080,8081,8082

  # Slow, flaky servers
  forgeload mock-server --latency 150ms --jitter 100ms --failure-rate 0.05`,
		Args: cobra.NoArgs,
		RunE: c.run,
	}

	flags := cmd.Flags()
	flags.StringVar(&c.host, "host", "127.0.0.1", "interface to listen on")
	flags.IntSliceVarP(&c.ports, "port", "p", []int{8080, 8081, 8082}, "ports to listen on")
	flags.DurationVar(&c.cfg.Latency, "latency", 0, "delay before every key response")
	flags.DurationVar(&c.cfg.Jitter, "jitter", 0, "random extra delay added to the latency")
	flags.Float64Var(&c.cfg.FailureRate, "failure-rate", 0, "fraction of key requests answered with 500")
	flags.Float64Var(&c.cfg.EmptyRate, "empty-rate", 0, "fraction of key requests answered with an empty body")
	return cmd
}

func (c *cmdMockServer) run(cmd *cobra.Command, args []string) error {
	gs := c.root.gs
	c.cfg.Logger = gs.logger

	srv, err := mockserver.New(c.cfg)
	if err != nil {
		return errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}

	listeners, err := mockserver.Listen(c.host, c.ports)
	if err != nil {
		return errext.WithHint(
			errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig),
			"pick free ports with --port")
	}

	if c.listenReady != nil {
		addrs := make([]string, len(listeners))
		for i, ln := range listeners {
			addrs[i] = ln.Addr().String()
		}
		c.listenReady(addrs)
	}

	if err := srv.Serve(gs.ctx, listeners...); err != nil {
		return errext.WithExitCodeIfNone(err, exitcodes.Fatal)
	}
	gs.logger.WithField("served", srv.Served()).Info("Mock key server stopped")
	return nil
}
