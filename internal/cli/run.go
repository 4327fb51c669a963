package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jassi-singh/forgeload/internal/errext"
	"github.com/jassi-singh/forgeload/internal/errext/exitcodes"
	"github.com/jassi-singh/forgeload/internal/exporter"
	"github.com/jassi-singh/forgeload/internal/performance"
	"github.com/jassi-singh/forgeload/internal/performance/config"
	"github.com/jassi-singh/forgeload/internal/performance/engine"
	"github.com/jassi-singh/forgeload/internal/performance/metrics"
	"github.com/jassi-singh/forgeload/internal/performance/output"
	"github.com/jassi-singh/forgeload/internal/performance/request"
)

// cmdRun holds the flags of the run command.
type cmdRun struct {
	root *rootCommand

	configFile       string
	name             string
	endpoints        []string
	path             string
	stages           string
	thresholds       []string
	thresholdMode    string
	thinkTime        time.Duration
	thinkTimeJitter  time.Duration
	gracefulRampDown time.Duration
	rps              float64
	timeout          time.Duration
	insecure         bool
	logSuccessBody   bool
	summaryExport    string
	metricsAddr      string
}

func getRunCmd(root *rootCommand) *cobra.Command {
	c := &cmdRun{root: root}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a load test",
		Long: `Run a load test from a configuration file, flags, or both.

Flags override the file, and FORGELOAD_* environment variables sit in
between. The process exits with 0 when every threshold passes, 1 when a
threshold fails and 2 when the configuration is invalid.`,
		Example: `  # Ramp three key servers like the reference scenario
  forgeload run \
    --endpoint http://localhost:8080 --endpoint http://localhost:8081 --endpoint http://localhost:8082 \
    --path /get-key \
    --stage 30s:50,30s:1000,30s:2000,30s:0 \
    --threshold 'http_req_failed:rate<0.01' \
    --threshold 'http_req_duration:p(95)<200' \
    --think-time 100ms

  # Run a scenario file and keep a JSON summary
  forgeload run -c scenario.yaml --summary-export summary.json`,
		Args: cobra.NoArgs,
		RunE: c.run,
	}

	cmd.Flags().AddFlagSet(c.flagSet())
	return cmd
}

func (c *cmdRun) flagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.StringVarP(&c.configFile, "config", "c", "", "YAML or JSON scenario file")
	flags.StringVar(&c.name, "name", "", "test name for reporting")
	flags.StringArrayVarP(&c.endpoints, "endpoint", "e", nil, "base URL to send requests to (repeatable)")
	flags.StringVar(&c.path, "path", "", "path appended to every endpoint, e.g. /get-key")
	flags.StringVarP(&c.stages, "stage", "s", "", "stage plan as duration:target pairs, e.g. 30s:50,30s:0")
	flags.StringArrayVar(&c.thresholds, "threshold", nil, "threshold as metric:expression, e.g. 'http_req_failed:rate<0.01' (repeatable)")
	flags.StringVar(&c.thresholdMode, "threshold-mode", "", "threshold mode: sticky or final (default sticky)")
	flags.DurationVar(&c.thinkTime, "think-time", 0, "pause after every iteration")
	flags.DurationVar(&c.thinkTimeJitter, "think-time-jitter", 0, "random extra pause added to the think time")
	flags.DurationVar(&c.gracefulRampDown, "graceful-ramp-down", 0, "how long draining VUs may finish their iteration (default 30s)")
	flags.Float64Var(&c.rps, "rps", 0, "global request rate limit (0 = unlimited)")
	flags.DurationVar(&c.timeout, "timeout", 0, "per-request timeout (default 30s)")
	flags.BoolVar(&c.insecure, "insecure", false, "skip TLS certificate verification")
	flags.BoolVar(&c.logSuccessBody, "log-success-body", false, "log the body of every successful response")
	flags.StringVar(&c.summaryExport, "summary-export", "", "write the run summary as JSON to this file")
	flags.StringVar(&c.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	return flags
}

// loadConfig layers the config file, the environment and the flags.
func (c *cmdRun) loadConfig(flags *pflag.FlagSet) (*config.TestConfig, error) {
	cfg := &config.TestConfig{}
	if c.configFile != "" {
		loaded, err := config.LoadConfig(c.root.gs.fs, c.configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}

	if flags.Changed("name") {
		cfg.Name = c.name
	}
	if flags.Changed("endpoint") {
		cfg.Endpoints = c.endpoints
	}
	if flags.Changed("path") {
		cfg.Path = c.path
	}
	if flags.Changed("stage") {
		stages, err := config.ParseStages(c.stages)
		if err != nil {
			return nil, fmt.Errorf("invalid --stage: %w", err)
		}
		cfg.Stages = stages
	}
	if flags.Changed("threshold") {
		if cfg.Thresholds == nil {
			cfg.Thresholds = make(map[string][]config.ThresholdConfig)
		}
		for _, raw := range c.thresholds {
			metric, expr, err := config.ParseThresholdFlag(raw)
			if err != nil {
				return nil, err
			}
			cfg.Thresholds[metric] = append(cfg.Thresholds[metric], config.ThresholdConfig{Threshold: expr})
		}
	}
	if flags.Changed("threshold-mode") {
		cfg.ThresholdMode = c.thresholdMode
	}
	if flags.Changed("think-time") {
		cfg.ThinkTime = config.Duration(c.thinkTime)
	}
	if flags.Changed("think-time-jitter") {
		cfg.ThinkTimeJitter = config.Duration(c.thinkTimeJitter)
	}
	if flags.Changed("graceful-ramp-down") {
		cfg.GracefulRampDown = config.Duration(c.gracefulRampDown)
	}
	if flags.Changed("rps") {
		cfg.Settings.RPS = c.rps
	}
	if flags.Changed("timeout") {
		cfg.Settings.Timeout = config.Duration(c.timeout)
	}
	if flags.Changed("insecure") {
		cfg.Settings.InsecureSkipVerify = c.insecure
	}
	if flags.Changed("log-success-body") {
		cfg.Logging.SuccessBody = c.logSuccessBody
	}

	config.ApplyDefaults(cfg)
	return cfg, nil
}

func (c *cmdRun) run(cmd *cobra.Command, args []string) error {
	gs := c.root.gs
	logger := gs.logger

	cfg, err := c.loadConfig(cmd.Flags())
	if err != nil {
		return errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}
	if len(cfg.Endpoints) == 0 {
		return errext.WithHint(
			errext.WithExitCodeIfNone(errors.New("no endpoints to test"), exitcodes.InvalidConfig),
			"pass --config, at least one --endpoint or "+config.EnvPrefix+"_ENDPOINTS")
	}

	plan, err := engine.PlanFromConfig(cfg)
	if err != nil {
		return err
	}

	checks, err := request.BuildChecks(gs.fs, cfg.Checks)
	if err != nil {
		return errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}

	client := request.NewHTTPClient(request.HTTPClientConfigFromSettings(cfg.Settings))
	defer client.CloseIdleConnections()

	console := output.NewConsole(output.ConsoleConfig{
		Writer:  gs.stdout,
		Quiet:   c.root.quiet,
		NoColor: c.root.noColor,
	})

	opts := engine.Options{
		Logger:    logger,
		Reporters: []engine.Reporter{console},
	}

	var exp *exporter.Exporter
	if c.metricsAddr != "" {
		ln, err := net.Listen("tcp", c.metricsAddr)
		if err != nil {
			return errext.WithExitCodeIfNone(fmt.Errorf("metrics listener: %w", err), exitcodes.InvalidConfig)
		}
		exp = exporter.New(logger)
		opts.Observer = exp
		opts.Reporters = append(opts.Reporters, exp)

		expCtx, stopExporter := context.WithCancel(context.Background())
		served := make(chan error, 1)
		go func() { served <- exp.Serve(expCtx, ln) }()
		defer func() {
			stopExporter()
			if err := <-served; err != nil {
				logger.WithError(err).Warn("Metrics server stopped with an error")
			}
		}()
	}

	newBody := func(collector *metrics.Collector) (performance.Body, error) {
		exec, err := request.NewExecutor(client, collector, request.Options{
			Endpoints:      plan.Endpoints,
			Checks:         checks,
			Timeout:        time.Duration(cfg.Settings.Timeout),
			Limiter:        request.NewLimiter(cfg.Settings.RPS),
			LogSuccessBody: cfg.Logging.SuccessBody,
			LogPrefix:      cfg.Logging.Prefix,
			Logger:         logger,
		})
		if err != nil {
			return nil, err
		}
		return exec, nil
	}

	eng, err := engine.New(plan, newBody, opts)
	if err != nil {
		return err
	}

	console.PrintHeader(plan)

	summary, err := eng.Run(gs.ctx)
	if err != nil {
		return errext.WithExitCodeIfNone(err, exitcodes.Fatal)
	}

	console.PrintSummary(summary)
	if exp != nil {
		exp.Finish(summary)
	}

	if c.summaryExport != "" {
		if err := output.ExportSummary(gs.fs, c.summaryExport, summary); err != nil {
			logger.WithError(err).Error("Failed to export summary")
		} else {
			logger.WithField("path", c.summaryExport).Debug("Summary exported")
		}
	}

	if !summary.Passed {
		return errext.WithExitCodeIfNone(errors.New("some thresholds have failed"), summary.ExitCode())
	}
	return nil
}
