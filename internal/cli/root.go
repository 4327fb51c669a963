package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/jassi-singh/forgeload/internal/errext"
	"github.com/jassi-singh/forgeload/internal/errext/exitcodes"
	"github.com/jassi-singh/forgeload/internal/performance/output"
)

var version = "0.1.0"

// globalState holds everything a command touches outside its own flags, so
// tests can swap the filesystem, the output streams and the signal context.
type globalState struct {
	ctx context.Context

	fs     afero.Fs
	stdout io.Writer
	stderr io.Writer

	logger *logrus.Logger
}

func newGlobalState(ctx context.Context) *globalState {
	logger := &logrus.Logger{
		Out:       os.Stderr,
		Formatter: new(logrus.TextFormatter),
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.InfoLevel,
	}
	return &globalState{
		ctx:    ctx,
		fs:     afero.NewOsFs(),
		stdout: os.Stdout,
		stderr: os.Stderr,
		logger: logger,
	}
}

// rootCommand keeps the flags shared by every subcommand.
type rootCommand struct {
	gs  *globalState
	cmd *cobra.Command

	verbose bool
	quiet   bool
	noColor bool
	logFmt  string
	logOut  string
}

func newRootCommand(gs *globalState) *rootCommand {
	c := &rootCommand{gs: gs}
	c.cmd = &cobra.Command{
		Use:     "forgeload",
		Short:   "A virtual-user load generator for HTTP services",
		Version: version,
		Long: `Forgeload ramps a population of virtual users up and down along a
stage plan, spreads their requests across a set of endpoints, and checks
latency and failure-rate thresholds while the test runs.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.persistentPreRunE,
	}

	flags := c.cmd.PersistentFlags()
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")
	flags.BoolVarP(&c.quiet, "quiet", "q", false, "disable progress updates")
	flags.BoolVar(&c.noColor, "no-color", false, "disable colored output")
	flags.StringVar(&c.logFmt, "log-format", "text", "log output format: text or json")
	flags.StringVar(&c.logOut, "log-output", "stderr", "where logs go: stderr, stdout or none")

	c.cmd.AddCommand(
		getRunCmd(c),
		getMockServerCmd(c),
	)
	return c
}

func (c *rootCommand) persistentPreRunE(cmd *cobra.Command, args []string) error {
	logger := c.gs.logger
	var logWriter io.Writer
	switch c.logOut {
	case "stderr", "":
		logWriter = c.gs.stderr
	case "stdout":
		logWriter = c.gs.stdout
	case "none":
		logWriter = io.Discard
	default:
		return errext.WithExitCodeIfNone(
			fmt.Errorf("unsupported log output %q", c.logOut), exitcodes.InvalidConfig)
	}
	logger.SetOutput(logWriter)
	if c.verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	switch c.logFmt {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logger.SetFormatter(&logrus.TextFormatter{
			DisableColors: c.noColor || !output.SupportsColor(logWriter),
			FullTimestamp: true,
		})
	default:
		return errext.WithExitCodeIfNone(
			fmt.Errorf("unsupported log format %q", c.logFmt), exitcodes.InvalidConfig)
	}

	logger.WithField("version", version).Debug("forgeload starting")
	return nil
}

// execute runs the command tree and logs any error it returns.
func (c *rootCommand) execute(args []string) error {
	c.cmd.SetArgs(args)
	c.cmd.SetOut(c.gs.stdout)
	c.cmd.SetErr(c.gs.stderr)

	err := c.cmd.Execute()
	if err == nil {
		return nil
	}

	fields := logrus.Fields{}
	var herr errext.HasHint
	if errors.As(err, &herr) {
		fields["hint"] = herr.Hint()
	}
	c.gs.logger.WithFields(fields).Error(err)
	return err
}

// Execute runs forgeload with the process arguments. The returned error
// carries the exit code; see errext.ExitCodeOf.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return newRootCommand(newGlobalState(ctx)).execute(os.Args[1:])
}
