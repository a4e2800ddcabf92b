// Command calltrace profiles instrumented Go code and reports per-function
// timing, flame graphs and drift between saved runs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/danpilch/calltrace/pkg/config"
	"github.com/danpilch/calltrace/pkg/logging"
	"github.com/danpilch/calltrace/pkg/session"
)

// app holds what every command shares once flags are parsed.
type app struct {
	cfgPath   string
	logLevel  string
	logFormat string

	cfg    *config.Config
	logger *logrus.Logger
}

func (a *app) load(cmd *cobra.Command, args []string) error {
	path := a.cfgPath
	if path == "" {
		path = config.Path()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	logger.WithField("config", path).Debug("configuration loaded")
	return nil
}

// sessionOptions builds session options from the loaded configuration.
func (a *app) sessionOptions() (session.Options, error) {
	filter, err := a.cfg.Filter()
	if err != nil {
		return session.Options{}, err
	}
	return session.Options{
		CaptureFlame: a.cfg.Profile.CaptureFlame,
		RetainFrames: a.cfg.Profile.RetainFrames,
		Logger:       a.logger,
		Filter:       filter,
	}, nil
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:               "calltrace",
		Short:             "Deterministic call profiler for instrumented Go code",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.load,
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "Config file (default $CALLTRACE_CONFIG or ~/.calltrace/config.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "Log format: text or json")

	// Profiling
	root.AddCommand(newRunCmd(a))
	root.AddCommand(newFlamegraphCmd(a))
	root.AddCommand(newTraceEventsCmd(a))
	root.AddCommand(newCheckCmd(a))
	root.AddCommand(newBenchCmd(a))

	// Saved profiles
	root.AddCommand(newListCmd(a))
	root.AddCommand(newCompareCmd(a))
	root.AddCommand(newMCPCmd(a))

	// Other
	root.AddCommand(newWorkloadsCmd(a))
	root.AddCommand(newConfigCmd(a))

	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
