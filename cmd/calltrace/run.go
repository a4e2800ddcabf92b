package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/danpilch/calltrace/pkg/baseline"
	"github.com/danpilch/calltrace/pkg/debug"
	"github.com/danpilch/calltrace/pkg/hook"
	"github.com/danpilch/calltrace/pkg/memory"
	"github.com/danpilch/calltrace/pkg/output"
	"github.com/danpilch/calltrace/pkg/session"
	"github.com/danpilch/calltrace/pkg/stats"
	"github.com/danpilch/calltrace/pkg/workload"
)

// runFlags are the profiling switches shared by commands that execute a
// workload.
type runFlags struct {
	timeout time.Duration
	trace   bool
	timing  bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Stop recording after this long (0 = no limit)")
	cmd.Flags().BoolVar(&f.trace, "trace", false, "Log every enter and exit event to stderr")
	cmd.Flags().BoolVar(&f.timing, "timing", false, "Report the time spent inside the profiler's hooks")
}

// profileWorkload runs wl once inside a fresh session.
func profileWorkload(ctx context.Context, cmd *cobra.Command, opts session.Options, wl workload.Workload, f runFlags) (*session.Result, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	var timed *debug.TimedHook
	res, err := session.RunContext(ctx, opts, func(ctx context.Context, h hook.Hook) error {
		if f.trace {
			h = debug.NewTraceHook(h, cmd.ErrOrStderr())
		}
		if f.timing {
			timed = debug.NewTimedHook(wl.Name, h)
			h = timed
		}
		return wl.Run(h)
	})
	if timed != nil {
		debug.TimingReport(cmd.ErrOrStderr(), []debug.HookTiming{timed.Timing()})
	}
	if err != nil && res == nil {
		return nil, fmt.Errorf("cannot profile %s: %w", wl.Name, err)
	}
	return res, err
}

func newRunCmd(a *app) *cobra.Command {
	var (
		rf       runFlags
		format   string
		top      int
		sortBy   string
		repeat   int
		save     bool
		label    string
		mem      bool
		dump     bool
		score    bool
		hints    bool
		pprofAdr string
	)

	cmd := &cobra.Command{
		Use:     "run <workload>",
		Aliases: []string{"demo"},
		Short:   "Profile a workload and print its call report",
		Long: `Profile one of the built-in workloads and print per-function call counts,
inclusive and exclusive time.

Examples:
  # Table report of the recursive fibonacci workload
  calltrace run fib

  # Five runs with a trend column, saved for later comparison
  calltrace run mixed --repeat 5 --save

  # Markdown for pasting into an assistant, with drill-down hints
  calltrace run loop --format ai --hints
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wl, err := workload.Lookup(args[0])
			if err != nil {
				return err
			}
			if format == "" {
				format = a.cfg.Output.Format
			}
			fmtKind, err := output.ParseFormat(format)
			if err != nil {
				return err
			}
			if sortBy == "" {
				sortBy = a.cfg.Output.Sort
			}
			by, err := stats.ParseSortKey(sortBy)
			if err != nil {
				return err
			}
			if top < 0 {
				top = a.cfg.Output.Top
			}

			opts, err := a.sessionOptions()
			if err != nil {
				return err
			}
			if dump {
				opts.RetainFrames = true
			}

			if pprofAdr != "" {
				stopPprof, err := debug.StartPprofServer(pprofAdr, a.logger)
				if err != nil {
					return err
				}
				defer stopPprof()
			}

			var tracker *memory.Tracker
			if mem {
				tracker = memory.NewTracker(a.logger, 10)
				if err := tracker.Start(); err != nil {
					return err
				}
			}

			trend := output.NewTrendTracker(repeat)
			var res *session.Result
			for i := 0; i < max(repeat, 1); i++ {
				res, err = profileWorkload(cmd.Context(), cmd, opts, wl, rf)
				if err != nil {
					if res == nil {
						return err
					}
					a.logger.WithError(err).Warn("profile is partial")
				}
				trend.Observe(res.Stats)
			}

			var delta *memory.Delta
			if tracker != nil {
				if err := tracker.Stop(); err != nil {
					return err
				}
				if delta, err = tracker.Delta(); err != nil {
					return err
				}
			}

			render := func(w io.Writer) error {
				f := output.NewFormatter(fmtKind, w)
				f.SetSort(by)
				f.SetTop(top)
				f.SetShowScore(score)
				if repeat > 1 {
					f.SetTrendTracker(trend)
				}
				return f.Render(res.Stats)
			}
			out := cmd.OutOrStdout()
			if err := render(out); err != nil {
				return err
			}

			if hints {
				for _, h := range output.Hints(res.Stats) {
					for _, s := range h.Suggestions {
						fmt.Fprintf(out, "  %s: %s\n    %s\n", h.Function, s.Reason, s.Command)
					}
				}
			}
			if dump {
				for _, t := range res.Trees {
					debug.DumpFrames(out, t)
				}
			}
			if delta != nil {
				fmt.Fprintln(out)
				if err := delta.WriteText(out); err != nil {
					return err
				}
			}

			if save {
				if label == "" {
					label = wl.Name
				}
				snap := baseline.NewSnapshot(baseline.AutoName(label, time.Now()), res.Stats, res.Flame)
				snap.SessionID = res.ID
				snap.Duration = res.Duration
				snap.Memory = delta
				snap.Metadata = workload.Characterize().Metadata()
				snap.Metadata["workload"] = wl.Name
				if err := snap.Save(a.cfg.ProfilesDir); err != nil {
					return err
				}
				if err := snap.SaveReport(a.cfg.ProfilesDir, func(w io.Writer) error {
					f := output.NewFormatter(output.FormatTable, w)
					f.SetSort(by)
					f.SetTop(top)
					return f.Render(res.Stats)
				}); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Saved profile %q\n", snap.Name)
			}
			return nil
		},
	}

	rf.register(cmd)
	cmd.Flags().StringVarP(&format, "format", "f", "", "Output format: table, json, ai, tsv, csv (default from config)")
	cmd.Flags().IntVarP(&top, "top", "n", -1, "Show at most N functions, 0 for all (default from config)")
	cmd.Flags().StringVarP(&sortBy, "sort", "s", "", "Sort by: total, own, calls, name, avg (default from config)")
	cmd.Flags().IntVar(&repeat, "repeat", 1, "Profile the workload N times and show a trend column")
	cmd.Flags().BoolVar(&save, "save", false, "Save the profile and a text report to the profiles directory")
	cmd.Flags().StringVar(&label, "label", "", "Label used in the saved profile name (default: workload name)")
	cmd.Flags().BoolVar(&mem, "memory", false, "Also track heap growth and top allocation sites")
	cmd.Flags().BoolVar(&dump, "dump", false, "Print the raw call tree after the report")
	cmd.Flags().BoolVar(&score, "score", false, "Show the measurement quality score")
	cmd.Flags().BoolVar(&hints, "hints", false, "Print drill-down suggestions for hotspots")
	cmd.Flags().StringVar(&pprofAdr, "pprof-addr", "", "Serve the profiler's own pprof endpoints on this address while running")

	return cmd
}
