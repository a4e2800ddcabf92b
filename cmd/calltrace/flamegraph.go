package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/danpilch/calltrace/pkg/baseline"
	"github.com/danpilch/calltrace/pkg/flamegraph"
	"github.com/danpilch/calltrace/pkg/output"
	"github.com/danpilch/calltrace/pkg/profile"
	"github.com/danpilch/calltrace/pkg/workload"
)

// openOutput returns the file at path, or stdout when path is empty or "-".
func openOutput(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot create %s: %w", path, err)
	}
	return f, f.Close, nil
}

func newFlamegraphCmd(a *app) *cobra.Command {
	var (
		rf      runFlags
		kind    string
		outPath string
		saved   string
		folded  string
		title   string
		colors  string
		width   int
	)

	cmd := &cobra.Command{
		Use:   "flamegraph [workload]",
		Short: "Export a flame graph as SVG, folded stacks, JSON or pprof",
		Long: `Export the flame graph of a workload, a saved profile or a folded stack file.

Examples:
  # SVG of the nested workload
  calltrace flamegraph nested -o nested.svg

  # Folded stacks for flamegraph.pl or speedscope
  calltrace flamegraph mixed --type folded > mixed.folded

  # pprof protobuf of a saved run, for go tool pprof
  calltrace flamegraph --saved profile_fib_20260101_120000 --type pprof -o fib.pb.gz

  # Re-render folded stacks from another tool
  calltrace flamegraph --folded stacks.txt -o stacks.svg
`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sources := 0
			for _, set := range []bool{len(args) == 1, saved != "", folded != ""} {
				if set {
					sources++
				}
			}
			if sources != 1 {
				return fmt.Errorf("give exactly one of a workload, --saved or --folded")
			}

			var g *profile.FlameGraph
			switch {
			case saved != "":
				snap, err := baseline.Load(saved, a.cfg.ProfilesDir)
				if err != nil {
					return err
				}
				if snap.Flame == nil {
					return fmt.Errorf("profile %q has no flame graph", saved)
				}
				g = snap.Flame
			case folded != "":
				f, err := os.Open(folded)
				if err != nil {
					return fmt.Errorf("cannot open %s: %w", folded, err)
				}
				defer f.Close()
				if g, err = flamegraph.ParseFolded(f); err != nil {
					return err
				}
			default:
				wl, err := workload.Lookup(args[0])
				if err != nil {
					return err
				}
				opts, err := a.sessionOptions()
				if err != nil {
					return err
				}
				opts.CaptureFlame = true
				res, err := profileWorkload(cmd.Context(), cmd, opts, wl, rf)
				if err != nil {
					if res == nil {
						return err
					}
					a.logger.WithError(err).Warn("flame graph is partial")
				}
				g = res.Flame
				if title == "" {
					title = wl.Name
				}
			}

			w, closeOut, err := openOutput(cmd, outPath)
			if err != nil {
				return err
			}
			if err := writeFlame(w, g, kind, title, colors, width); err != nil {
				closeOut()
				return err
			}
			if err := closeOut(); err != nil {
				return err
			}
			if outPath != "" && outPath != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s flame graph to %s (%d paths, %s)\n",
					kind, outPath, len(flamegraph.Flatten(g)), output.HumanDuration(g.Root.Value))
			}
			return nil
		},
	}

	rf.register(cmd)
	cmd.Flags().StringVarP(&kind, "type", "t", "svg", "Output type: svg, folded, json, pprof")
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "Output file (default stdout)")
	cmd.Flags().StringVar(&saved, "saved", "", "Export the flame graph of a saved profile")
	cmd.Flags().StringVar(&folded, "folded", "", "Read folded stacks from this file")
	cmd.Flags().StringVar(&title, "title", "", "SVG title")
	cmd.Flags().StringVar(&colors, "colors", "hot", "SVG palette: hot, cold, mem")
	cmd.Flags().IntVar(&width, "width", 1200, "SVG width in pixels")

	return cmd
}

func writeFlame(w io.Writer, g *profile.FlameGraph, kind, title, colors string, width int) error {
	switch kind {
	case "svg":
		opts := flamegraph.DefaultSVGOptions()
		if title != "" {
			opts.Title = title
		}
		opts.ColorScheme = colors
		opts.Width = width
		return flamegraph.RenderSVG(w, g, opts)
	case "folded":
		return flamegraph.WriteFolded(w, g)
	case "json":
		return flamegraph.WriteJSON(w, g)
	case "pprof":
		return flamegraph.WritePprof(w, g)
	default:
		return fmt.Errorf("unknown flame graph type %q (want svg, folded, json or pprof)", kind)
	}
}

func newTraceEventsCmd(a *app) *cobra.Command {
	var (
		rf      runFlags
		outPath string
	)

	cmd := &cobra.Command{
		Use:   "trace-events <workload>",
		Short: "Export the raw call tree as Chrome trace events",
		Long: `Profile a workload keeping every call frame and write them in the Chrome
trace-event format, viewable in chrome://tracing or Perfetto.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wl, err := workload.Lookup(args[0])
			if err != nil {
				return err
			}
			opts, err := a.sessionOptions()
			if err != nil {
				return err
			}
			opts.RetainFrames = true
			res, err := profileWorkload(cmd.Context(), cmd, opts, wl, rf)
			if err != nil {
				if res == nil {
					return err
				}
				a.logger.WithError(err).Warn("trace is partial")
			}

			w, closeOut, err := openOutput(cmd, outPath)
			if err != nil {
				return err
			}
			if err := output.WriteTraceEvents(w, res.Trees); err != nil {
				closeOut()
				return err
			}
			return closeOut()
		},
	}

	rf.register(cmd)
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "Output file (default stdout)")
	return cmd
}
