package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/danpilch/calltrace/pkg/baseline"
	"github.com/danpilch/calltrace/pkg/mcpserver"
	"github.com/danpilch/calltrace/pkg/output"
)

var (
	listTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	listDim   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := baseline.List(a.cfg.ProfilesDir)
			if err != nil {
				return fmt.Errorf("cannot list profiles: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(names) == 0 {
				fmt.Fprintln(out, listDim.Render("No saved profiles. Use `calltrace run <workload> --save`."))
				return nil
			}
			fmt.Fprintln(out, listTitle.Render("Saved Profiles"))
			fmt.Fprintln(out, listDim.Render(strings.Repeat("─", 60)))
			for _, name := range names {
				snap, err := baseline.Load(name, a.cfg.ProfilesDir)
				if err != nil {
					a.logger.WithError(err).WithField("profile", name).Warn("skipping unreadable profile")
					continue
				}
				fmt.Fprintf(out, "  %-40s %s  %s\n", name,
					listDim.Render(snap.Timestamp.Format("2006-01-02 15:04:05")),
					output.HumanDuration(snap.Stats.TotalTime))
			}
			return nil
		},
	}
}

func newCompareCmd(a *app) *cobra.Command {
	var (
		paths bool
		fail  bool
	)

	cmd := &cobra.Command{
		Use:   "compare <baseline> <current>",
		Short: "Compare two saved profiles and report time drift",
		Long: `Compare the per-function total time of two saved profiles.

Examples:
  calltrace compare profile_fib_20260101_120000 profile_fib_20260102_120000

  # Also diff call paths and fail on regressions, for CI
  calltrace compare before after --paths --fail-on-regression
`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := baseline.Load(args[0], a.cfg.ProfilesDir)
			if err != nil {
				return err
			}
			cur, err := baseline.Load(args[1], a.cfg.ProfilesDir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			comparisons := baseline.Compare(base, cur.Stats)
			baseline.RenderComparison(out, base, comparisons)

			if paths {
				deltas := baseline.ComparePaths(base, cur)
				if deltas == nil {
					a.logger.Warn("one of the profiles has no flame graph, skipping path diff")
				}
				if len(deltas) > 0 {
					fmt.Fprintln(out)
					fmt.Fprintln(out, listTitle.Render("Call Path Changes"))
					for _, d := range deltas {
						if d.Delta() == 0 {
							break
						}
						fmt.Fprintf(out, "  %+12.6fs  %s\n", d.Delta().Seconds(), d)
					}
				}
			}

			if n := baseline.Regressions(comparisons); fail && n > 0 {
				return fmt.Errorf("%d functions regressed", n)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&paths, "paths", false, "Also diff flame graph call paths")
	cmd.Flags().BoolVar(&fail, "fail-on-regression", false, "Exit non-zero when a function regressed")
	return cmd
}

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve saved profiles to AI assistants over MCP (stdio)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return mcpserver.New(a.cfg.ProfilesDir, a.logger).ServeStdio()
		},
	}
}
