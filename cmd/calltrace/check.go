package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danpilch/calltrace/pkg/crosscheck"
	"github.com/danpilch/calltrace/pkg/workload"
)

func newCheckCmd(a *app) *cobra.Command {
	var (
		rf     runFlags
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "check <workload>",
		Short: "Cross-check a profile's consumers and statistics invariants",
		Long: `Profile a workload with every consumer attached, then compare the top-level
time and call count each consumer derived and verify the invariants the
statistics must hold. Exits non-zero when a check fails.`,
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
			opts.CaptureFlame = true
			opts.RetainFrames = true
			res, err := profileWorkload(cmd.Context(), cmd, opts, wl, rf)
			if err != nil {
				if res == nil {
					return err
				}
				a.logger.WithError(err).Warn("checking a partial profile")
			}

			validations, sanity := crosscheck.RunCrossChecks(res)
			if asJSON {
				if err := crosscheck.ReportJSON(cmd.OutOrStdout(), validations, sanity); err != nil {
					return err
				}
			} else {
				crosscheck.Report(cmd.OutOrStdout(), validations, sanity)
			}
			if crosscheck.Failed(validations, sanity) {
				return fmt.Errorf("profile of %s failed cross-checks", wl.Name)
			}
			return nil
		},
	}

	rf.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output results as JSON")
	return cmd
}
