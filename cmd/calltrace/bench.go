package main

import (
	"github.com/spf13/cobra"

	"github.com/danpilch/calltrace/pkg/benchmark"
	"github.com/danpilch/calltrace/pkg/workload"
)

func newBenchCmd(a *app) *cobra.Command {
	opts := benchmark.DefaultOptions()

	cmd := &cobra.Command{
		Use:   "bench [workload...]",
		Short: "Measure the overhead the profiler adds to each workload",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			workloads := workload.All()
			if len(args) > 0 {
				workloads = workloads[:0:0]
				for _, name := range args {
					wl, err := workload.Lookup(name)
					if err != nil {
						return err
					}
					workloads = append(workloads, wl)
				}
			}

			host := workload.Characterize()
			host.Render(cmd.OutOrStdout())
			if host.Busy() {
				a.logger.Warn("host is busy, latencies will be noisy")
			}

			start := benchmark.MeasureOverhead()
			results, err := benchmark.Run(workloads, opts)
			if err != nil {
				return err
			}
			benchmark.RenderResults(cmd.OutOrStdout(), results, start.Since())
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.Iterations, "iterations", opts.Iterations, "Timed runs per workload and mode")
	cmd.Flags().IntVar(&opts.Warmup, "warmup", opts.Warmup, "Untimed warmup runs per workload")
	return cmd
}
