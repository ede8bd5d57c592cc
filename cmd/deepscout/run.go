package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/deepscout/config"
	"github.com/mohammad-safakhou/deepscout/internal/errkind"
	"github.com/mohammad-safakhou/deepscout/internal/research"
	"github.com/mohammad-safakhou/deepscout/internal/shutdown"
	"github.com/mohammad-safakhou/deepscout/internal/state"
)

func runCMD() *cobra.Command {
	var cfgPath string
	var maxCost float64
	var maxTimeS int64

	run := &cobra.Command{
		Use:   "run <query>",
		Short: "Run a research query to a cited report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if maxCost > 0 {
				cfg.Costs.MaxPerRun = maxCost
			}
			if maxTimeS > 0 {
				cfg.Costs.MaxTimeS = maxTimeS
			}

			runner, err := research.NewRunner(cfg)
			if err != nil {
				return err
			}
			coord := shutdown.New(nil)
			defer coord.Notify()()

			runID := research.NewRunID()
			fmt.Printf("run %s started\n", runID)
			st, reportPath, err := runner.Start(cmd.Context(), runID, args[0], coord)
			return finishRun(os.Stdout, runID, st, reportPath, err)
		},
	}
	run.Flags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	run.Flags().Float64Var(&maxCost, "max-cost", 0, "override costs.max_per_run (USD)")
	run.Flags().Int64Var(&maxTimeS, "max-time", 0, "override costs.max_time_s (seconds)")
	return run
}

// finishRun prints the run outcome and passes the error through for exit
// code mapping. Every run that did not complete is reported with its resume
// command, since the checkpoints on disk make it continuable either way.
func finishRun(w io.Writer, runID string, st *state.ResearchState, reportPath string, err error) error {
	if err != nil {
		if errkind.Is(err, errkind.Cancelled) {
			fmt.Fprintf(w, "run %s interrupted\n", runID)
		} else {
			fmt.Fprintf(w, "run %s failed: %v\n", runID, err)
		}
		fmt.Fprintf(w, "resume with: deepscout resume %s\n", runID)
		return err
	}
	fmt.Fprintf(w, "report written to %s\n", reportPath)
	if st != nil {
		fmt.Fprintf(w, "tier %s, cost $%.4f, %d tokens\n", st.DegradationTier, st.TotalCost, st.TotalTokens)
		if st.ReportMetadata != nil && len(st.ReportMetadata.CoverageGaps) > 0 {
			fmt.Fprintf(w, "coverage gaps: %s\n", strings.Join(st.ReportMetadata.CoverageGaps, ", "))
		}
	}
	return nil
}
