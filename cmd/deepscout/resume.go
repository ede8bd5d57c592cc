package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/deepscout/config"
	"github.com/mohammad-safakhou/deepscout/internal/research"
	"github.com/mohammad-safakhou/deepscout/internal/shutdown"
)

func resumeCMD() *cobra.Command {
	var cfgPath string

	resume := &cobra.Command{
		Use:   "resume <run_id>",
		Short: "Continue an interrupted run from its latest checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			runner, err := research.NewRunner(cfg)
			if err != nil {
				return err
			}
			runID := args[0]
			if _, err := os.Stat(runner.RunDir(runID)); err != nil {
				return fmt.Errorf("unknown run %s: %w", runID, err)
			}
			coord := shutdown.New(nil)
			defer coord.Notify()()

			fmt.Printf("resuming run %s\n", runID)
			st, reportPath, err := runner.Resume(cmd.Context(), runID, coord)
			return finishRun(os.Stdout, runID, st, reportPath, err)
		},
	}
	resume.Flags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	return resume
}
