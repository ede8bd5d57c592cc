package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/deepscout/config"
	"github.com/mohammad-safakhou/deepscout/internal/evaluate"
	"github.com/mohammad-safakhou/deepscout/internal/research"
)

func evaluateCMD() *cobra.Command {
	var cfgPath string

	eval := &cobra.Command{
		Use:   "evaluate <run_id>",
		Short: "Grade a finished run's report with an LLM judge",
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
			e := evaluate.New(runner.JudgeRouter())
			ev, err := e.Evaluate(cmd.Context(), runner.RunDir(args[0]))
			if err != nil {
				return err
			}
			fmt.Print(ev.Render())
			return nil
		},
	}
	eval.Flags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	return eval
}
