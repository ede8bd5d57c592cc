package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/deepscout/config"
	"github.com/mohammad-safakhou/deepscout/internal/checkpoint"
)

func cleanCMD() *cobra.Command {
	var cfgPath string
	var olderThan time.Duration
	var all bool
	var runID string

	clean := &cobra.Command{
		Use:   "clean",
		Short: "Delete old run directories",
		Long: `Delete run directories older than the cutoff. Interrupted runs are
kept so they stay resumable; pass --all to delete those too.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if runID != "" {
				dir := filepath.Join(cfg.Checkpoints.Dir, runID)
				if _, err := os.Stat(dir); err != nil {
					return fmt.Errorf("unknown run %s: %w", runID, err)
				}
				if err := os.RemoveAll(dir); err != nil {
					return err
				}
				fmt.Printf("removed %s\n", dir)
				return nil
			}

			entries, err := os.ReadDir(cfg.Checkpoints.Dir)
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			cutoff := time.Now().Add(-olderThan)
			removed := 0
			for _, e := range entries {
				if !e.IsDir() {
					continue
				}
				dir := filepath.Join(cfg.Checkpoints.Dir, e.Name())
				info, err := e.Info()
				if err != nil || info.ModTime().After(cutoff) {
					continue
				}
				if !all && resumable(dir) {
					continue
				}
				if err := os.RemoveAll(dir); err != nil {
					return err
				}
				fmt.Printf("removed %s\n", dir)
				removed++
			}
			fmt.Printf("%d run(s) removed\n", removed)
			return nil
		},
	}
	clean.Flags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	clean.Flags().DurationVar(&olderThan, "older-than", 168*time.Hour, "age cutoff")
	clean.Flags().BoolVar(&all, "all", false, "also delete interrupted runs")
	clean.Flags().StringVar(&runID, "run", "", "delete one specific run")
	return clean
}

// resumable reports whether the run stopped before producing a final report,
// meaning a resume could still finish it.
func resumable(runDir string) bool {
	ckpts, err := checkpoint.NewStore(runDir)
	if err != nil {
		return false
	}
	st, _, err := ckpts.Recover()
	if err != nil {
		return false
	}
	return st.FinalReport == ""
}
