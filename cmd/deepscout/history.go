package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/deepscout/config"
	"github.com/mohammad-safakhou/deepscout/internal/checkpoint"
	"github.com/mohammad-safakhou/deepscout/internal/store"
)

func historyCMD() *cobra.Command {
	var cfgPath string
	var limit int

	history := &cobra.Command{
		Use:   "history",
		Short: "List past runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if cfg.Storage.Postgres.Configured() {
				return historyFromRegistry(cmd, cfg, limit)
			}
			return historyFromDisk(cfg, limit)
		},
	}
	history.Flags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	history.Flags().IntVarP(&limit, "limit", "n", 20, "max runs to list")
	return history
}

func historyFromRegistry(cmd *cobra.Command, cfg *config.Config, limit int) error {
	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}
	registry, err := store.NewWithDSN(cmd.Context(), dsn)
	if err != nil {
		return err
	}
	defer registry.Close()

	runs, err := registry.ListRuns(cmd.Context(), limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTATUS\tTIER\tCOST\tQUERY")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t$%.4f\t%s\n", r.ID, r.Status, r.Tier, r.TotalCost, truncate(r.Query, 60))
	}
	return w.Flush()
}

// historyFromDisk reconstructs run summaries from checkpoint directories
// when no registry is configured.
func historyFromDisk(cfg *config.Config, limit int) error {
	entries, err := os.ReadDir(cfg.Checkpoints.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("no runs yet")
			return nil
		}
		return err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	// Run IDs start with a UTC timestamp, so newest sorts last.
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	if len(ids) > limit {
		ids = ids[:limit]
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTEP\tTIER\tCOST\tQUERY")
	for _, id := range ids {
		ckpts, err := checkpoint.NewStore(filepath.Join(cfg.Checkpoints.Dir, id))
		if err != nil {
			continue
		}
		st, step, err := ckpts.Recover()
		if err != nil {
			fmt.Fprintf(w, "%s\t-\t-\t-\t(no usable checkpoint)\n", id)
			continue
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t$%.4f\t%s\n", id, step, st.DegradationTier, st.TotalCost, truncate(st.Query, 60))
	}
	return w.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
