// deepscout is the research agent CLI: launch and resume runs, serve the
// HTTP API, inspect history, grade finished reports, and manage storage.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/deepscout/internal/errkind"
)

func main() {
	root := &cobra.Command{
		Use:           "deepscout",
		Short:         "Crash-resilient deep research agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCMD(), resumeCMD(), serveCMD(), historyCMD(),
		evaluateCMD(), cleanCMD(), migrateCMD(), versionCMD())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "deepscout: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps failures onto shell conventions: 2 for configuration
// problems, 130 for interrupted runs, 1 for everything else.
func exitCode(err error) int {
	switch {
	case errkind.Is(err, errkind.ConfigInvalid):
		return 2
	case errkind.Is(err, errkind.Cancelled):
		return 130
	default:
		return 1
	}
}
