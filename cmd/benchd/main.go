// Command benchd is the test-bench host daemon: it loads the slot map
// and ambient config, wires the coordinator to either real hardware
// backends or their Sim counterparts, and serves the HTTP API described
// in spec §6 until signalled to stop.
//
//	benchd serve --config bench.yaml --env .env
//	benchd version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "benchd",
	Short:         "Hardware-in-the-loop test bench host daemon",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
