package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/benchlab/fleetbench/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the benchd version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(version.Info())
		return nil
	},
}
