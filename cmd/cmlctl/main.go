// Command cmlctl is the operator CLI for a project's conversational
// memory engine: running the background workers, pulling from a
// replication peer, and reading/writing config. Modeled on the
// teacher's cmd/bd root command (cobra root, persistent flags,
// config subcommand).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var projectDir string

var rootCmd = &cobra.Command{
	Use:   "cmlctl",
	Short: "cmlctl - conversational memory engine operator CLI",
	Long:  "Runs the vector/consolidation workers, the replication puller, and reads/writes project config for a local conversational memory engine.",
}

func main() {
	rootCmd.PersistentFlags().StringVar(&projectDir, "project-dir", ".cml", "project directory holding events.sqlite and config.yaml")
	rootCmd.AddCommand(workerCmd, replicateCmd, serveReplicationCmd, reportSyncGapCmd, fixSyncGapCmd, configCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
