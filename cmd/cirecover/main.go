// Command cirecover drives autonomous recovery of a failing CI branch.
//
// Usage:
//
//	# Recover the current branch (inputs from the environment)
//	cirecover run
//
//	# Host chains on Temporal
//	cirecover worker
//	cirecover run --temporal
//
//	# Read recovery guides
//	cirecover serve
//	cirecover mcp
//	cirecover guides list
//
// run exits 0 when the chain succeeded or escalated, and 1 on an unexpected
// internal error.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// configPath overrides the config file location
	configPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cirecover",
	Short: "Autonomous CI recovery orchestrator",
	Long: `cirecover watches a branch's CI workflow, classifies failing tests,
applies rule-based fixes, commits and pushes them, and re-runs CI until the
run is green or the iteration budget is spent.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/cirecover/config.yaml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(guidesCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "cirecover by Fyrsmith Labs\n")
		fmt.Fprintf(out, "Version:    %s\n", version)
		fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
		fmt.Fprintf(out, "Build Date: %s\n", buildDate)
	},
}
