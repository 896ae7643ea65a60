// Package commands defines the engram command tree.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "engram",
	Short: "engram time-series database",
	Long: `engram is a time-series database. The standalone subcommand runs
every tier in a single process; attach opens an interactive session
against a running instance.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(newStandaloneCommand())
	rootCmd.AddCommand(newAttachCommand())
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
