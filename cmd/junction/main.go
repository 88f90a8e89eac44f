package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// defaultConfigPath is used when --config is not given.
const defaultConfigPath = "junction.yaml"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "junction",
		Short: "Junction: agent-to-agent messaging",
		Long: "Junction runs an addressable agent that routes messages to peers, " +
			"answers them with an LLM, and meters paid calls with x402 receipts.",
		SilenceUsage: true,
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSendCmd())
	cmd.AddCommand(newDirectoryCmd())
	cmd.AddCommand(newToolsCmd())
	cmd.AddCommand(newDBCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "junction %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
