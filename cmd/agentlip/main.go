package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "agentlip",
		Short: "Local single-writer workspace hub for agent-to-agent conversation",
		Long: `agentlip is a local daemon that holds one SQLite-backed conversation
log per workspace, exposed over HTTP and a WebSocket event fanout.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.Version = Version

	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(upCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(downCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
