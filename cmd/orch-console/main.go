package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	debug      bool
	rootCmd    = &cobra.Command{
		Use:   "orch-console",
		Short: "Operator console for the agent orchestration server",
		Long: `orch-console keeps a live local copy of an orchestration server's
environments, tasks and accounts. It follows the server's push channel,
falls back to polling when the channel is down, streams the output of
running tasks and renders their diffs.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
