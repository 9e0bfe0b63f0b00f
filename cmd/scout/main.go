package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath      string
	dbPath          string
	influencersPath string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "scout",
		Short:         "Technology scout: a reasoning agent over papers and AI-influencer data",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&flags.dbPath, "db", "", "DuckDB file (overrides storage.db_path)")
	root.PersistentFlags().StringVar(&flags.influencersPath, "influencers-db", "", "influencers DuckDB file (overrides storage.influencers_path)")

	root.AddCommand(
		newServeCmd(flags),
		newAskCmd(flags),
		newInfluencersCmd(flags),
	)
	return root
}
