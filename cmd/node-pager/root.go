package main

import (
	"fmt"

	"github.com/Sternrassler/gql-node-pager/internal/config"
	"github.com/spf13/cobra"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

func newRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "node-pager",
		Short: "Fetch GraphQL nodes by ID with every nested page",
		Long: `node-pager reads node IDs from a file, fetches them from a GraphQL API in
batches and follows every nested connection until all pages are present.
Each complete node is appended as one JSON line; a checkpoint after every
write lets an interrupted run continue where it stopped.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
`)
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	})

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./node-pager.yaml)")

	rootCmd.AddCommand(newRunCmd(&cfgFile))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}
