// Package cmd defines the sift command-line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sift",
	Short: "sift - retrieval-augmented search over your documents",
	Long: `sift indexes local document sources into a vector-and-keyword store
and answers queries with hybrid retrieval, an optional web-search
fallback, and token-bounded context assembly.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
