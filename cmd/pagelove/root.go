package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pagelove",
	Short: "Document server where pages are the database and the API",
	Long: `Pagelove stores HTML documents and serves them as both data and API:
nodes are addressed with CSS selectors over plain HTTP verbs, authorization
rules and structural constraints live inside the documents themselves, and
pages compose each other at read time.

Quick start:
  pagelove init      # Write a starter config and docroot
  pagelove serve     # Start the document server

Management:
  pagelove validate  # Validate configuration and the rule document
  pagelove version   # Print version information`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "pagelove.yaml", "config file path")
}
