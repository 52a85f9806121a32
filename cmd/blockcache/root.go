package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "blockcache",
	Short: "Drive a write-back block cache with classic access patterns.",
	Long: `blockcache runs the random, localized, mixed and adversary access ` +
		`patterns against a raw block device, with or without the enhanced ` +
		`second-chance cache in front of it, and reports timings and I/O counts.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
