// Package main provides the permit_agent CLI for collecting published permit
// documents and bulk-fetching project exports.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "permit_agent",
	Short:         "Permit document collector",
	Long:          "permit_agent walks the year pages of a published-documents listing to collect document links, and bulk-fetches the CSV exports of environmental review projects.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	configPath  string
	logLevel    string
	logFile     string
	metricsAddr string
	databaseURL string
	verbose     bool
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "Path to JSON config file")
	flags.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides PERMIT_LOG_LEVEL)")
	flags.StringVar(&logFile, "log-file", "", "Write JSON logs to this rotated file instead of stderr")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address while the command runs, e.g. :9090")
	flags.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL for run persistence (overrides PERMIT_DATABASE_URL)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Print detailed summaries")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
