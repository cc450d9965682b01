package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/inlethq/inlet/cmd/inlet/commands"
	"github.com/inlethq/inlet/logger"
)

var rootCmd = &cobra.Command{
	Use:   "inlet",
	Short: "Inlet - CRM ingestion pipeline engine",
	Long: `Inlet ingests external records into a multi-tenant CRM record store.

Push pipelines receive webhook deliveries; pull pipelines fetch from
source APIs on a cron schedule. Both apply a declarative field-mapping
and transform model, resolve cross-object relations, deduplicate
against existing records, and track run outcomes per pipeline.

Examples:
  inlet serve              # Start the HTTP server, workers, and ticker
  inlet migrate            # Apply database migrations and exit`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		verbose, _ := cmd.Flags().GetBool("verbose")
		if err := logger.Initialize(jsonOutput, verbose); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json", false, "Emit JSON log output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default: ./inlet.toml)")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.MigrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
