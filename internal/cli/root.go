// Package cli provides the salesopsctl operator commands.
package cli

import (
	"github.com/spf13/cobra"

	"salesops-backend/internal/shared/telemetry"
)

// Version is set at build time.
var Version = "0.1.0"

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "salesopsctl",
	Short: "Operator tools for the sales-ops analysis service",
	Long: `salesopsctl runs analysis agents locally, compares analysis results
and validates agent profile files.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return telemetry.Setup(telemetry.Options{Level: logLevel})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.AddCommand(diffCmd, runCmd, profilesCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
