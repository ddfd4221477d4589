// Kestrel CLI - runs and inspects compiled code records
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is overridden at link time.
var Version = "0.1.0-dev"

var rootCmd = &cobra.Command{
	Use:           "kestrel",
	Short:         "Kestrel execution engine",
	Long:          `Kestrel runs compiled code records (.kbc, .kmp) on an embeddable interpreter`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Version = Version

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(disCmd)
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().String("config", "", "directory containing kestrel.toml (default: search upward from the working directory)")
	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().CountP("verbose", "v", "increase log verbosity")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}
