package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kiosktime",
	Short: "kiosktime - screen-time allowance and lock control for a family kiosk",
	Long: `kiosktime enforces a daily screen-time allowance on a shared kiosk. It runs
the session lock state machine, keeps per-day usage and credits, reads allowance
overrides from a local calendar and serves a local API for the kiosk UI and
parents. Access decisions are evaluated with Open Policy Agent (OPA).`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default to server command when no subcommand is provided
		return runServer(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/kiosktime/config.yaml", "Path to configuration file")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
