package cmd

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"whiteboard/config"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "whiteboard",
	Short: "Shared whiteboard with chat",
	Long: `whiteboard runs a relay that participants join to draw and chat together.

Available commands:
  serve      Run the relay
  join       Join a relay from the terminal
  version    Print the version

Settings come from the environment (WHITEBOARD_*), optionally loaded from a
.env file, and flags override them.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadDotEnv(envFile)
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		color.Red("error: %s", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "file to load environment variables from, if present")
	rootCmd.SilenceErrors = true
}
