// Package commands provides the CLI commands for agenthub.
package commands

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	flagLogLevel  string
	flagDirectory string
)

var rootCmd = &cobra.Command{
	Use:   "agenthub",
	Short: "agenthub - one client for heterogeneous coding-agent backends",
	Long: `agenthub holds conversational sessions with AI coding-agent backends
that expose structurally different wire protocols, normalizing both into a
single event stream and transcript.

Run 'agenthub chat --backend duplex' or 'agenthub chat --backend polling'
to start a session.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	// .env is optional; real environment wins over it
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().StringVar(&flagDirectory, "directory", "", "Working directory for project config")

	rootCmd.SetVersionTemplate(fmt.Sprintf("agenthub %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(chatCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}
