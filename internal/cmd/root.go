package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loomhq/loom/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "loom",
	Short: "Loom - transcript event streaming and fork resolution for agent conversations",
	Long: `Loom turns an AI coding agent's append-only transcript log into a typed
activity stream and an addressable history that supports forking a new
conversation from any historical message.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Configure(logger.LevelFromEnv(), isDev)
	},
}

var isDev bool

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().BoolVar(&isDev, "dev", false, "pretty console logging for development")
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
