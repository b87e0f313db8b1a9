// Package cli implements the coterm command line interface. Commands talk to
// the session manager; everything user-visible goes through the sanitization
// in errors.go so storage paths and session internals stay in the log file.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/coterm/coterm-core/config"
	"github.com/coterm/coterm-core/logger"
	"github.com/coterm/coterm-core/manager"
	"github.com/coterm/coterm-core/persist"
)

var debugFlag bool

var rootCmd = &cobra.Command{
	Use:   "coterm",
	Short: "Terminal client for multi-session coding agents",
	Long: `coterm runs multiple coding-agent sessions side by side, each bound to a
project directory. Closed sessions are signed and persisted so they can be
resumed later with their full conversation history.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.SetDebug(debugFlag)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
}

// Execute runs the root command. Errors are sanitized before printing and
// reflected in the exit code.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error: "+userMessage(err))
		logger.Close()
		os.Exit(1)
	}
	logger.Close()
}

// openManager loads settings and wires the persistence store and session
// manager. Every command goes through here.
func openManager() (*manager.Manager, config.Settings, error) {
	settings, err := config.LoadSettings()
	if err != nil {
		return nil, config.Settings{}, err
	}
	store, err := persist.Open(settings)
	if err != nil {
		return nil, config.Settings{}, err
	}
	return manager.New(settings, store), settings, nil
}
