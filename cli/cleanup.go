package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coterm/coterm-core/process"
)

var cleanupKillOrphans bool

var cleanupCmd = &cobra.Command{
	Use:     "cleanup",
	Aliases: []string{"gc"},
	Short:   "Remove saved sessions older than the configured age",
	Long: `Delete saved sessions whose close time is older than the cleanup age in
settings.yaml (cleanup_age_days, default 30). The same sweep runs periodically
in the background while coterm is attached to a session.

With --kill-orphans, agent processes left behind by crashed coterm runs are
killed as well.`,
	Args: cobra.NoArgs,
	RunE: runCleanupCmd,
}

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupKillOrphans, "kill-orphans", false,
		"kill agent processes that no saved session owns")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanupCmd(cmd *cobra.Command, args []string) error {
	m, settings, err := openManager()
	if err != nil {
		return err
	}

	removed, kept, err := m.RunCleanup()
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		fmt.Printf("no sessions older than %d days (%d kept)\n", settings.CleanupAgeDays, kept)
	} else {
		fmt.Printf("removed %d expired session(s), kept %d\n", len(removed), kept)
	}

	if cleanupKillOrphans {
		metas, err := m.Records()
		if err != nil {
			return err
		}
		known := make(map[string]bool, len(metas))
		for _, meta := range metas {
			known[meta.ID] = true
		}
		killed, err := process.CleanupOrphaned(known)
		if err != nil {
			return err
		}
		fmt.Printf("killed %d orphaned agent process(es)\n", killed)
	}
	return nil
}
