package cli

import (
	"github.com/spf13/cobra"
)

var resumeNoSave bool

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Resume a saved session",
	Long: `Reactivate a saved session with its full conversation history and attach
to it interactively. The session's project directory is re-validated before
the session goes live.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().BoolVar(&resumeNoSave, "no-save", false, "discard the session on exit")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	m, _, err := openManager()
	if err != nil {
		return err
	}
	m.StartSweeper()
	defer m.Shutdown()

	sess, err := m.Resume(args[0])
	if err != nil {
		return err
	}

	if err := validateProviderTooling(sess.Config().Provider); err != nil {
		return err
	}

	save := runSessionLoop(m, sess, !resumeNoSave)
	return finishSession(m, sess, save)
}
