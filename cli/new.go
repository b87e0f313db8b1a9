package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/coterm/coterm-core/config"
)

var (
	newName      string
	newProvider  string
	newModel     string
	newTemp      float64
	newMaxTokens int
	newNoSave    bool
)

var newCmd = &cobra.Command{
	Use:     "new [project-path]",
	Aliases: []string{"create"},
	Short:   "Start a new session in a project directory",
	Long: `Start a new coding session bound to a project directory (the current
directory when omitted) and attach to it interactively. On exit the session
is saved unless --no-save is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runNew,
}

func init() {
	newCmd.Flags().StringVar(&newName, "name", "", "session display name")
	newCmd.Flags().StringVar(&newProvider, "provider", "", "model provider (anthropic, openai, local)")
	newCmd.Flags().StringVar(&newModel, "model", "", "model name")
	newCmd.Flags().Float64Var(&newTemp, "temperature", -1, "sampling temperature (0-2)")
	newCmd.Flags().IntVar(&newMaxTokens, "max-tokens", 0, "response token limit")
	newCmd.Flags().BoolVar(&newNoSave, "no-save", false, "discard the session on exit")
	rootCmd.AddCommand(newCmd)
}

func runNew(cmd *cobra.Command, args []string) error {
	project, err := resolveProjectPath(args)
	if err != nil {
		return err
	}

	override := config.SessionConfig{
		Provider:  newProvider,
		Model:     newModel,
		MaxTokens: newMaxTokens,
	}
	if newTemp >= 0 {
		override.Temperature = &newTemp
	}

	provider := override.Provider
	if provider == "" {
		provider = config.DefaultSessionConfig().Provider
	}
	if err := validateProviderTooling(provider); err != nil {
		return err
	}

	m, _, err := openManager()
	if err != nil {
		return err
	}
	m.StartSweeper()
	defer m.Shutdown()

	name := newName
	if name == "" {
		name = filepath.Base(project)
	}

	sess, err := m.Create(name, project, override)
	if err != nil {
		return err
	}

	save := runSessionLoop(m, sess, !newNoSave)
	return finishSession(m, sess, save)
}

func resolveProjectPath(args []string) (string, error) {
	if len(args) == 1 {
		abs, err := filepath.Abs(args[0])
		if err != nil {
			return "", fmt.Errorf("failed to resolve project path: %w", err)
		}
		return abs, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to resolve working directory: %w", err)
	}
	return wd, nil
}
