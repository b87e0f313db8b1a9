package agent

import (
	"fmt"
	"strconv"

	"github.com/coterm/coterm-core/config"
)

// CommandFor maps a session's model configuration to the provider CLI
// invocation. Exported so argument construction can be tested without
// spawning anything.
func CommandFor(cfg config.SessionConfig, sessionID string) (binary string, args []string, err error) {
	switch cfg.Provider {
	case "anthropic":
		args = []string{
			"--print",
			"--output-format", "stream-json",
			"--input-format", "stream-json",
			"--verbose",
			"--session-id", sessionID,
			"--model", cfg.Model,
		}
		return "claude", args, nil

	case "openai":
		args = []string{
			"exec",
			"--json",
			"--model", cfg.Model,
		}
		return "codex", args, nil

	case "local":
		args = []string{"run", cfg.Model}
		if cfg.Temperature != nil {
			args = append(args, "--temperature", strconv.FormatFloat(*cfg.Temperature, 'f', -1, 64))
		}
		return "ollama", args, nil

	default:
		return "", nil, fmt.Errorf("no agent command for provider %q", cfg.Provider)
	}
}
