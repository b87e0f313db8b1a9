package cli

import (
	"fmt"
	"os/exec"
	"strings"
)

// Prerequisite is an external CLI tool a provider depends on.
type Prerequisite struct {
	Name        string
	Description string
	InstallURL  string
}

// prerequisiteFor returns the tool needed to run sessions for a provider.
func prerequisiteFor(provider string) (Prerequisite, bool) {
	switch provider {
	case "anthropic":
		return Prerequisite{
			Name:        "claude",
			Description: "Claude Code CLI",
			InstallURL:  "https://claude.ai/code",
		}, true
	case "openai":
		return Prerequisite{
			Name:        "codex",
			Description: "Codex CLI",
			InstallURL:  "https://github.com/openai/codex",
		}, true
	case "local":
		return Prerequisite{
			Name:        "ollama",
			Description: "Ollama",
			InstallURL:  "https://ollama.com/download",
		}, true
	}
	return Prerequisite{}, false
}

// CheckResult contains the result of checking a prerequisite.
type CheckResult struct {
	Prerequisite Prerequisite
	Found        bool
	Path         string
	Version      string
}

// Check verifies that a CLI tool is available in PATH.
func Check(prereq Prerequisite) CheckResult {
	result := CheckResult{Prerequisite: prereq}

	path, err := exec.LookPath(prereq.Name)
	if err != nil {
		return result
	}
	result.Found = true
	result.Path = path
	result.Version = getVersion(prereq.Name)
	return result
}

// validateProviderTooling fails with install instructions when the
// provider's CLI is missing. Unknown providers are left for config
// validation to reject.
func validateProviderTooling(provider string) error {
	prereq, ok := prerequisiteFor(provider)
	if !ok {
		return nil
	}
	if result := Check(prereq); !result.Found {
		return fmt.Errorf("%s (%s) not found in PATH\n  Install: %s",
			prereq.Name, prereq.Description, prereq.InstallURL)
	}
	return nil
}

// getVersion attempts to get the version of a CLI tool. Different tools use
// different version flags.
func getVersion(name string) string {
	for _, flag := range []string{"--version", "-v", "version"} {
		output, err := exec.Command(name, flag).Output()
		if err != nil {
			continue
		}
		lines := strings.Split(string(output), "\n")
		if len(lines) == 0 {
			continue
		}
		version := strings.TrimSpace(lines[0])
		if len(version) > 100 {
			version = version[:100]
		}
		if version != "" {
			return version
		}
	}
	return ""
}
