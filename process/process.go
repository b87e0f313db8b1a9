// Package process finds and cleans up agent processes left behind by crashed
// coterm runs. Agent processes are launched with a --session-id flag, which
// is how an orphan is tied back to (or found missing from) the known
// sessions.
package process

import (
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/coterm/coterm-core/logger"
)

// AgentProcess is a running agent CLI process found on the system.
type AgentProcess struct {
	PID     int
	Command string
}

// agentPattern matches the process invocations coterm itself produces.
const agentPattern = "(claude|codex|ollama).*--session-id"

// FindAgentProcesses finds all running agent processes on the system,
// including ones no live coterm session owns.
func FindAgentProcesses() ([]AgentProcess, error) {
	var processes []AgentProcess
	log := logger.WithComponent("process")

	switch runtime.GOOS {
	case "darwin", "linux":
		cmd := exec.Command("pgrep", "-f", agentPattern)
		output, err := cmd.Output()
		if err != nil {
			// pgrep exits 1 when nothing matches.
			if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
				return processes, nil
			}
			return nil, err
		}

		for _, pidStr := range strings.Fields(string(output)) {
			pid, err := strconv.Atoi(strings.TrimSpace(pidStr))
			if err != nil {
				continue
			}

			psOutput, err := exec.Command("ps", "-p", pidStr, "-o", "args=").Output()
			if err != nil {
				continue
			}

			processes = append(processes, AgentProcess{
				PID:     pid,
				Command: strings.TrimSpace(string(psOutput)),
			})
		}
	}

	log.Debug("found agent processes", "count", len(processes))
	return processes, nil
}

// FindOrphaned returns agent processes whose session id is not in
// knownSessionIDs.
func FindOrphaned(knownSessionIDs map[string]bool) ([]AgentProcess, error) {
	all, err := FindAgentProcesses()
	if err != nil {
		return nil, err
	}

	log := logger.WithComponent("process")
	var orphans []AgentProcess
	for _, proc := range all {
		sessionID := ExtractSessionID(proc.Command)
		if sessionID != "" && !knownSessionIDs[sessionID] {
			orphans = append(orphans, proc)
			log.Info("found orphaned agent process", "pid", proc.PID, "sessionID", sessionID)
		}
	}
	return orphans, nil
}

// ExtractSessionID pulls the session id out of an agent command line.
func ExtractSessionID(cmdLine string) string {
	_, after, ok := strings.Cut(cmdLine, "--session-id")
	if !ok {
		return ""
	}
	rest := strings.TrimLeft(after, " =")
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// KillProcess kills a process by PID.
func KillProcess(pid int) error {
	switch runtime.GOOS {
	case "darwin", "linux":
		return exec.Command("kill", "-9", strconv.Itoa(pid)).Run()
	case "windows":
		return exec.Command("taskkill", "/F", "/PID", strconv.Itoa(pid)).Run()
	}
	return nil
}

// CleanupOrphaned kills every agent process that no known session owns and
// returns the number killed. Kill failures are logged and skipped so one
// stuck process does not block the rest.
func CleanupOrphaned(knownSessionIDs map[string]bool) (int, error) {
	orphans, err := FindOrphaned(knownSessionIDs)
	if err != nil {
		return 0, err
	}

	log := logger.WithComponent("process")
	killed := 0
	for _, proc := range orphans {
		log.Info("killing orphaned agent process", "pid", proc.PID)
		if err := KillProcess(proc.PID); err != nil {
			log.Error("failed to kill process", "pid", proc.PID, "error", err)
			continue
		}
		killed++
	}
	return killed, nil
}
