package manager

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coterm/coterm-core/agent"
	"github.com/coterm/coterm-core/config"
	"github.com/coterm/coterm-core/conversation"
	"github.com/coterm/coterm-core/logger"
	"github.com/coterm/coterm-core/security"
)

// Status tracks whether a session's agent has been started. "Agent not yet
// started" is an explicit state, not a nil runner check.
type Status string

const (
	// StatusDisconnected means the agent has not been started yet.
	StatusDisconnected Status = "disconnected"
	// StatusConnected means the agent process is attached.
	StatusConnected Status = "connected"
	// StatusError means the last agent start or restart failed permanently.
	StatusError Status = "error"
)

// Session is one active coding session: its identity, project binding,
// conversation state, and (once started) its agent process. The conversation
// state and agent runner fail and restart independently; losing the agent
// never loses the conversation.
type Session struct {
	ID          string
	ProjectPath string
	CreatedAt   time.Time

	// State survives agent crashes; it is only dropped when the session
	// closes without saving.
	State *conversation.State

	mu        sync.Mutex
	name      string
	config    config.SessionConfig
	runner    *agent.Runner
	status    Status
	updatedAt time.Time
	onLine    func(string)

	// pathSnapshot is the project path identity captured when the session
	// was created or resumed.
	pathSnapshot security.Snapshot
}

// Name returns the session's display name.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Status returns the session's agent connection status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// UpdatedAt returns the time of the last lifecycle change (rename, agent
// start, save).
func (s *Session) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

// touchLocked records a lifecycle change. Caller holds s.mu.
func (s *Session) touchLocked() {
	s.updatedAt = time.Now().UTC()
}

// Config returns a copy of the session's model configuration.
func (s *Session) Config() config.SessionConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// AgentRunning reports whether the session's agent process is alive.
func (s *Session) AgentRunning() bool {
	s.mu.Lock()
	runner := s.runner
	s.mu.Unlock()
	return runner != nil && runner.IsRunning()
}

// AgentPID returns the agent process id, or 0 when no agent is running.
func (s *Session) AgentPID() int {
	s.mu.Lock()
	runner := s.runner
	s.mu.Unlock()
	if runner == nil {
		return 0
	}
	return runner.PID()
}

// SendPrompt records the prompt in the conversation and forwards it to the
// agent process. The agent must already be running; the manager's
// EnsureAgentRunning handles lazy startup.
func (s *Session) SendPrompt(content string) error {
	s.mu.Lock()
	runner := s.runner
	s.mu.Unlock()

	if runner == nil || !runner.IsRunning() {
		return fmt.Errorf("agent not running for session")
	}

	s.State.AppendMessage(conversation.RoleUser, content)
	if err := runner.Send(append([]byte(content), '\n')); err != nil {
		return err
	}
	return nil
}

// stopAgent stops the agent process if one is running. The conversation
// state is untouched.
func (s *Session) stopAgent() {
	s.mu.Lock()
	runner := s.runner
	s.runner = nil
	s.status = StatusDisconnected
	s.touchLocked()
	s.mu.Unlock()

	if runner != nil {
		runner.Stop()
	}
}

// SetOutput installs a hook that receives each agent output line after it is
// recorded in the conversation. Used by the terminal frontend.
func (s *Session) SetOutput(fn func(string)) {
	s.mu.Lock()
	s.onLine = fn
	s.mu.Unlock()
}

// handleAgentLine routes one line of agent output into the conversation.
func (s *Session) handleAgentLine(line string) {
	text := strings.TrimRight(line, "\n")
	if text == "" {
		return
	}
	s.State.AppendMessage(conversation.RoleAssistant, text)

	s.mu.Lock()
	out := s.onLine
	s.mu.Unlock()
	if out != nil {
		out(text)
	}
}

// startAgentLocked creates and starts the runner. Caller holds s.mu; the
// double-checked pattern in EnsureAgentRunning guarantees a single starter.
func (s *Session) startAgentLocked(timeout time.Duration) error {
	binary, args, err := agent.CommandFor(s.config, s.ID)
	if err != nil {
		return err
	}

	log := logger.WithSession(s.ID)
	runner := agent.NewRunner(agent.Config{
		SessionID:      s.ID,
		WorkingDir:     s.ProjectPath,
		Binary:         binary,
		Args:           args,
		StartupTimeout: timeout,
	}, agent.Callbacks{
		OnLine: s.handleAgentLine,
		OnProcessExit: func(err error, stderr string) bool {
			log.Warn("agent exited unexpectedly", "error", err, "stderr", stderr)
			return true
		},
		OnRestartAttempt: func(attempt int) {
			s.State.AppendReasoningStep(fmt.Sprintf("agent restarting (attempt %d)", attempt))
		},
		OnFatalError: func(err error) {
			log.Error("agent failed permanently", "error", err)
			s.mu.Lock()
			s.status = StatusError
			s.touchLocked()
			s.mu.Unlock()
			s.State.AppendMessage(conversation.RoleSystem,
				"agent process failed and could not be restarted")
		},
	}, log)

	if err := runner.Start(); err != nil {
		return err
	}
	s.runner = runner
	return nil
}
