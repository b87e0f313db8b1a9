// Package manager implements the session registry and supervisor: the
// bounded set of active sessions, lazy agent startup, checkpoint and
// close-time persistence, the rate-limited resume protocol, and the cleanup
// sweeper for expired records.
package manager

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coterm/coterm-core/config"
	"github.com/coterm/coterm-core/conversation"
	"github.com/coterm/coterm-core/logger"
	"github.com/coterm/coterm-core/persist"
	"github.com/coterm/coterm-core/ratelimit"
	"github.com/coterm/coterm-core/security"
)

var (
	// ErrSessionNotFound is returned when no active session has the id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionLimitReached is returned by Create and Resume when the
	// active-session ceiling is hit.
	ErrSessionLimitReached = errors.New("session limit reached")
	// ErrSessionActive is returned by Resume when the session is already
	// active.
	ErrSessionActive = errors.New("session is already active")
	// ErrProjectPathInUse is returned when another active session already
	// claims the project path.
	ErrProjectPathInUse = errors.New("project path already in use by an active session")
	// ErrNameTooLong is returned when a session name exceeds MaxNameLength.
	ErrNameTooLong = errors.New("session name too long")
)

// MaxNameLength bounds session display names.
const MaxNameLength = 128

// Manager owns the active-session registry and coordinates the persistence
// store, rate limiter, and cleanup sweeper. Safe for concurrent use.
type Manager struct {
	settings config.Settings
	store    *persist.Store
	limiter  *ratelimit.Limiter
	log      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// New creates a Manager over the given store.
func New(settings config.Settings, store *persist.Store) *Manager {
	return &Manager{
		settings: settings,
		store:    store,
		limiter: ratelimit.New(
			settings.ResumeRate.Limit, settings.ResumeRate.Window(),
			settings.ResumeGlobalRate.Limit, settings.ResumeGlobalRate.Window(),
		),
		log:      logger.WithComponent("manager"),
		sessions: make(map[string]*Session),
	}
}

// Create registers a new session bound to projectPath. The agent process is
// not started; that happens lazily on the first prompt. A project path held
// by another active session is rejected.
func (m *Manager) Create(name, projectPath string, override config.SessionConfig) (*Session, error) {
	if len(name) > MaxNameLength {
		return nil, ErrNameTooLong
	}

	snapshot, err := security.ValidateProjectPath(projectPath)
	if err != nil {
		return nil, fmt.Errorf("invalid project path: %w", err)
	}

	cfg := config.DefaultSessionConfig().Merge(override)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sess := &Session{
		ID:           uuid.New().String(),
		ProjectPath:  projectPath,
		CreatedAt:    now,
		State:        conversation.NewState(),
		name:         name,
		config:       cfg,
		status:       StatusDisconnected,
		updatedAt:    now,
		pathSnapshot: snapshot,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.settings.MaxSessions {
		return nil, fmt.Errorf("%d sessions active (limit %d): %w",
			len(m.sessions), m.settings.MaxSessions, ErrSessionLimitReached)
	}
	if holder := m.pathHolderLocked(projectPath); holder != "" {
		return nil, ErrProjectPathInUse
	}
	m.sessions[sess.ID] = sess

	m.log.Info("session created", "sessionID", sess.ID, "name", name, "projectPath", projectPath)
	return sess, nil
}

// Get returns the active session with the given id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// pathHolderLocked returns the id of the active session claiming projectPath,
// or "" when none does. Caller holds m.mu.
func (m *Manager) pathHolderLocked(projectPath string) string {
	for id, sess := range m.sessions {
		if sess.ProjectPath == projectPath {
			return id
		}
	}
	return ""
}

// Info summarizes one active session for listings.
type Info struct {
	ID           string
	Name         string
	ProjectPath  string
	CreatedAt    time.Time
	Status       Status
	AgentRunning bool
	Messages     int
}

// List returns a snapshot of all active sessions, oldest first.
func (m *Manager) List() []Info {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.Unlock()

	infos := make([]Info, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, Info{
			ID:           sess.ID,
			Name:         sess.Name(),
			ProjectPath:  sess.ProjectPath,
			CreatedAt:    sess.CreatedAt,
			Status:       sess.Status(),
			AgentRunning: sess.AgentRunning(),
			Messages:     len(sess.State.Messages()),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// EnsureAgentRunning starts the session's agent process if it is not already
// running and returns its pid. Double-checked so concurrent prompts race to a
// single start. A failed start leaves the session usable with its
// conversation intact and the status set to error.
func (m *Manager) EnsureAgentRunning(id string) (int, error) {
	sess, err := m.Get(id)
	if err != nil {
		return 0, err
	}

	sess.mu.Lock()
	if sess.runner != nil && sess.runner.IsRunning() {
		pid := sess.runner.PID()
		sess.mu.Unlock()
		return pid, nil
	}
	old := sess.runner
	sess.runner = nil
	sess.mu.Unlock()

	// A crashed runner may still hold a pending restart; stop it for good
	// before attaching a new one so two processes never serve one session.
	if old != nil {
		old.Stop()
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.runner != nil && sess.runner.IsRunning() {
		return sess.runner.PID(), nil
	}
	if err := sess.startAgentLocked(m.settings.AgentStartupTimeout()); err != nil {
		sess.status = StatusError
		sess.touchLocked()
		return 0, err
	}
	sess.status = StatusConnected
	sess.touchLocked()
	return sess.runner.PID(), nil
}

// Rename changes the session's display name.
func (m *Manager) Rename(id, name string) error {
	sess, err := m.Get(id)
	if err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("session name must not be empty")
	}
	if len(name) > MaxNameLength {
		return ErrNameTooLong
	}

	sess.mu.Lock()
	sess.name = name
	sess.touchLocked()
	sess.mu.Unlock()

	m.log.Info("session renamed", "sessionID", id, "name", name)
	return nil
}

// Save checkpoints the session to disk without closing it, returning the
// record's file path. A save already in flight for the same session fails
// with persist.ErrSaveInProgress.
func (m *Manager) Save(id string) (string, error) {
	sess, err := m.Get(id)
	if err != nil {
		return "", err
	}
	return m.store.Save(recordFrom(sess))
}

// Close stops the session's agent and removes it from the registry. When
// save is true a best-effort final save runs first; a failed save is logged
// and the close proceeds, losing the unsaved in-memory delta.
func (m *Manager) Close(id string, save bool) error {
	sess, err := m.Get(id)
	if err != nil {
		return err
	}

	if save {
		if _, err := m.store.Save(recordFrom(sess)); err != nil {
			m.log.Error("final save failed, closing anyway", "sessionID", id, "error", err)
		}
	}

	sess.stopAgent()
	sess.State.Clear()

	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()

	m.log.Info("session closed", "sessionID", id, "saved", save)
	return nil
}

// Resume reactivates a persisted session. The attempt is rate limited per
// session id and globally before any disk access; denied attempts still
// count toward both windows. The persisted project path is validated, and
// re-checked immediately before the session is registered, so a path swapped
// between validation and use is caught.
func (m *Manager) Resume(id string) (*Session, error) {
	if err := m.limiter.Allow(id); err != nil {
		m.log.Warn("resume rate limited", "sessionID", id, "error", err)
		return nil, err
	}

	m.mu.Lock()
	_, active := m.sessions[id]
	m.mu.Unlock()
	if active {
		return nil, ErrSessionActive
	}

	rec, err := m.store.Load(id)
	if err != nil {
		return nil, err
	}

	snapshot, err := security.ValidateProjectPath(rec.ProjectPath)
	if err != nil {
		return nil, fmt.Errorf("persisted project path is no longer valid: %w", err)
	}

	state := conversation.NewState()
	state.Restore(conversation.Snapshot{
		Messages: rec.Conversation,
		Todos:    rec.Todos,
	})

	now := time.Now().UTC()
	sess := &Session{
		ID:           rec.ID,
		ProjectPath:  rec.ProjectPath,
		CreatedAt:    now,
		State:        state,
		name:         rec.Name,
		config:       rec.Config,
		status:       StatusDisconnected,
		updatedAt:    now,
		pathSnapshot: snapshot,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[id]; exists {
		return nil, ErrSessionActive
	}
	if len(m.sessions) >= m.settings.MaxSessions {
		return nil, fmt.Errorf("%d sessions active (limit %d): %w",
			len(m.sessions), m.settings.MaxSessions, ErrSessionLimitReached)
	}
	if holder := m.pathHolderLocked(rec.ProjectPath); holder != "" {
		return nil, ErrProjectPathInUse
	}

	// Last step before the session goes live: confirm the project path is
	// still the directory that was validated above.
	if err := snapshot.Recheck(); err != nil {
		m.log.Warn("project path changed during resume", "sessionID", id, "error", err)
		return nil, err
	}
	m.sessions[id] = sess

	m.log.Info("session resumed", "sessionID", id, "name", rec.Name, "messages", len(rec.Conversation))
	return sess, nil
}

// DeleteRecord removes a persisted session record and forgets its rate-limit
// history.
func (m *Manager) DeleteRecord(id string) error {
	if err := m.store.Delete(id); err != nil {
		return err
	}
	m.limiter.Forget(id)
	return nil
}

// Records lists persisted session records.
func (m *Manager) Records() ([]persist.Meta, error) {
	return m.store.List()
}

// Shutdown saves every active session, stops all agents, and halts the
// sweeper. Save failures are logged and do not block the rest of shutdown.
func (m *Manager) Shutdown() {
	m.StopSweeper()

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, sess := range sessions {
		if _, err := m.store.Save(recordFrom(sess)); err != nil {
			m.log.Error("failed to save session during shutdown", "sessionID", sess.ID, "error", err)
		}
		sess.stopAgent()
	}

	m.log.Info("manager shut down", "sessions", len(sessions))
}

// recordFrom builds a persistable record from the session's current state.
func recordFrom(sess *Session) *persist.Record {
	snap := sess.State.Snapshot()
	return &persist.Record{
		Version:      persist.SchemaVersion,
		ID:           sess.ID,
		Name:         sess.Name(),
		ProjectPath:  sess.ProjectPath,
		Config:       sess.Config(),
		ClosedAt:     time.Now().UTC(),
		Conversation: snap.Messages,
		Todos:        snap.Todos,
	}
}
