package manager

import "time"

// StartSweeper launches the background cleanup loop. Each pass deletes
// persisted records older than the configured age, skipping any session that
// is currently active. Calling StartSweeper on a running sweeper is a no-op.
func (m *Manager) StartSweeper() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sweepStop != nil {
		return
	}
	m.sweepStop = make(chan struct{})
	m.sweepDone = make(chan struct{})

	go m.sweepLoop(m.sweepStop, m.sweepDone)
	m.log.Info("cleanup sweeper started", "interval", m.settings.SweepInterval())
}

// StopSweeper halts the background loop and waits for an in-flight pass to
// finish. Safe to call when the sweeper was never started.
func (m *Manager) StopSweeper() {
	m.mu.Lock()
	stop := m.sweepStop
	done := m.sweepDone
	m.sweepStop = nil
	m.sweepDone = nil
	m.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (m *Manager) sweepLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.settings.SweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, _, err := m.RunCleanup(); err != nil {
				m.log.Error("cleanup sweep failed", "error", err)
			}
		}
	}
}

// RunCleanup performs one cleanup pass, returning the removed session ids
// and the number of records kept. Listing failures propagate so a permission
// problem is never mistaken for an empty store.
func (m *Manager) RunCleanup() ([]string, int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -m.settings.CleanupAgeDays)

	removed, kept, err := m.store.Cleanup(cutoff, m.isActive)
	if err != nil {
		return removed, kept, err
	}
	for _, id := range removed {
		m.limiter.Forget(id)
	}
	if len(removed) > 0 {
		m.log.Info("cleanup pass removed expired records", "deleted", len(removed), "kept", kept)
	}
	return removed, kept, nil
}

// isActive reports whether a record's session id, or the project path it
// names, belongs to a currently active session. Such records are never swept.
func (m *Manager) isActive(id, projectPath string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; ok {
		return true
	}
	return projectPath != "" && m.pathHolderLocked(projectPath) != ""
}
