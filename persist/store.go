// Package persist implements the session persistence engine: signed JSON
// records written atomically to the sessions directory, keyed material for
// signing, and the save-lock table that serializes saves per session.
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coterm/coterm-core/config"
	"github.com/coterm/coterm-core/conversation"
	"github.com/coterm/coterm-core/logger"
	"github.com/coterm/coterm-core/paths"
)

var (
	// ErrNotFound is returned when no record exists for a session id.
	ErrNotFound = errors.New("session record not found")
	// ErrRecordTooLarge is returned when a record exceeds the size limit,
	// on save or on load.
	ErrRecordTooLarge = errors.New("session record exceeds size limit")
	// ErrStoreFull is returned on save when the persisted-session ceiling
	// has been reached.
	ErrStoreFull = errors.New("persisted session limit reached")
)

// Store reads and writes session records in a single directory. All writes
// are atomic (temp file + rename) and all records are HMAC-signed. Safe for
// concurrent use.
type Store struct {
	dir      string
	key      []byte
	maxBytes int64
	maxTotal int
	locks    *saveLocks
	log      *slog.Logger

	// capMu spans the capacity check and the write that follows it, so two
	// concurrent saves of new sessions cannot both squeeze past the ceiling.
	capMu sync.Mutex
}

// Open creates a Store rooted at the standard sessions directory, deriving
// the signing key for this machine.
func Open(settings config.Settings) (*Store, error) {
	dir, err := paths.SessionsDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sessions directory: %w", err)
	}
	key, err := DeriveKey()
	if err != nil {
		return nil, fmt.Errorf("failed to derive signing key: %w", err)
	}
	return NewStore(dir, key, settings), nil
}

// NewStore creates a Store over an explicit directory and key.
func NewStore(dir string, key []byte, settings config.Settings) *Store {
	return &Store{
		dir:      dir,
		key:      key,
		maxBytes: settings.MaxRecordBytes,
		maxTotal: settings.MaxTotalSessions,
		locks:    newSaveLocks(),
		log:      logger.WithComponent("persist"),
	}
}

// Save signs and writes the record atomically, returning the final file
// path. At most one save per session id may be in flight; a second
// concurrent save fails immediately with ErrSaveInProgress. The record file
// never exists in a partially written state: content goes to a temp file in
// the same directory which is renamed over the final path.
func (s *Store) Save(rec *Record) (string, error) {
	if err := s.locks.acquire(rec.ID); err != nil {
		return "", err
	}
	defer s.locks.release(rec.ID)

	if rec.Version == 0 {
		rec.Version = SchemaVersion
	}
	if err := rec.Validate(); err != nil {
		return "", fmt.Errorf("refusing to save invalid record: %w", err)
	}
	if _, err := uuid.Parse(rec.ID); err != nil {
		return "", fmt.Errorf("invalid session id %q: %w", rec.ID, err)
	}

	// The ceiling check only holds if no other save can land a new record
	// between the count and the rename below.
	s.capMu.Lock()
	defer s.capMu.Unlock()

	if err := s.checkCapacity(rec.ID); err != nil {
		return "", err
	}

	if err := rec.Sign(s.key); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize record: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return "", fmt.Errorf("record is %d bytes (limit %d): %w", len(data), s.maxBytes, ErrRecordTooLarge)
	}

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create sessions directory: %w", err)
	}

	final := s.recordPath(rec.ID)
	tmp, err := os.CreateTemp(s.dir, rec.ID+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if err := writeAndClose(tmp, data); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to finalize record: %w", err)
	}

	s.log.Info("session record saved", "sessionID", rec.ID, "bytes", len(data))
	return final, nil
}

func writeAndClose(f *os.File, data []byte) error {
	if err := f.Chmod(0o600); err != nil {
		f.Close()
		return fmt.Errorf("failed to set record permissions: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync record: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close record: %w", err)
	}
	return nil
}

// checkCapacity enforces the persisted-session ceiling. Overwriting an
// existing record never counts against it.
func (s *Store) checkCapacity(id string) error {
	if _, err := os.Stat(s.recordPath(id)); err == nil {
		return nil
	}

	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to list sessions directory: %w", err)
	}

	count := 0
	for _, entry := range entries {
		if isRecordName(entry.Name()) {
			count++
		}
	}
	if count >= s.maxTotal {
		return fmt.Errorf("%d records present (limit %d): %w", count, s.maxTotal, ErrStoreFull)
	}
	return nil
}

// Load reads, parses, and verifies the record for id. Tampered or unsigned
// records fail with ErrInvalidSignature; newer schema versions with
// ErrUnsupportedSchema. Permission errors surface as-is.
func (s *Store) Load(id string) (*Record, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid session id %q: %w", id, err)
	}

	path := s.recordPath(id)
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat record: %w", err)
	}
	if info.Size() > s.maxBytes {
		return nil, fmt.Errorf("record is %d bytes (limit %d): %w", info.Size(), s.maxBytes, ErrRecordTooLarge)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse record for session %s: %w", id, err)
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if rec.ID != id {
		return nil, fmt.Errorf("record id %q does not match file %s: %w", rec.ID, filepath.Base(path), ErrInvalidSignature)
	}
	if err := rec.Verify(s.key); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Meta summarizes one persisted record for listings.
type Meta struct {
	ID          string
	Name        string
	ProjectPath string
	ClosedAt    time.Time
	SizeBytes   int64
	TodosDone   int
	TodosTotal  int
}

// List returns metadata for every readable record, newest first. Directory
// errors propagate: a permission failure is reported, never returned as an
// empty list. Individual unreadable or corrupt records are logged and
// skipped so one bad file does not hide the rest.
func (s *Store) List() ([]Meta, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions directory: %w", err)
	}

	var metas []Meta
	for _, entry := range entries {
		if !isRecordName(entry.Name()) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())

		info, err := entry.Info()
		if err != nil {
			s.log.Warn("skipping unreadable record", "file", entry.Name(), "error", err)
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			s.log.Warn("skipping unreadable record", "file", entry.Name(), "error", err)
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			s.log.Warn("skipping corrupt record", "file", entry.Name(), "error", err)
			continue
		}

		_, _, todosDone := conversation.CountTodosByStatus(rec.Todos)
		metas = append(metas, Meta{
			ID:          rec.ID,
			Name:        rec.Name,
			ProjectPath: rec.ProjectPath,
			ClosedAt:    rec.ClosedAt,
			SizeBytes:   info.Size(),
			TodosDone:   todosDone,
			TodosTotal:  len(rec.Todos),
		})
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].ClosedAt.After(metas[j].ClosedAt)
	})
	return metas, nil
}

// Delete removes the record for id. Missing records are ErrNotFound.
func (s *Store) Delete(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid session id %q: %w", id, err)
	}
	err := os.Remove(s.recordPath(id))
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	s.log.Info("session record deleted", "sessionID", id)
	return nil
}

// Cleanup deletes records closed before cutoff, skipping any record whose id
// or project path skip reports as active, and returns the ids deleted plus
// the number of records kept. The listing error propagates; per-record
// failures are collected and the sweep continues past them.
func (s *Store) Cleanup(cutoff time.Time, skip func(id, projectPath string) bool) ([]string, int, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list sessions directory: %w", err)
	}

	var removed []string
	var kept int
	var errs []error
	for _, entry := range entries {
		if !isRecordName(entry.Name()) {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")

		closedAt, projectPath, ok := s.recordAge(entry)
		if !ok || !closedAt.Before(cutoff) {
			kept++
			continue
		}
		if skip != nil && skip(id, projectPath) {
			kept++
			continue
		}

		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", entry.Name(), err))
			kept++
			continue
		}
		removed = append(removed, id)
		s.log.Info("expired session record removed", "sessionID", id, "closedAt", closedAt)
	}
	return removed, kept, errors.Join(errs...)
}

// recordAge returns the record's ClosedAt and project path, falling back to
// file mtime when the record cannot be parsed.
func (s *Store) recordAge(entry os.DirEntry) (time.Time, string, bool) {
	path := filepath.Join(s.dir, entry.Name())

	data, err := os.ReadFile(path)
	if err == nil {
		var rec Record
		if json.Unmarshal(data, &rec) == nil && !rec.ClosedAt.IsZero() {
			return rec.ClosedAt, rec.ProjectPath, true
		}
	}

	info, err := entry.Info()
	if err != nil {
		s.log.Warn("cannot determine record age", "file", entry.Name(), "error", err)
		return time.Time{}, "", false
	}
	return info.ModTime(), "", true
}

// Exists reports whether a record file is present for id, without reading it.
func (s *Store) Exists(id string) bool {
	if _, err := uuid.Parse(id); err != nil {
		return false
	}
	_, err := os.Stat(s.recordPath(id))
	return err == nil
}

// Dir returns the directory the store reads and writes.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) recordPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// isRecordName matches <uuid>.json and nothing else, so temp files from
// in-flight saves are never treated as records.
func isRecordName(name string) bool {
	base, found := strings.CutSuffix(name, ".json")
	if !found {
		return false
	}
	_, err := uuid.Parse(base)
	return err == nil
}
