// Package security provides the project-path validation primitive used by
// the resume protocol. A path is validated by capturing a Snapshot of its
// identity (device/inode, owner, permission bits); immediately before the
// path is trusted, the snapshot is re-checked against a fresh stat. Any
// difference fails the check.
package security

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
)

var (
	// ErrNotADirectory is returned when the path exists but is not a directory.
	ErrNotADirectory = errors.New("not a directory")
	// ErrProjectPathChanged is returned by Recheck when any captured field
	// differs from the fresh stat.
	ErrProjectPathChanged = errors.New("project path changed since validation")
)

// Snapshot captures the identity of a project directory at validation time.
// It is transient and never persisted; its only purpose is to be compared
// against a fresh capture moments later.
type Snapshot struct {
	Path   string
	Device uint64
	Inode  uint64
	UID    uint32
	GID    uint32
	Mode   fs.FileMode
}

// ValidateProjectPath checks that path is an absolute, existing, readable
// directory and captures a Snapshot of its identity.
func ValidateProjectPath(path string) (Snapshot, error) {
	if !filepath.IsAbs(path) {
		return Snapshot{}, fmt.Errorf("project path must be absolute, got %q", path)
	}

	snap, err := capture(path)
	if err != nil {
		return Snapshot{}, err
	}

	// Basic permission check: the directory must be openable for listing.
	f, err := os.Open(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("project path not readable: %w", err)
	}
	f.Close()

	return snap, nil
}

// Recheck re-stats the path and compares every captured field against the
// fresh read. It must remain the only work between validation and use of
// the path.
func (s Snapshot) Recheck() error {
	fresh, err := capture(s.Path)
	if err != nil {
		return fmt.Errorf("re-stat failed: %w", errors.Join(err, ErrProjectPathChanged))
	}

	switch {
	case fresh.Device != s.Device:
		return fmt.Errorf("device %d became %d: %w", s.Device, fresh.Device, ErrProjectPathChanged)
	case fresh.Inode != s.Inode:
		return fmt.Errorf("inode %d became %d: %w", s.Inode, fresh.Inode, ErrProjectPathChanged)
	case fresh.UID != s.UID:
		return fmt.Errorf("owner uid %d became %d: %w", s.UID, fresh.UID, ErrProjectPathChanged)
	case fresh.GID != s.GID:
		return fmt.Errorf("owner gid %d became %d: %w", s.GID, fresh.GID, ErrProjectPathChanged)
	case fresh.Mode != s.Mode:
		return fmt.Errorf("mode %v became %v: %w", s.Mode, fresh.Mode, ErrProjectPathChanged)
	}
	return nil
}

// capture stats the path and extracts the identity fields. Uses Lstat so a
// directory swapped for a symlink is seen as a change, not followed.
func capture(path string) (Snapshot, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return Snapshot{}, err
	}
	if !info.IsDir() {
		return Snapshot{}, fmt.Errorf("%s: %w", filepath.Base(path), ErrNotADirectory)
	}

	snap := Snapshot{
		Path: path,
		Mode: info.Mode(),
	}

	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		snap.Device = uint64(st.Dev)
		snap.Inode = uint64(st.Ino)
		snap.UID = st.Uid
		snap.GID = st.Gid
	}

	return snap, nil
}
