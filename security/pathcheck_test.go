package security

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestValidateProjectPathRejectsRelative(t *testing.T) {
	_, err := ValidateProjectPath("relative/path")
	if err == nil {
		t.Fatal("expected error for relative path")
	}
}

func TestValidateProjectPathMissing(t *testing.T) {
	_, err := ValidateProjectPath(filepath.Join(t.TempDir(), "does-not-exist"))
	if !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestValidateProjectPathFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := ValidateProjectPath(file)
	if !errors.Is(err, ErrNotADirectory) {
		t.Fatalf("expected ErrNotADirectory, got %v", err)
	}
}

func TestValidateProjectPathCapturesIdentity(t *testing.T) {
	dir := t.TempDir()

	snap, err := ValidateProjectPath(dir)
	if err != nil {
		t.Fatalf("ValidateProjectPath failed: %v", err)
	}
	if snap.Path != dir {
		t.Errorf("path = %q, want %q", snap.Path, dir)
	}
	if snap.Inode == 0 {
		t.Error("expected non-zero inode")
	}
	if !snap.Mode.IsDir() {
		t.Errorf("mode %v should be a directory", snap.Mode)
	}
}

func TestRecheckUnchanged(t *testing.T) {
	dir := t.TempDir()

	snap, err := ValidateProjectPath(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := snap.Recheck(); err != nil {
		t.Errorf("Recheck on unchanged dir failed: %v", err)
	}
}

func TestRecheckDeleted(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "project")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	snap, err := ValidateProjectPath(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(dir); err != nil {
		t.Fatal(err)
	}

	if err := snap.Recheck(); !errors.Is(err, ErrProjectPathChanged) {
		t.Fatalf("expected ErrProjectPathChanged, got %v", err)
	}
}

func TestRecheckReplaced(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "project")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	snap, err := ValidateProjectPath(dir)
	if err != nil {
		t.Fatal(err)
	}

	// Replace the directory with a new one at the same path. Same name,
	// different inode.
	if err := os.Remove(dir); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	if err := snap.Recheck(); !errors.Is(err, ErrProjectPathChanged) {
		t.Fatalf("expected ErrProjectPathChanged, got %v", err)
	}
}

func TestRecheckModeChanged(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "project")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	snap, err := ValidateProjectPath(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		t.Fatal(err)
	}

	if err := snap.Recheck(); !errors.Is(err, ErrProjectPathChanged) {
		t.Fatalf("expected ErrProjectPathChanged, got %v", err)
	}
}
