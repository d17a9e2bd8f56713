package project

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// GlobalDir is the per-user orch directory under the home directory.
	GlobalDir = ".orch"
	// LocalDir is the orch directory inside the working directory.
	LocalDir = ".orch"
	// DBFile is the default SQLite database file name.
	DBFile = "orch.db"
)

// GlobalPath returns ~/.orch.
func GlobalPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, GlobalDir), nil
}

// DefaultDBPath returns the database path used when none is configured.
// Path: .orch/orch.db
func DefaultDBPath() string {
	return filepath.Join(LocalDir, DBFile)
}

// EnsureDataDir creates the directory holding dbPath.
func EnsureDataDir(dbPath string) error {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}
