package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// runsDir is the root the Phase Runner records attempt working
// directories under (pipeline.go's "run_dir" output field).
const runsDir = "./runs"

// checkStartup verifies the database file's parent directory is writable
// and the runs directory tree root can be created, so a misconfigured
// QUEUE_DB_PATH or read-only filesystem surfaces as a clear startup error
// rather than a failure deep inside the first request.
func checkStartup(dbPath string) error {
	dbDir := filepath.Dir(dbPath)
	if dbDir == "" {
		dbDir = "."
	}
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return fmt.Errorf("database directory %q is not writable: %w", dbDir, err)
	}
	probe, err := os.CreateTemp(dbDir, ".ember-write-check-*")
	if err != nil {
		return fmt.Errorf("database directory %q is not writable: %w", dbDir, err)
	}
	probe.Close()
	_ = os.Remove(probe.Name())
	return checkRunsDir()
}

// checkRunsDir verifies the runs directory tree root can be created. A
// worker has no database file of its own, so it only needs this half of
// the startup check.
func checkRunsDir() error {
	if err := os.MkdirAll(runsDir, 0o755); err != nil {
		return fmt.Errorf("runs directory %q could not be created: %w", runsDir, err)
	}
	return nil
}
