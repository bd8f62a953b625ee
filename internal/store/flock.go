package store

import (
	"fmt"
	"os"
	"syscall"
)

// Migrations from concurrent processes (the worker plus a CLI command
// started at the same time) race on goose's version table, so runs
// serialize on an advisory flock held next to the database file.

// acquireMigrationLock takes the exclusive lock, blocking until it is
// available. The returned handle must go to releaseMigrationLock.
func acquireMigrationLock(dbPath string) (*os.File, error) {
	lockPath := dbPath + ".migrate.lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600) //nolint:gosec // G304: lockPath derived from trusted dbPath
	if err != nil {
		return nil, fmt.Errorf("open migration lock %s: %w", lockPath, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("acquire migration lock %s: %w", lockPath, err)
	}
	return f, nil
}

// releaseMigrationLock drops the lock and closes the handle. Nil-safe.
func releaseMigrationLock(f *os.File) {
	if f == nil {
		return
	}
	_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	_ = f.Close()
}
