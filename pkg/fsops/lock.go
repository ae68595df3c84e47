package fsops

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cclash/oslbench/pkg/harness"
)

// RunLock is an exclusive advisory lock on a file inside the work directory.
// It keeps two harness runs from deleting each other's working trees.
type RunLock struct {
	path string
	file *os.File
}

// AcquireRunLock takes the lock at path without blocking. A lock held by
// another process yields a LOCK_HELD error.
func AcquireRunLock(path string) (*RunLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := lockFile(f); err != nil {
		f.Close()
		return nil, harness.NewLockHeld(path, err)
	}

	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}

	return &RunLock{path: path, file: f}, nil
}

// Path returns the lock file location.
func (l *RunLock) Path() string {
	return l.path
}

// Release drops the lock. It is safe to call more than once.
func (l *RunLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unlockFile(l.file)
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	return err
}
