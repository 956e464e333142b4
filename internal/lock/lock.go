// Package lock guards a session directory against a second daemon.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const fileName = "LOCK"

// HeldError reports that another daemon owns the session.
type HeldError struct {
	PID  int
	Path string
}

func (e *HeldError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("session locked by pid %d (%s)", e.PID, e.Path)
	}
	return fmt.Sprintf("session locked (%s)", e.Path)
}

// Lock is a held session lock. The flock is released when the process
// exits, so a crashed daemon never leaves the session stuck.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the session lock without blocking. A HeldError carries
// the owning pid when it can be read back from the lock file.
func Acquire(sessionDir string) (*Lock, error) {
	path := filepath.Join(sessionDir, fileName)

	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		raw, _ := os.ReadFile(path)
		f.Close()
		return nil, &HeldError{PID: ownerPID(string(raw)), Path: path}
	}

	if err := stamp(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	return &Lock{file: f, path: path}, nil
}

// stamp records the owner for diagnostics; the flock itself is the lock.
func stamp(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f, "pid=%d\nsince=%s\n",
		os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	return err
}

// Release drops the lock and removes the file. Nil-safe.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

func ownerPID(raw string) int {
	for _, line := range strings.Split(raw, "\n") {
		if after, ok := strings.CutPrefix(line, "pid="); ok {
			pid, _ := strconv.Atoi(strings.TrimSpace(after))
			return pid
		}
	}
	return 0
}
