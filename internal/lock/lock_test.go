package lock

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquireWritesOwner(t *testing.T) {
	dir := t.TempDir()

	l, err := Acquire(dir)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer l.Release()

	raw, err := os.ReadFile(filepath.Join(dir, "LOCK"))
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	if !strings.Contains(string(raw), "pid=") {
		t.Fatalf("lock file has no owner stamp: %q", raw)
	}
	if got := ownerPID(string(raw)); got != os.Getpid() {
		t.Fatalf("owner pid = %d, want %d", got, os.Getpid())
	}
}

func TestSecondAcquireReportsOwner(t *testing.T) {
	dir := t.TempDir()

	l, err := Acquire(dir)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer l.Release()

	_, err = Acquire(dir)
	if err == nil {
		t.Fatal("second acquire succeeded")
	}
	var held *HeldError
	if !errors.As(err, &held) {
		t.Fatalf("error = %T: %v", err, err)
	}
	if held.PID != os.Getpid() {
		t.Fatalf("reported pid = %d, want %d", held.PID, os.Getpid())
	}
}

func TestReleaseRemovesFile(t *testing.T) {
	dir := t.TempDir()

	l, err := Acquire(dir)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "LOCK")); !os.IsNotExist(err) {
		t.Fatal("lock file survives release")
	}

	// Released sessions can be taken again, and Release is idempotent.
	if err := l.Release(); err != nil {
		t.Fatalf("second release: %v", err)
	}
	l2, err := Acquire(dir)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	l2.Release()
}

func TestReleaseNil(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Fatalf("nil release: %v", err)
	}
}
