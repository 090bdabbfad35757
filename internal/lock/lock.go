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

// HeldError is returned when another daemon process holds the session lock.
type HeldError struct {
	PID     int
	Started string
	Path    string
}

func (e *HeldError) Error() string {
	if e.Started != "" {
		return fmt.Sprintf("session lock held by PID %d since %s (%s)", e.PID, e.Started, e.Path)
	}
	return fmt.Sprintf("session lock held by PID %d (%s)", e.PID, e.Path)
}

// Lock represents an acquired session lock file.
type Lock struct {
	file *os.File
	path string
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Acquire takes an exclusive flock on the session's LOCK file, creating the
// session directory if needed. Returns HeldError, populated from the holder's
// lock file, if another process already holds it.
func Acquire(sessionDir string) (*Lock, error) {
	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	lockPath := filepath.Join(sessionDir, "LOCK")

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		held := holderInfo(lockPath)
		_ = f.Close()
		return nil, held
	}

	if err := writeHolderInfo(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write lock info: %w", err)
	}

	return &Lock{file: f, path: lockPath}, nil
}

// Release releases the lock. Safe to call on nil receiver.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove lock file before closing to avoid stale files.
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

func writeHolderInfo(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	host, _ := os.Hostname()
	_, err := fmt.Fprintf(f, "pid=%d\nstarted=%s\nhost=%s\n",
		os.Getpid(), time.Now().UTC().Format(time.RFC3339), host)
	return err
}

// holderInfo reads the current holder's metadata for diagnostics. A missing
// or garbled file still yields a usable error, just without the details.
func holderInfo(lockPath string) *HeldError {
	held := &HeldError{Path: lockPath}
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return held
	}
	for _, line := range strings.Split(string(data), "\n") {
		if after, ok := strings.CutPrefix(line, "pid="); ok {
			held.PID, _ = strconv.Atoi(after)
		} else if after, ok := strings.CutPrefix(line, "started="); ok {
			held.Started = after
		}
	}
	return held
}
