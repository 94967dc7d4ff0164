// Package lockfile provides advisory file locking for coordinating
// sp processes that touch shared .spool state, such as the identity
// mapping log and the sync worktree.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrLockBusy indicates the lock is currently held by another process.
var ErrLockBusy = errors.New("lock is held by another process")

// pollInterval is how often AcquireTimeout retries acquiring the lock.
const pollInterval = 50 * time.Millisecond

// Info describes the process that last held a lock exclusively. It is
// written into the lock file on acquisition so other processes can
// report who is holding things up.
type Info struct {
	PID       int       `json:"pid"`
	ParentPID int       `json:"parent_pid,omitempty"`
	Operation string    `json:"operation"`
	StartedAt time.Time `json:"started_at"`
}

// Running reports whether the recorded holder process is still alive.
func (i *Info) Running() bool {
	return processRunning(i.PID)
}

// Lock is a held advisory lock. Release it when done.
type Lock struct {
	file *os.File
	path string
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// Acquire takes an exclusive non-blocking lock on path, creating the
// lock file (and its parent directory) as needed. On success the lock
// file records the acquiring process. Returns ErrLockBusy immediately
// if another process holds the lock.
func Acquire(path, operation string) (*Lock, error) {
	f, err := openLockFile(path)
	if err != nil {
		return nil, err
	}

	if err := FlockExclusiveNonBlock(f); err != nil {
		_ = f.Close()
		return nil, err
	}

	if err := writeInfo(f, operation); err != nil {
		_ = FlockUnlock(f)
		_ = f.Close()
		return nil, fmt.Errorf("write lock info: %w", err)
	}
	return &Lock{file: f, path: path}, nil
}

// AcquireTimeout polls for an exclusive lock on path until timeout
// expires. Returns an error wrapping ErrLockBusy on timeout.
func AcquireTimeout(path, operation string, timeout time.Duration) (*Lock, error) {
	l, err := Acquire(path, operation)
	if err == nil {
		return l, nil
	} else if !errors.Is(err, ErrLockBusy) {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		time.Sleep(pollInterval)

		l, err := Acquire(path, operation)
		if err == nil {
			return l, nil
		} else if !errors.Is(err, ErrLockBusy) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("timed out after %v waiting for %s: %w", timeout, filepath.Base(path), ErrLockBusy)
}

// AcquireShared takes a shared non-blocking lock on path. Multiple
// processes may hold shared locks concurrently, and the lock file
// content is left untouched so the last exclusive holder stays
// readable. Returns ErrLockBusy if an exclusive lock is held.
func AcquireShared(path string) (*Lock, error) {
	f, err := openLockFile(path)
	if err != nil {
		return nil, err
	}

	if err := FlockSharedNonBlock(f); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Lock{file: f, path: path}, nil
}

// Release unlocks and closes the lock file. Safe to call multiple
// times (idempotent). The file itself stays behind: the flock is the
// source of truth, the content is diagnostic.
func (l *Lock) Release() {
	if l == nil || l.file == nil {
		return
	}
	_ = FlockUnlock(l.file)
	_ = l.file.Close()
	l.file = nil
}

// ReadInfo reads the holder info recorded in the lock file at path.
func ReadInfo(path string) (*Info, error) {
	// #nosec G304 - lock paths are derived from the workspace layout
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse lock file %s: %w", path, err)
	}
	return &info, nil
}

func openLockFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	// #nosec G304 - lock paths are derived from the workspace layout
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return f, nil
}

func writeInfo(f *os.File, operation string) error {
	info := Info{
		PID:       os.Getpid(),
		ParentPID: os.Getppid(),
		Operation: operation,
		StartedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(&info)
	if err != nil {
		return err
	}
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		return err
	}
	return f.Sync()
}
