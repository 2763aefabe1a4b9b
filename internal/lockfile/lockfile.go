// Package lockfile guards a state directory against concurrent LeadPipe
// processes. Nudge timers live in process memory, so two instances sharing a
// session store would each fire their own nudges for the same sessions.
//
// The lock is an flock(2) on a file inside the directory; the kernel drops
// it when the process exits, however it exits.
package lockfile

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
)

// LockFileName is the name of the lock file created in the state directory.
const LockFileName = "leadpipe.lock"

// Owner describes the process holding the lock. It is written to the lock
// file so that a second instance can report who is in the way.
type Owner struct {
	PID     int
	Started time.Time
	Addr    string // HTTP listen address, informational
}

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// AcquireLock takes the exclusive lock on stateDir, creating the directory
// if needed. It fails with a *LockError when another process holds it.
func AcquireLock(stateDir, addr string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// O_TRUNC would wipe the current holder's info before we know we own it.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		owner, ok := ReadOwner(lockPath)
		lerr := &LockError{LockPath: lockPath, Cause: err}
		if ok {
			lerr.Owner = &owner
		}
		slog.Error("lockfile.AcquireLock: state directory is locked", "lock_path", lockPath, "owner", lerr.ownerString())
		return nil, lerr
	}

	owner := Owner{PID: os.Getpid(), Started: time.Now().UTC(), Addr: addr}
	if err := writeOwner(file, owner); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Info("lockfile.AcquireLock: acquired", "lock_path", lockPath, "pid", owner.PID)
	return &Lock{file: file, path: lockPath}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock and removes the lock file. Calling it again is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	var result *multierror.Error
	// Remove before unlocking so a new holder never has its file deleted.
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		result = multierror.Append(result, fmt.Errorf("remove lock file: %w", err))
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		result = multierror.Append(result, fmt.Errorf("unlock: %w", err))
	}
	if err := l.file.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close lock file: %w", err))
	}
	l.file = nil
	slog.Info("Lock.Release: released", "lock_path", l.path)
	return result.ErrorOrNil()
}

// LockError reports a state directory held by another process.
type LockError struct {
	LockPath string
	Owner    *Owner // nil when the lock file could not be parsed
	Cause    error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "another LeadPipe instance is using this state directory (lock file %s, held by %s)", e.LockPath, e.ownerString())
	if e.Owner != nil && !processRunning(e.Owner.PID) {
		fmt.Fprintf(&b, "; the owner is not running, remove %s if no other host shares this directory", e.LockPath)
	}
	return b.String()
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

func (e *LockError) ownerString() string {
	if e.Owner == nil {
		return "unknown process"
	}
	s := "pid " + strconv.Itoa(e.Owner.PID)
	if !e.Owner.Started.IsZero() {
		s += " since " + e.Owner.Started.Format(time.RFC3339)
	}
	if e.Owner.Addr != "" {
		s += " on " + e.Owner.Addr
	}
	return s
}

func writeOwner(f *os.File, o Owner) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	content := fmt.Sprintf("pid=%d\nstarted=%s\naddr=%s\n", o.PID, o.Started.Format(time.RFC3339), o.Addr)
	if _, err := f.WriteString(content); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		slog.Warn("lockfile.writeOwner: sync failed", "error", err)
	}
	return nil
}

// ReadOwner parses the lock file at path. ok is false when the file is
// missing or carries no pid.
func ReadOwner(path string) (owner Owner, ok bool) {
	f, err := os.Open(path)
	if err != nil {
		return Owner{}, false
	}
	defer f.Close()
	return parseOwner(bufio.NewScanner(f))
}

func parseOwner(sc *bufio.Scanner) (owner Owner, ok bool) {
	for sc.Scan() {
		key, value, found := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !found {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil && pid > 0 {
				owner.PID = pid
				ok = true
			}
		case "started":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				owner.Started = t
			}
		case "addr":
			owner.Addr = value
		}
	}
	return owner, ok
}

// processRunning probes pid with signal 0.
func processRunning(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
