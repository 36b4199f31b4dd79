package ipc

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// How recent a status heartbeat must be for an existing daemon to count as
// responsive rather than wedged.
const statusFreshness = 60 * time.Second

// ErrAlreadyRunning is returned by AcquirePIDLock when a responsive daemon
// already holds the lock.
var ErrAlreadyRunning = errors.New("ipc: daemon already running")

// PIDLock is an on-disk single-instance guard: a file holding the owning
// process id, checked and replaced at startup.
type PIDLock struct {
	path string
}

// AcquirePIDLock claims single-instance ownership. If pidPath names a live
// and responsive process (it exists, accepts signal 0, and its status file
// at statusPath has a heartbeat younger than a minute) the call fails with
// an error wrapping [ErrAlreadyRunning]. A stale lock from a dead or
// wedged daemon is replaced.
func AcquirePIDLock(pidPath, statusPath string) (*PIDLock, error) {
	if pid, ok := readPID(pidPath); ok && pid != os.Getpid() {
		if processAlive(pid) && statusFresh(statusPath) {
			return nil, fmt.Errorf("%w: pid %d", ErrAlreadyRunning, pid)
		}
	}
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("ipc: write pid file %q: %w", pidPath, err)
	}
	return &PIDLock{path: pidPath}, nil
}

// Release removes the lock file. Safe to call on a nil lock.
func (l *PIDLock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ipc: release pid file %q: %w", l.path, err)
	}
	return nil
}

func readPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// processAlive reports whether pid names a running process we could signal.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to another user.
	return errors.Is(err, syscall.EPERM)
}

// statusFresh reports whether the status file carries a recent heartbeat.
// A missing or unreadable status file counts as stale.
func statusFresh(statusPath string) bool {
	var st Status
	if err := ReadJSONFile(statusPath, &st); err != nil {
		return false
	}
	age := Now() - st.Timestamp
	return age >= 0 && age < statusFreshness.Seconds()
}
