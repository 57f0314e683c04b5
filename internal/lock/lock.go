// Package lock implements the process-wide single-instance advisory lock
// described in spec.md §4.6/§6: a non-blocking exclusive lock on a
// well-known PID file. Contention is not an error — the caller exits 0.
package lock

import (
	"fmt"
	"os"
	"strconv"
	"syscall"
)

// PIDFile is an open, locked PID file. Release closes and leaves the file
// in place; the lock itself is released when the file descriptor closes.
type PIDFile struct {
	file *os.File
	path string
}

// ErrHeld indicates another instance already holds the lock. Callers should
// treat this as the "silent exit 0" case spec.md §7 assigns to LockHeld.
var ErrHeld = fmt.Errorf("lock held by another process")

// Acquire opens (creating if necessary) the PID file at path and attempts a
// non-blocking exclusive flock on it. On success the file is truncated and
// the current PID is written, mirroring cephbackup's fcntl.lockf(LOCK_EX|LOCK_NB)
// followed by silent exit on IOError.
func Acquire(path string) (*PIDFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open pid file %s: %w", path, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, ErrHeld
	}

	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, fmt.Errorf("truncate pid file %s: %w", path, err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("write pid file %s: %w", path, err)
	}

	return &PIDFile{file: f, path: path}, nil
}

// Release closes the PID file, dropping the flock.
func (p *PIDFile) Release() error {
	if p == nil || p.file == nil {
		return nil
	}
	return p.file.Close()
}
