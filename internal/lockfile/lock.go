// Package lockfile provides a single-instance exclusive lock used to
// guarantee that at most one vector-worker/consolidation-worker daemon
// runs per project, enforcing the single-writer discipline across process
// restarts. Modeled on the teacher's internal/lockfile package.
package lockfile

import (
	"errors"
	"os"
)

// ErrLocked is returned when the lock is already held by another process.
var ErrLocked = errors.New("lockfile: already held by another process")

// IsLocked reports whether err indicates the lock is held elsewhere.
func IsLocked(err error) bool {
	return errors.Is(err, ErrLocked)
}

// Lock holds an open file descriptor and its acquired flock state.
type Lock struct {
	f *os.File
}

// Acquire opens (creating if needed) the lock file at path and attempts a
// non-blocking exclusive lock. Returns ErrLocked if another process holds
// it.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := flockExclusiveNonBlocking(f); err != nil {
		_ = f.Close()
		if isWouldBlock(err) {
			return nil, ErrLocked
		}
		return nil, err
	}
	return &Lock{f: f}, nil
}

// Release unlocks and closes the underlying file.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = flockUnlock(l.f)
	return l.f.Close()
}
