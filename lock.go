package websync

import (
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gofrs/flock"
)

// Lock guards against a second instance of the same site set running
// concurrently. Failing to acquire it is "already running", not an error.
type Lock interface {
	TryLock() (bool, error)
	Unlock() error
}

// FileLock is an advisory file lock keyed by the site-name set.
type FileLock struct {
	fl *flock.Flock
}

// NewFileLock builds the lock for a site set. The same set of names maps
// to the same lock file regardless of config ordering.
func NewFileLock(names []string) *FileLock {
	sorted := slices.Clone(names)
	slices.Sort(sorted)

	h := fnv.New32a()
	io.WriteString(h, strings.Join(sorted, "\x00"))
	path := filepath.Join(os.TempDir(), fmt.Sprintf("websync-%08x.lock", h.Sum32()))

	return &FileLock{fl: flock.New(path)}
}

// TryLock attempts to acquire the lock without blocking.
func (l *FileLock) TryLock() (bool, error) {
	return l.fl.TryLock()
}

// Unlock releases the lock.
func (l *FileLock) Unlock() error {
	return l.fl.Unlock()
}

// NoopLock always acquires; it stands in for the file lock in tests.
type NoopLock struct{}

// TryLock always succeeds.
func (NoopLock) TryLock() (bool, error) { return true, nil }

// Unlock does nothing.
func (NoopLock) Unlock() error { return nil }
