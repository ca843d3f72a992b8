//go:build windows

package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"faultline/internal/errors"
)

var pollInterval = 50 * time.Millisecond

// Lock is an exclusive lock held on a file below a locks directory.
// On Windows the lock is an O_EXCL marker file rather than a flock.
type Lock struct {
	path string
	file *os.File
}

// Acquire creates <dir>/<name>.lock exclusively, retrying until timeout.
func Acquire(ctx context.Context, dir, name string, timeout time.Duration) (*Lock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating locks directory: %w", err)
	}

	path := filepath.Join(dir, name+".lock")
	deadline := time.Now().Add(timeout)

	for {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
		if err == nil {
			_, _ = file.WriteString(strconv.Itoa(os.Getpid()))
			return &Lock{path: path, file: file}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("opening lock file: %w", err)
		}
		if !time.Now().Before(deadline) {
			msg := fmt.Sprintf("timed out after %s waiting for lock %s", timeout, path)
			return nil, errors.New(errors.MirrorLockTimeout, msg, nil, errors.GetSuggestedFixes(errors.MirrorLockTimeout))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Release releases the lock and removes the marker file.
func (l *Lock) Release() {
	if l == nil || l.file == nil {
		return
	}

	_ = l.file.Close()
	_ = os.Remove(l.path)
	l.file = nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}
