//go:build !windows

// Package lock provides cross-process file locks with a bounded wait.
package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"faultline/internal/errors"
)

// pollInterval is how often a contended lock is retried.
var pollInterval = 50 * time.Millisecond

// Lock is an exclusive lock held on a file below a locks directory.
type Lock struct {
	path string
	file *os.File
}

// Acquire takes an exclusive lock on <dir>/<name>.lock, retrying until timeout
// elapses or ctx is done. Expiry of the timeout yields a MIRROR_LOCK_TIMEOUT
// error.
func Acquire(ctx context.Context, dir, name string, timeout time.Duration) (*Lock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating locks directory: %w", err)
	}

	path := filepath.Join(dir, name+".lock")

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		err = syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			break
		}
		if err != syscall.EWOULDBLOCK {
			_ = file.Close()
			return nil, fmt.Errorf("locking %s: %w", path, err)
		}
		if !time.Now().Before(deadline) {
			_ = file.Close()
			return nil, timeoutError(path, timeout)
		}

		select {
		case <-ctx.Done():
			_ = file.Close()
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}

	// Write our PID so a stuck holder can be identified
	if err := file.Truncate(0); err == nil {
		if _, err := file.Seek(0, 0); err == nil {
			_, _ = file.WriteString(strconv.Itoa(os.Getpid()))
		}
	}

	return &Lock{path: path, file: file}, nil
}

// Release releases the lock. The lock file is left in place so that
// processes already waiting on it keep contending for the same inode.
func (l *Lock) Release() {
	if l == nil || l.file == nil {
		return
	}

	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	_ = l.file.Close()
	l.file = nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

func timeoutError(path string, timeout time.Duration) error {
	msg := fmt.Sprintf("timed out after %s waiting for lock %s", timeout, path)
	if content, err := os.ReadFile(path); err == nil && len(content) > 0 {
		msg += fmt.Sprintf(" (held by PID %s)", strings.TrimSpace(string(content)))
	}
	return errors.New(errors.MirrorLockTimeout, msg, nil, errors.GetSuggestedFixes(errors.MirrorLockTimeout))
}
