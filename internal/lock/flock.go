package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// ErrLocked is returned when another holder owns the lock.
var ErrLocked = errors.New("lock is held by another holder")

// FileLock is an exclusive flock(2) on a file. The lock lives as long as the
// file descriptor stays open.
type FileLock struct {
	path string
	f    *os.File
}

// TryAcquire takes an exclusive non-blocking lock at lockPath. It returns
// ErrLocked (wrapped) when the lock is already held, including by another
// descriptor in this process.
func TryAcquire(lockPath string) (*FileLock, error) {
	if lockPath == "" {
		return nil, fmt.Errorf("lock path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, fmt.Errorf("acquire lock %s: %w", lockPath, ErrLocked)
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	return &FileLock{path: lockPath, f: f}, nil
}

// AcquirePIDLock acquires an exclusive non-blocking lock at lockPath, writes the
// current PID into the file, and returns a handle that must be released.
func AcquirePIDLock(lockPath string) (*FileLock, error) {
	l, err := TryAcquire(lockPath)
	if err != nil {
		return nil, err
	}

	if err := l.f.Truncate(0); err != nil {
		_ = l.Release()
		return nil, fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := l.f.Seek(0, 0); err != nil {
		_ = l.Release()
		return nil, fmt.Errorf("seek lock file: %w", err)
	}
	if _, err := fmt.Fprintf(l.f, "%d\n", os.Getpid()); err != nil {
		_ = l.Release()
		return nil, fmt.Errorf("write pid: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		_ = l.Release()
		return nil, fmt.Errorf("sync lock file: %w", err)
	}

	return l, nil
}

func (l *FileLock) Path() string { return l.path }

func (l *FileLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}
