package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"
)

const lockFileName = ".lock"

// ErrVaultLocked reports that another process holds the vault. Callers
// should use errors.Is(err, ErrVaultLocked).
var ErrVaultLocked = errors.New("vault locked by another process")

// Lock is a held exclusive lock on a vault directory. flock is advisory
// and Unix-only; all vaultpad processes take it, which is what keeps two
// servers from interleaving appends into the same WAL files.
type Lock struct {
	file *os.File
}

// AcquireLock takes a non-blocking exclusive flock on <dataDir>/.lock.
// If the lock file is replaced between open and flock the acquisition
// retries, so the lock always covers the inode currently at the path.
func AcquireLock(dataDir string) (*Lock, error) {
	path := filepath.Join(dataDir, lockFileName)

	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open lock file: %w", err)
		}

		if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
			_ = f.Close()

			if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
				return nil, fmt.Errorf("%w: %s", ErrVaultLocked, dataDir)
			}

			return nil, fmt.Errorf("flock %s: %w", path, err)
		}

		same, err := sameInode(f, path)
		if err != nil {
			_ = f.Close()

			if errors.Is(err, os.ErrNotExist) {
				continue
			}

			return nil, err
		}

		if same {
			return &Lock{file: f}, nil
		}

		_ = f.Close()
	}
}

// Release drops the lock. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}

	err := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("close lock file: %w", err)
	}

	return nil
}

// sameInode reports whether the open descriptor still refers to the file
// currently at path. flock binds to an inode, not a pathname, so a
// descriptor locked after the file was replaced guards nothing.
func sameInode(f *os.File, path string) (bool, error) {
	openInfo, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("stat lock fd: %w", err)
	}

	pathInfo, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("stat lock file: %w", err)
	}

	openSys, ok := openInfo.Sys().(*syscall.Stat_t)
	if !ok {
		return false, fmt.Errorf("stat lock fd: unexpected Sys %T", openInfo.Sys())
	}

	pathSys, ok := pathInfo.Sys().(*syscall.Stat_t)
	if !ok {
		return false, fmt.Errorf("stat lock file: unexpected Sys %T", pathInfo.Sys())
	}

	return openSys.Dev == pathSys.Dev && openSys.Ino == pathSys.Ino, nil
}
