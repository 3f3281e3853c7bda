package mirror

import (
	"os"
	"syscall"

	"github.com/cockroachdb/errors"
)

// Flock provides an advisory lock on an open file.
type Flock struct {
	file *os.File
}

// Lock acquires an exclusive lock without blocking.  It fails if another
// process already holds the lock.
func (f Flock) Lock() error {
	err := syscall.Flock(int(f.file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		return errors.Wrapf(err, "flock %s", f.file.Name())
	}
	return nil
}

// Unlock releases the lock.
func (f Flock) Unlock() error {
	return syscall.Flock(int(f.file.Fd()), syscall.LOCK_UN)
}
