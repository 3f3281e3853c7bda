package mirror

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

// validateDirectoryPath rejects relative paths that climb out of the
// current directory.
func validateDirectoryPath(path string) error {
	cleanPath := filepath.Clean(path)

	if !filepath.IsAbs(cleanPath) && strings.Contains(cleanPath, "..") {
		return errors.New("unsafe directory path (contains directory traversal): " + path)
	}

	return nil
}

// DirSync calls fsync(2) on the directory so that a rename of a feed or
// mirrorlist file inside it is durable.
func DirSync(d string) error {
	if err := validateDirectoryPath(d); err != nil {
		return errors.Wrap(err, "DirSync")
	}

	f, err := os.OpenFile(d, os.O_RDONLY, 0755) // #nosec G304,G302 - path validated, 0755 needed for directory access
	if err != nil {
		return err
	}
	return syncAndClose(f)
}

type syncCloser interface {
	Sync() error
	Close() error
}

// syncAndClose syncs f and always closes it.
func syncAndClose(f syncCloser) error {
	if err := f.Sync(); err != nil {
		return errors.CombineErrors(errors.Wrap(err, "DirSync"), f.Close())
	}
	return f.Close()
}
