// Package must provides best-effort cleanup helpers for operations whose
// failure can't be meaningfully handled at the call site (closing a file on
// an already-failing path, removing a temporary file) but shouldn't be
// silently ignored either. Failures are logged, not returned.
package must

import (
	"io"
	"os"

	"github.com/zsync-go/zsync/pkg/logging"
)

// Close closes c, logging a warning if it fails. It's meant for cleanup
// paths where the original error (if any) already takes precedence.
func Close(c io.Closer, logger *logging.Logger) {
	if err := c.Close(); err != nil && logger != nil {
		logger.Warn(err)
	}
}

// OSRemove removes the file at path, logging a warning if it fails and the
// file still exists.
func OSRemove(path string, logger *logging.Logger) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) && logger != nil {
		logger.Warn(err)
	}
}
