// Package atomicfile replaces a destination path with a finished temporary
// file using rename, falling back to a non-atomic copy+rename when the
// filesystem refuses a cross-device rename.
package atomicfile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zsync-go/zsync/pkg/logging"
	"github.com/zsync-go/zsync/pkg/must"
)

// TemporaryNamePrefix identifies temporary files created by this package so
// that, if a run dies uncleanly, the leftovers are recognizable.
const TemporaryNamePrefix = ".zsync-"

// CreateTemp creates a new temporary file in the same directory as path (so
// that the eventual rename is same-filesystem whenever possible) and
// truncates it to size.
func CreateTemp(path string, size int64) (*os.File, error) {
	dir := filepath.Dir(path)
	temporary, err := os.CreateTemp(dir, TemporaryNamePrefix+filepath.Base(path)+"-")
	if err != nil {
		return nil, fmt.Errorf("unable to create temporary file: %w", err)
	}
	if err := temporary.Truncate(size); err != nil {
		must.Close(temporary, nil)
		must.OSRemove(temporary.Name(), nil)
		return nil, fmt.Errorf("unable to size temporary file: %w", err)
	}
	return temporary, nil
}

// Replace moves the file at temporaryPath over finalPath, falling back to
// copying it into a fresh temporary file beside finalPath, renaming that
// into place and removing temporaryPath when the two paths are on different
// devices (the rename syscall cannot cross filesystem boundaries).
func Replace(temporaryPath, finalPath string, logger *logging.Logger) error {
	if err := os.Rename(temporaryPath, finalPath); err == nil {
		return nil
	} else if !isCrossDeviceError(err) {
		return fmt.Errorf("unable to rename temporary file into place: %w", err)
	}

	if err := copyAcrossDevices(temporaryPath, finalPath); err != nil {
		return fmt.Errorf("unable to copy temporary file into place: %w", err)
	}
	must.OSRemove(temporaryPath, logger)
	return nil
}

// copyAcrossDevices is the fallback used when Replace can't rename directly.
func copyAcrossDevices(temporaryPath, finalPath string) error {
	source, err := os.Open(temporaryPath)
	if err != nil {
		return err
	}
	defer source.Close()

	destination, err := os.CreateTemp(filepath.Dir(finalPath), TemporaryNamePrefix+filepath.Base(finalPath)+"-")
	if err != nil {
		return err
	}
	if _, err := io.Copy(destination, source); err != nil {
		destination.Close()
		os.Remove(destination.Name())
		return err
	}
	if err := destination.Close(); err != nil {
		os.Remove(destination.Name())
		return err
	}
	if err := os.Rename(destination.Name(), finalPath); err != nil {
		os.Remove(destination.Name())
		return err
	}
	return nil
}
