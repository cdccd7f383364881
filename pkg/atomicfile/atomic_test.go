//go:build !windows

package atomicfile

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
)

func TestCreateTempTruncatesToSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")

	f, err := CreateTemp(path, 16)
	if err != nil {
		t.Fatalf("CreateTemp returned error: %v", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		t.Fatalf("Stat returned error: %v", err)
	}
	if info.Size() != 16 {
		t.Errorf("size = %d, want 16", info.Size())
	}
	if filepath.Dir(f.Name()) != dir {
		t.Errorf("temporary file created in %q, want %q", filepath.Dir(f.Name()), dir)
	}
}

func TestReplaceRenamesIntoPlace(t *testing.T) {
	dir := t.TempDir()
	finalPath := filepath.Join(dir, "out.bin")

	f, err := CreateTemp(finalPath, 4)
	if err != nil {
		t.Fatalf("CreateTemp returned error: %v", err)
	}
	f.WriteAt([]byte("data"), 0)
	f.Close()

	if err := Replace(f.Name(), finalPath, nil); err != nil {
		t.Fatalf("Replace returned error: %v", err)
	}
	if _, err := os.Stat(f.Name()); !os.IsNotExist(err) {
		t.Errorf("temporary file %q still exists after Replace", f.Name())
	}
	data, err := os.ReadFile(finalPath)
	if err != nil {
		t.Fatalf("ReadFile returned error: %v", err)
	}
	if string(data) != "data" {
		t.Errorf("final file = %q, want %q", data, "data")
	}
}

func TestIsCrossDeviceErrorRecognizesEXDEV(t *testing.T) {
	err := &os.LinkError{Op: "rename", Old: "a", New: "b", Err: syscall.EXDEV}
	if !isCrossDeviceError(err) {
		t.Error("isCrossDeviceError did not recognize a wrapped syscall.EXDEV")
	}
}

func TestIsCrossDeviceErrorRejectsOtherErrors(t *testing.T) {
	err := &os.LinkError{Op: "rename", Old: "a", New: "b", Err: syscall.ENOENT}
	if isCrossDeviceError(err) {
		t.Error("isCrossDeviceError incorrectly recognized a non-EXDEV error")
	}
	if isCrossDeviceError(os.ErrNotExist) {
		t.Error("isCrossDeviceError incorrectly recognized a non-LinkError")
	}
}

// TestReplaceCopyFallback simulates the cross-device case directly against
// copyAcrossDevices, since triggering a genuine EXDEV from within a single
// filesystem test tree isn't practical.
func TestReplaceCopyFallback(t *testing.T) {
	dir := t.TempDir()
	sourcePath := filepath.Join(dir, "source.bin")
	finalPath := filepath.Join(dir, "out.bin")

	if err := os.WriteFile(sourcePath, []byte("payload"), 0o644); err != nil {
		t.Fatalf("WriteFile returned error: %v", err)
	}

	if err := copyAcrossDevices(sourcePath, finalPath); err != nil {
		t.Fatalf("copyAcrossDevices returned error: %v", err)
	}
	data, err := os.ReadFile(finalPath)
	if err != nil {
		t.Fatalf("ReadFile returned error: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("final file = %q, want %q", data, "payload")
	}
}
