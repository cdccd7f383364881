package output

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/md4"

	"github.com/zsync-go/zsync/pkg/zsync/control"
	"github.com/zsync-go/zsync/pkg/zsync/strongsum"
)

const testStrongLen = 8

func md4Of(data []byte) []byte {
	h := md4.New()
	h.Write(data)
	return h.Sum(nil)
}

// buildControlFile builds a control.File describing target split into
// blockSize-sized blocks, with real strong sums over zero-padded blocks and
// the whole-file MD4 over the unpadded target.
func buildControlFile(target []byte, blockSize int64) *control.File {
	n := (int64(len(target)) + blockSize - 1) / blockSize
	cf := &control.File{
		Length:       int64(len(target)),
		BlockSize:    blockSize,
		StrongLength: testStrongLen,
		Digest:       control.WholeFileDigest{Algorithm: control.DigestMD4, Sum: md4Of(target)},
		Blocks:       make([]control.BlockHash, n),
	}
	for k := int64(0); k < n; k++ {
		block := make([]byte, blockSize)
		copy(block, target[k*blockSize:])
		cf.Blocks[k] = control.BlockHash{Strong: strongsum.Sum(block, testStrongLen)}
	}
	return cf
}

func TestWriteBlockAndClose(t *testing.T) {
	target := []byte("ABCDEFGH")
	cf := buildControlFile(target, 4)

	dir := t.TempDir()
	finalPath := filepath.Join(dir, "out.bin")

	w, err := New(finalPath, cf, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if err := w.WriteBlock(1, target[4:8]); err != nil {
		t.Fatalf("WriteBlock(1) returned error: %v", err)
	}
	if w.IsComplete() {
		t.Fatal("writer reports complete after only one block")
	}
	if err := w.WriteBlock(0, target[0:4]); err != nil {
		t.Fatalf("WriteBlock(0) returned error: %v", err)
	}
	if !w.IsComplete() {
		t.Fatal("writer does not report complete after all blocks written")
	}

	path, err := w.Close()
	if err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if path != finalPath {
		t.Errorf("Close returned %q, want %q", path, finalPath)
	}

	data, err := os.ReadFile(finalPath)
	if err != nil {
		t.Fatalf("ReadFile returned error: %v", err)
	}
	if string(data) != string(target) {
		t.Errorf("final file = %q, want %q", data, target)
	}
}

func TestWriteBlockIdempotent(t *testing.T) {
	target := []byte("ABCDEFGH")
	cf := buildControlFile(target, 4)
	w, err := New(filepath.Join(t.TempDir(), "out.bin"), cf, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if err := w.WriteBlock(0, target[0:4]); err != nil {
		t.Fatalf("first WriteBlock(0) returned error: %v", err)
	}
	// Write the block again; this must be a silent no-op, not an error.
	if err := w.WriteBlock(0, []byte("ZZZZ")); err != nil {
		t.Fatalf("second WriteBlock(0) returned error: %v", err)
	}

	if err := w.WriteBlock(1, target[4:8]); err != nil {
		t.Fatalf("WriteBlock(1) returned error: %v", err)
	}
	path, err := w.Close()
	if err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "ABCDEFGH" {
		t.Errorf("final file = %q, want %q (idempotent write should not overwrite)", data, "ABCDEFGH")
	}
}

func TestWriteRangeVerifiesAndMarks(t *testing.T) {
	target := []byte("ABCDEFGH")
	cf := buildControlFile(target, 4)
	w, err := New(filepath.Join(t.TempDir(), "out.bin"), cf, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if err := w.WriteRange(0, target); err != nil {
		t.Fatalf("WriteRange returned error: %v", err)
	}
	if !w.IsComplete() {
		t.Fatal("writer not complete after full-range write")
	}
	if _, err := w.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
}

func TestWriteRangeChecksumMismatch(t *testing.T) {
	target := []byte("ABCDEFGH")
	cf := buildControlFile(target, 4)
	w, err := New(filepath.Join(t.TempDir(), "out.bin"), cf, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	corrupted := []byte("ABCDEFGX")
	err = w.WriteRange(0, corrupted)
	if err == nil {
		t.Fatal("WriteRange with corrupted data succeeded, want checksum error")
	}
	cerr, ok := err.(*ChecksumError)
	if !ok {
		t.Fatalf("error = %v (%T), want *ChecksumError", err, err)
	}
	if cerr.Block != 1 {
		t.Errorf("ChecksumError.Block = %d, want 1", cerr.Block)
	}
	w.Abort()
}

func TestMissingRangesCoalesces(t *testing.T) {
	target := []byte("ABCDEFGHIJKL") // 3 blocks of 4
	cf := buildControlFile(target, 4)
	w, err := New(filepath.Join(t.TempDir(), "out.bin"), cf, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	defer w.Abort()

	if err := w.WriteBlock(1, target[4:8]); err != nil {
		t.Fatalf("WriteBlock returned error: %v", err)
	}

	ranges := w.MissingRanges()
	want := []Range{{Lo: 0, Hi: 4}, {Lo: 8, Hi: 12}}
	if len(ranges) != len(want) {
		t.Fatalf("MissingRanges() = %v, want %v", ranges, want)
	}
	for i := range ranges {
		if ranges[i] != want[i] {
			t.Errorf("MissingRanges()[%d] = %v, want %v", i, ranges[i], want[i])
		}
	}
}

func TestLastBlockPadding(t *testing.T) {
	target := []byte("ABCDEFGHIJ") // 10 bytes, blockSize 4: last block is "IJ" padded
	cf := buildControlFile(target, 4)
	w, err := New(filepath.Join(t.TempDir(), "out.bin"), cf, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if err := w.WriteRange(0, target); err != nil {
		t.Fatalf("WriteRange returned error: %v", err)
	}
	path, err := w.Close()
	if err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	data, _ := os.ReadFile(path)
	if len(data) != 10 || string(data) != "ABCDEFGHIJ" {
		t.Errorf("final file = %q (len %d), want %q (len 10)", data, len(data), "ABCDEFGHIJ")
	}
}
