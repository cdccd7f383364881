package seed

import (
	"bytes"
	"io"
	"testing"
)

func readAll(t *testing.T, r io.Reader) []byte {
	t.Helper()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll returned error: %v", err)
	}
	return data
}

func TestPaddedReaderRoundsUpToMultiple(t *testing.T) {
	r := NewPaddedReader(bytes.NewReader([]byte("ABCDEFGHIJ")), 4) // 10 bytes -> pad to 12
	data := readAll(t, r)
	want := []byte("ABCDEFGHIJ\x00\x00")
	if !bytes.Equal(data, want) {
		t.Errorf("got %q, want %q", data, want)
	}
}

func TestPaddedReaderExactMultipleUnchanged(t *testing.T) {
	r := NewPaddedReader(bytes.NewReader([]byte("ABCDEFGH")), 4) // already 2 blocks
	data := readAll(t, r)
	if !bytes.Equal(data, []byte("ABCDEFGH")) {
		t.Errorf("got %q, want %q", data, "ABCDEFGH")
	}
}

func TestPaddedReaderEmptyPadsToOneBlock(t *testing.T) {
	r := NewPaddedReader(bytes.NewReader(nil), 4)
	data := readAll(t, r)
	if !bytes.Equal(data, []byte{0, 0, 0, 0}) {
		t.Errorf("got %q, want 4 zero bytes", data)
	}
}

func TestPaddedReaderShorterThanOneBlock(t *testing.T) {
	r := NewPaddedReader(bytes.NewReader([]byte("AB")), 4)
	data := readAll(t, r)
	if !bytes.Equal(data, []byte{'A', 'B', 0, 0}) {
		t.Errorf("got %q, want %q", data, []byte{'A', 'B', 0, 0})
	}
}
