package rollingbuffer

import (
	"bytes"
	"testing"
)

func TestFillAndWindowView(t *testing.T) {
	data := []byte("ABCDEFGHIJKLMNOP")
	buf := New(bytes.NewReader(data), 4)

	ok, err := buf.Fill()
	if err != nil {
		t.Fatalf("Fill returned error: %v", err)
	}
	if !ok {
		t.Fatal("Fill returned false, want true")
	}

	window, ok := buf.WindowView(4)
	if !ok {
		t.Fatal("WindowView(4) unavailable")
	}
	if string(window) != "ABCD" {
		t.Errorf("WindowView(4) = %q, want %q", window, "ABCD")
	}

	window2, ok := buf.WindowView(8)
	if !ok {
		t.Fatal("WindowView(8) unavailable")
	}
	if string(window2) != "ABCDEFGH" {
		t.Errorf("WindowView(8) = %q, want %q", window2, "ABCDEFGH")
	}
}

func TestAdvanceSlidesWindow(t *testing.T) {
	data := []byte("ABCDEFGH")
	buf := New(bytes.NewReader(data), 4)
	buf.Fill()

	more, err := buf.Advance(1)
	if err != nil {
		t.Fatalf("Advance returned error: %v", err)
	}
	if !more {
		t.Fatal("Advance(1) returned false, want true")
	}

	window, ok := buf.WindowView(4)
	if !ok || string(window) != "BCDE" {
		t.Errorf("after Advance(1), WindowView(4) = %q, ok=%v, want %q", window, ok, "BCDE")
	}
}

func TestAdvanceExhaustion(t *testing.T) {
	data := []byte("ABCD")
	buf := New(bytes.NewReader(data), 4)
	buf.Fill()

	more, err := buf.Advance(1)
	if err != nil {
		t.Fatalf("Advance returned error: %v", err)
	}
	if more {
		t.Fatal("Advance(1) past the only block returned true, want false")
	}
}

func TestFirstByteAndByteAt(t *testing.T) {
	data := []byte("ABCDEFGH")
	buf := New(bytes.NewReader(data), 4)
	buf.Fill()

	if got := buf.FirstByte(); got != 'A' {
		t.Errorf("FirstByte() = %q, want %q", got, 'A')
	}
	if got := buf.ByteAt(4); got != 'E' {
		t.Errorf("ByteAt(4) = %q, want %q", got, 'E')
	}
}
