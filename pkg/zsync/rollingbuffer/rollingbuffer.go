// Package rollingbuffer provides a sliding window over a byte stream sized
// for the block matcher: cheap single-byte advance, with enough backing
// capacity that a two-block view is always available when the matcher needs
// one, without re-reading the underlying stream.
package rollingbuffer

import "io"

// Buffer is a sliding window over an io.Reader. The window always begins at
// the front of the internal backing array; Advance compacts rather than
// tracking a moving offset, which keeps WindowView a plain slice operation.
type Buffer struct {
	r         io.Reader
	blockSize uint64
	buf       []byte
	n         uint64 // valid bytes currently held, at buf[:n]
	eof       bool   // underlying reader has nothing more to give
}

// New constructs a Buffer over r with the given block size. The backing
// capacity is 16 times the block size, per convention, guaranteeing a 2B
// view is available whenever 2B bytes remain in the stream.
func New(r io.Reader, blockSize uint64) *Buffer {
	capacity := 16 * blockSize
	if capacity < 2*blockSize {
		capacity = 2 * blockSize
	}
	return &Buffer{
		r:         r,
		blockSize: blockSize,
		buf:       make([]byte, capacity),
	}
}

// Fill performs the buffer's initial load, reading up to capacity. It
// returns false if even one full block's worth of data could not be
// obtained (the zero-padding contract on seeds means this should not happen
// in practice).
func (b *Buffer) Fill() (bool, error) {
	return b.topUp()
}

func (b *Buffer) topUp() (bool, error) {
	if !b.eof {
		m, err := io.ReadFull(b.r, b.buf[b.n:])
		b.n += uint64(m)
		switch err {
		case nil:
		case io.EOF, io.ErrUnexpectedEOF:
			b.eof = true
		default:
			return false, err
		}
	}
	return b.n >= b.blockSize, nil
}

// WindowView returns the first n bytes currently held, and whether that many
// bytes are actually available. The returned slice aliases the buffer's
// backing array and is only valid until the next call to Advance.
func (b *Buffer) WindowView(n uint64) ([]byte, bool) {
	if n > b.n {
		return nil, false
	}
	return b.buf[:n], true
}

// FirstByte returns the byte currently at the front of the window, the one
// that Advance(1) would slide out.
func (b *Buffer) FirstByte() byte {
	return b.buf[0]
}

// ByteAt returns the byte at offset i from the front of the window.
func (b *Buffer) ByteAt(i uint64) byte {
	return b.buf[i]
}

// Advance slides the window forward by n bytes, refilling from the
// underlying reader as needed so that a full 2B view remains available
// whenever the stream still has that much left to give. It returns false if,
// after advancing, fewer than a full block remains available: the caller
// should stop scanning.
func (b *Buffer) Advance(n uint64) (bool, error) {
	if n > b.n {
		n = b.n
	}
	copy(b.buf, b.buf[n:b.n])
	b.n -= n
	if !b.eof && b.n < 2*b.blockSize {
		m, err := io.ReadFull(b.r, b.buf[b.n:])
		b.n += uint64(m)
		switch err {
		case nil:
		case io.EOF, io.ErrUnexpectedEOF:
			b.eof = true
		default:
			return false, err
		}
	}
	return b.n >= b.blockSize, nil
}
