// Package seed wraps a local file (or any byte stream) so that it presents
// as a properly padded zsync seed: its apparent length is always a multiple
// of the block size and never less than one block, with the padding made up
// of zero bytes appended after the real content.
package seed

import "io"

// PaddedReader zero-pads the tail of an underlying reader so its total
// length is a multiple of blockSize and at least blockSize. Padding is
// computed reactively as the underlying stream is exhausted, so no prior
// knowledge of its length is required.
type PaddedReader struct {
	r         io.Reader
	blockSize uint64
	produced  uint64
	target    uint64
	realDone  bool
}

// NewPaddedReader constructs a PaddedReader over r.
func NewPaddedReader(r io.Reader, blockSize uint64) *PaddedReader {
	return &PaddedReader{r: r, blockSize: blockSize}
}

// Read implements io.Reader.
func (p *PaddedReader) Read(buf []byte) (int, error) {
	if !p.realDone {
		n, err := p.r.Read(buf)
		p.produced += uint64(n)
		if err == nil {
			return n, nil
		}
		if err != io.EOF {
			return n, err
		}
		p.realDone = true
		p.target = p.padTarget(p.produced)
		if n > 0 {
			return n, nil
		}
	}

	if p.produced >= p.target {
		return 0, io.EOF
	}
	remaining := p.target - p.produced
	m := uint64(len(buf))
	if m > remaining {
		m = remaining
	}
	for i := uint64(0); i < m; i++ {
		buf[i] = 0
	}
	p.produced += m
	return int(m), nil
}

// padTarget rounds realLength up to the next multiple of the block size,
// with a floor of one full block.
func (p *PaddedReader) padTarget(realLength uint64) uint64 {
	target := realLength
	if rem := target % p.blockSize; rem != 0 {
		target += p.blockSize - rem
	}
	if target < p.blockSize {
		target = p.blockSize
	}
	return target
}
