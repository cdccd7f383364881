// Package matcher implements the rolling-checksum block matcher: given a
// control file's block-sum table and a seed byte stream, it locates and
// verifies target blocks present anywhere in the seed, regardless of their
// offset there.
package matcher

import (
	"bytes"

	"github.com/zsync-go/zsync/pkg/zsync/control"
	"github.com/zsync-go/zsync/pkg/zsync/rollingbuffer"
	"github.com/zsync-go/zsync/pkg/zsync/strongsum"
	"github.com/zsync-go/zsync/pkg/zsync/weakhash"
)

// Writer is the subset of the output writer the matcher needs: write a
// verified block, and ask whether every block has already been written so
// scanning can stop early.
type Writer interface {
	WriteBlock(k int, data []byte) error
	IsComplete() bool
}

// compositeKey is the Q=2 index key: the masked weak sums of two
// consecutive blocks.
type compositeKey struct {
	first, second uint32
}

// Index buckets control-file blocks by weak sum for fast candidate lookup
// during a seed scan.
type Index struct {
	q         int
	single    map[uint32][]int
	composite map[compositeKey][]int
}

// BuildIndex constructs an Index from a control file's block table. Every
// block is always indexed under its own weak sum in the single-key map, so
// it remains reachable even when its neighbor doesn't also match. When the
// file's SequenceMatches is 2 and there are at least two blocks, all but the
// last block are additionally indexed under a composite key of (this
// block's weak sum, next block's weak sum), giving the matcher a faster,
// more selective path to confirm two consecutive blocks at once; the last
// block has no composite entry, matching the control-file format's own
// convention that a composite match cannot extend past the final block.
func BuildIndex(cf *control.File) *Index {
	idx := &Index{
		q:      cf.SequenceMatches,
		single: make(map[uint32][]int),
	}
	n := len(cf.Blocks)
	for k := 0; k < n; k++ {
		idx.single[cf.Blocks[k].Weak] = append(idx.single[cf.Blocks[k].Weak], k)
	}
	if idx.q == 2 && n >= 2 {
		idx.composite = make(map[compositeKey][]int)
		for k := 0; k < n-1; k++ {
			key := compositeKey{first: cf.Blocks[k].Weak, second: cf.Blocks[k+1].Weak}
			idx.composite[key] = append(idx.composite[key], k)
		}
	} else {
		idx.q = 1
	}
	return idx
}

// Matcher drives a single seed scan against an Index, maintaining the
// rolling weak-hash state across successive windows.
type Matcher struct {
	cf          *control.File
	idx         *Index
	state       weakhash.State
	initialized bool
}

// New constructs a Matcher for a single seed scan. A fresh Matcher must be
// used for each seed: the rolling state is not meaningful across streams.
func New(cf *control.File, idx *Index) *Matcher {
	return &Matcher{cf: cf, idx: idx}
}

// Scan drives buf across the full seed stream, writing every verified block
// to w, until the stream is exhausted or w reports completion.
func (m *Matcher) Scan(buf *rollingbuffer.Buffer, w Writer) error {
	ok, err := buf.Fill()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	blockSize := uint64(m.cf.BlockSize)

	for !w.IsComplete() {
		window, ok := buf.WindowView(blockSize)
		if !ok {
			return nil
		}
		if !m.initialized {
			m.state = weakhash.Init(window)
			m.initialized = true
		}

		consumed, err := m.matchOnce(window, buf, w)
		if err != nil {
			return err
		}

		if consumed == 1 {
			// No match: roll the weak hash forward by one byte rather than
			// reinitializing, using the byte about to leave the window and
			// the one about to enter it.
			if extended, ok := buf.WindowView(blockSize + 1); ok {
				m.state = m.state.Roll(extended[0], extended[blockSize], uint32(blockSize))
			} else {
				m.initialized = false
			}
		} else {
			// A match consumed a full block (or two): the window jumped, so
			// the rolling state must be recomputed from scratch next time.
			m.initialized = false
		}

		hasFullWindow, err := buf.Advance(consumed)
		if err != nil {
			return err
		}
		if !hasFullWindow {
			return nil
		}
	}
	return nil
}

// matchOnce evaluates the current window once, writing any verified blocks
// and returning how many bytes the caller should advance past.
func (m *Matcher) matchOnce(window []byte, buf *rollingbuffer.Buffer, w Writer) (uint64, error) {
	blockSize := uint64(m.cf.BlockSize)

	key := weakhash.Mask(m.state.Value(), m.cf.WeakLength)

	if m.idx.q == 2 {
		if window2, ok := buf.WindowView(2 * blockSize); ok {
			second := window2[blockSize:]
			secondState := weakhash.Init(second)
			secondKey := weakhash.Mask(secondState.Value(), m.cf.WeakLength)

			if candidates, found := m.idx.composite[compositeKey{first: key, second: secondKey}]; found {
				strong1 := strongsum.Sum(window, m.cf.StrongLength)
				for _, k := range candidates {
					if !bytes.Equal(strong1, m.cf.Blocks[k].Strong) {
						continue
					}
					strong2 := strongsum.Sum(second, m.cf.StrongLength)
					if !bytes.Equal(strong2, m.cf.Blocks[k+1].Strong) {
						continue
					}
					if err := w.WriteBlock(k, window); err != nil {
						return 0, err
					}
					if err := w.WriteBlock(k+1, second); err != nil {
						return 0, err
					}
					return 2 * blockSize, nil
				}
			}
		}
	}

	if candidates, found := m.idx.single[key]; found {
		strong := strongsum.Sum(window, m.cf.StrongLength)
		for _, k := range candidates {
			if bytes.Equal(strong, m.cf.Blocks[k].Strong) {
				if err := w.WriteBlock(k, window); err != nil {
					return 0, err
				}
				return blockSize, nil
			}
		}
	}

	return 1, nil
}
