// Package output implements the sparse target-file writer: it tracks which
// target blocks have been recovered, accepts writes from both the seed
// matcher and the HTTP range fetcher, and validates the finished file
// against its whole-file digest before replacing the final output path.
package output

import (
	"bytes"
	"fmt"
	"os"

	"github.com/zsync-go/zsync/pkg/atomicfile"
	"github.com/zsync-go/zsync/pkg/logging"
	"github.com/zsync-go/zsync/pkg/must"
	"github.com/zsync-go/zsync/pkg/zsync/control"
	"github.com/zsync-go/zsync/pkg/zsync/strongsum"
)

// ChecksumError reports a verification failure against a stored checksum.
type ChecksumError struct {
	// Block is the offending block index, or -1 for the whole-file digest.
	Block int
}

func (e *ChecksumError) Error() string {
	if e.Block < 0 {
		return "whole-file digest mismatch"
	}
	return fmt.Sprintf("strong-sum mismatch on block %d", e.Block)
}

// WriteError reports a failure writing to, or reading back from, the
// temporary output file itself: a filesystem problem with the destination
// (category 9), not a problem with whatever source (seed or HTTP) the bytes
// came from. Callers must treat it as fatal rather than abandon-and-retry,
// even when it surfaces while scanning a seed that would otherwise be
// recoverable by moving on to the next one.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string { return e.Err.Error() }

func (e *WriteError) Unwrap() error { return e.Err }

// Range is a half-open byte interval [Lo, Hi) of the target file.
type Range struct {
	Lo, Hi int64
}

// Writer is the sparse on-disk image of the target file plus the state
// needed to decide when it's complete and whether it's correct.
type Writer struct {
	cf     *control.File
	logger *logging.Logger

	finalPath string
	tempPath  string
	file      *os.File

	blockSize int64
	numBlocks int

	written   []bool
	remaining int

	nextBlock int // d: next block index awaiting digest folding
	digest    *wholeDigest

	closed bool
}

// wholeDigest wraps the algorithm-specific hash.Hash the whole-file digest
// is checked against.
type wholeDigest struct {
	h        hasher
	expected []byte
}

// hasher is the subset of hash.Hash the digest folding needs.
type hasher interface {
	Write(p []byte) (int, error)
	Sum(b []byte) []byte
}

// New creates a Writer for cf, truncating a fresh temporary file to the
// target length at finalPath's directory.
func New(finalPath string, cf *control.File, logger *logging.Logger) (*Writer, error) {
	temporary, err := atomicfile.CreateTemp(finalPath, cf.Length)
	if err != nil {
		return nil, err
	}

	h, err := newDigestHash(cf.Digest.Algorithm)
	if err != nil {
		must.Close(temporary, logger)
		must.OSRemove(temporary.Name(), logger)
		return nil, err
	}

	return &Writer{
		cf:        cf,
		logger:    logger,
		finalPath: finalPath,
		tempPath:  temporary.Name(),
		file:      temporary,
		blockSize: cf.BlockSize,
		numBlocks: len(cf.Blocks),
		written:   make([]bool, len(cf.Blocks)),
		remaining: len(cf.Blocks),
		digest:    &wholeDigest{h: h, expected: cf.Digest.Sum},
	}, nil
}

// blockLength returns the number of real (unpadded) bytes in block k.
func (w *Writer) blockLength(k int) int64 {
	return w.cf.BlockLength(k)
}

// WriteBlock records block k's contents, recovered from a seed. If the block
// is already written this is a silent no-op, matching the producer's
// first-writer-wins contract.
func (w *Writer) WriteBlock(k int, data []byte) error {
	if k < 0 || k >= w.numBlocks {
		return &WriteError{Err: fmt.Errorf("output: block index %d out of range [0,%d)", k, w.numBlocks)}
	}
	if w.written[k] {
		return nil
	}

	size := w.blockLength(k)
	if _, err := w.file.WriteAt(data[:size], int64(k)*w.blockSize); err != nil {
		return &WriteError{Err: fmt.Errorf("output: unable to write block %d: %w", k, err)}
	}
	w.markWritten(k)
	return w.foldDigest()
}

// WriteRange records bytes received over HTTP at offset, verifying and
// marking as written every block the range fully covers. offset must fall
// on a block boundary; the range fetcher only ever requests block-aligned
// ranges, so any other offset indicates an internal inconsistency.
func (w *Writer) WriteRange(offset int64, data []byte) error {
	if offset%w.blockSize != 0 {
		return &WriteError{Err: fmt.Errorf("output: range offset %d is not block-aligned", offset)}
	}
	if _, err := w.file.WriteAt(data, offset); err != nil {
		return &WriteError{Err: fmt.Errorf("output: unable to write range at offset %d: %w", offset, err)}
	}

	end := offset + int64(len(data))
	for k := int(offset / w.blockSize); k < w.numBlocks; k++ {
		blockStart := int64(k) * w.blockSize
		blockEnd := blockStart + w.blockLength(k)
		if blockEnd > end {
			break
		}
		if w.written[k] {
			continue
		}

		padded := make([]byte, w.blockSize)
		size := w.blockLength(k)
		if _, err := w.file.ReadAt(padded[:size], blockStart); err != nil {
			return &WriteError{Err: fmt.Errorf("output: unable to read back block %d: %w", k, err)}
		}
		computed := strongsum.Sum(padded, w.cf.StrongLength)
		if !bytes.Equal(computed, w.cf.Blocks[k].Strong) {
			return &ChecksumError{Block: k}
		}
		w.markWritten(k)
	}

	return w.foldDigest()
}

func (w *Writer) markWritten(k int) {
	w.written[k] = true
	w.remaining--
}

// foldDigest folds every contiguous block starting at the next-awaiting
// cursor into the whole-file digest, in strict ascending order, regardless
// of the order blocks actually arrived in.
func (w *Writer) foldDigest() error {
	for w.nextBlock < w.numBlocks && w.written[w.nextBlock] {
		size := w.blockLength(w.nextBlock)
		buf := make([]byte, size)
		if _, err := w.file.ReadAt(buf, int64(w.nextBlock)*w.blockSize); err != nil {
			return &WriteError{Err: fmt.Errorf("output: unable to read block %d for digest: %w", w.nextBlock, err)}
		}
		w.digest.h.Write(buf)
		w.nextBlock++
	}
	if w.nextBlock == w.numBlocks && w.numBlocks > 0 {
		sum := w.digest.h.Sum(nil)
		if !bytes.Equal(sum, w.digest.expected) {
			return &ChecksumError{Block: -1}
		}
	}
	return nil
}

// MissingRanges returns the maximal contiguous byte ranges whose underlying
// blocks are all still unwritten, clipped to the target length, in
// ascending order.
func (w *Writer) MissingRanges() []Range {
	var ranges []Range
	start := -1
	for k := 0; k < w.numBlocks; k++ {
		if !w.written[k] {
			if start == -1 {
				start = k
			}
			continue
		}
		if start != -1 {
			ranges = append(ranges, Range{Lo: int64(start) * w.blockSize, Hi: int64(k) * w.blockSize})
			start = -1
		}
	}
	if start != -1 {
		ranges = append(ranges, Range{Lo: int64(start) * w.blockSize, Hi: w.cf.Length})
	}
	return ranges
}

// IsComplete reports whether every block has been written and verified.
func (w *Writer) IsComplete() bool {
	return w.remaining == 0
}

// IsBlockWritten reports whether block k has already been written.
func (w *Writer) IsBlockWritten(k int) bool {
	return w.written[k]
}

// Close finalizes the writer. If the target is complete, the temporary file
// is moved into place at the final path and that path is returned.
// Otherwise the temporary file is removed and an error is returned.
func (w *Writer) Close() (string, error) {
	if w.closed {
		return "", fmt.Errorf("output: writer already closed")
	}
	w.closed = true

	if err := w.file.Close(); err != nil {
		must.OSRemove(w.tempPath, w.logger)
		return "", fmt.Errorf("output: unable to close temporary file: %w", err)
	}

	if !w.IsComplete() {
		must.OSRemove(w.tempPath, w.logger)
		return "", fmt.Errorf("output: target incomplete, %d of %d blocks missing", w.remaining, w.numBlocks)
	}

	if err := atomicfile.Replace(w.tempPath, w.finalPath, w.logger); err != nil {
		must.OSRemove(w.tempPath, w.logger)
		return "", err
	}

	return w.finalPath, nil
}

// Abort discards the writer's temporary file without attempting to
// finalize it. It's used on the error paths that precede Close.
func (w *Writer) Abort() {
	if w.closed {
		return
	}
	w.closed = true
	must.Close(w.file, w.logger)
	must.OSRemove(w.tempPath, w.logger)
}
