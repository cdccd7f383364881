// Package control parses zsync control files: the textual header describing
// the target file plus the fixed-width binary table of per-block weak and
// strong checksums.
package control

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"io"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DigestAlgorithm identifies which whole-file digest a control file carries.
type DigestAlgorithm string

// Supported whole-file digest algorithms. The source format historically
// used MD4 exclusively; newer control files may carry a SHA-1 digest
// instead, and implementations are expected to accept whichever is present.
const (
	DigestMD4  DigestAlgorithm = "md4"
	DigestSHA1 DigestAlgorithm = "sha-1"
)

// WholeFileDigest is the target's whole-file checksum as declared by the
// control file header.
type WholeFileDigest struct {
	Algorithm DigestAlgorithm
	Sum       []byte
}

// BlockHash is one entry of the control file's block-sum table.
type BlockHash struct {
	// Weak is the rolling checksum for this block, already masked to the
	// control file's declared weak-sum length.
	Weak uint32
	// Strong is the truncated MD4 digest for this block, Strong-sum-length
	// bytes long.
	Strong []byte
}

// File is a fully parsed, immutable zsync control file.
type File struct {
	// Length is the target file's length in bytes.
	Length int64
	// BlockSize is the block size in bytes; always a positive power of two
	// in practice, though parsing does not require it.
	BlockSize int64
	// SequenceMatches is Q, the number of consecutive blocks that must
	// match simultaneously for a hit to be accepted (1 or 2).
	SequenceMatches int
	// WeakLength is W, the number of bytes the weak sum is masked to.
	WeakLength int
	// StrongLength is S, the number of bytes each stored strong sum holds.
	StrongLength int
	// Digest is the whole-file checksum the reconstructed output must match.
	Digest WholeFileDigest
	// Filename is the suggested output filename.
	Filename string
	// URL is the target URL, possibly relative to the control file's own
	// location.
	URL string
	// MTime is the target's modification time, if the header supplied one.
	MTime time.Time
	// Blocks is the block-sum table, indexed by block number.
	Blocks []BlockHash
}

// NumBlocks returns the number of blocks described by the control file.
func (f *File) NumBlocks() int {
	return len(f.Blocks)
}

// BlockLength returns the number of real (unpadded) target bytes covered by
// block k. Every block is BlockSize bytes except possibly the last, which
// may be shorter when Length is not a multiple of BlockSize.
func (f *File) BlockLength(k int) int64 {
	if k == len(f.Blocks)-1 {
		if rem := f.Length % f.BlockSize; rem != 0 {
			return rem
		}
	}
	return f.BlockSize
}

// Parse reads a complete control file from r: the text header followed by
// the binary block-sum table.
func Parse(r io.Reader) (*File, error) {
	br := bufio.NewReader(r)

	header, err := textproto.NewReader(br).ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "control file: malformed header")
	}

	f := &File{}

	length, err := requireInt(header, "Length")
	if err != nil {
		return nil, err
	}
	f.Length = length

	blockSize, err := requireInt(header, "Blocksize")
	if err != nil {
		return nil, err
	}
	if blockSize <= 0 {
		return nil, errors.Errorf("control file: non-positive blocksize %d", blockSize)
	}
	f.BlockSize = blockSize

	hashLengths := header.Get("Hash-Lengths")
	if hashLengths == "" {
		return nil, errors.Errorf("control file: missing required header %q", "Hash-Lengths")
	}
	q, w, s, err := parseHashLengths(hashLengths)
	if err != nil {
		return nil, err
	}
	f.SequenceMatches, f.WeakLength, f.StrongLength = q, w, s

	if sha1hex := header.Get("SHA-1"); sha1hex != "" {
		sum, err := hex.DecodeString(sha1hex)
		if err != nil {
			return nil, errors.Wrap(err, "control file: malformed SHA-1 digest")
		}
		f.Digest = WholeFileDigest{Algorithm: DigestSHA1, Sum: sum}
	} else if md4hex := header.Get("MD4"); md4hex != "" {
		sum, err := hex.DecodeString(md4hex)
		if err != nil {
			return nil, errors.Wrap(err, "control file: malformed MD4 digest")
		}
		f.Digest = WholeFileDigest{Algorithm: DigestMD4, Sum: sum}
	} else {
		return nil, errors.New("control file: missing whole-file digest (SHA-1 or MD4)")
	}

	f.Filename = header.Get("Filename")
	f.URL = header.Get("URL")
	if f.URL == "" {
		return nil, errors.Errorf("control file: missing required header %q", "URL")
	}

	if mtime := header.Get("MTime"); mtime != "" {
		if t, err := parseMTime(mtime); err == nil {
			f.MTime = t
		}
	}

	numBlocks := (f.Length + f.BlockSize - 1) / f.BlockSize
	if f.Length == 0 {
		numBlocks = 0
	}
	recordSize := w + s
	table := make([]byte, numBlocks*int64(recordSize))
	if _, err := io.ReadFull(br, table); err != nil {
		return nil, errors.Wrap(err, "control file: block table truncated")
	}

	f.Blocks = make([]BlockHash, numBlocks)
	for k := int64(0); k < numBlocks; k++ {
		rec := table[k*int64(recordSize) : (k+1)*int64(recordSize)]
		f.Blocks[k] = BlockHash{
			Weak:   decodeWeak(rec[:w]),
			Strong: append([]byte(nil), rec[w:]...),
		}
	}

	// Confirm there is no trailing garbage that would indicate a body
	// length mismatch against Length/BlockSize.
	if extra, err := br.Peek(1); err == nil && len(extra) > 0 {
		return nil, errors.New("control file: block table longer than Length/Blocksize implies")
	}

	return f, nil
}

// requireInt fetches and parses a required base-10 integer header field.
func requireInt(header textproto.MIMEHeader, key string) (int64, error) {
	value := header.Get(key)
	if value == "" {
		return 0, errors.Errorf("control file: missing required header %q", key)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "control file: malformed header %q", key)
	}
	return n, nil
}

// parseHashLengths parses the "Q,W,S" Hash-Lengths header value.
func parseHashLengths(value string) (q, w, s int, err error) {
	parts := strings.Split(value, ",")
	if len(parts) != 3 {
		return 0, 0, 0, errors.Errorf("control file: malformed Hash-Lengths %q", value)
	}
	ints := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return 0, 0, 0, errors.Wrapf(err, "control file: malformed Hash-Lengths %q", value)
		}
		ints[i] = n
	}
	q, w, s = ints[0], ints[1], ints[2]
	if q != 1 && q != 2 {
		return 0, 0, 0, errors.Errorf("control file: unsupported sequence-matches value %d", q)
	}
	if w < 2 || w > 4 {
		return 0, 0, 0, errors.Errorf("control file: weak-sum length %d out of range [2,4]", w)
	}
	if s < 3 || s > 16 {
		return 0, 0, 0, errors.Errorf("control file: strong-sum length %d out of range [3,16]", s)
	}
	return q, w, s, nil
}

func decodeWeak(raw []byte) uint32 {
	var buf [4]byte
	copy(buf[4-len(raw):], raw)
	return binary.BigEndian.Uint32(buf[:])
}

// parseMTime accepts the handful of date formats zsync control files are
// known to use in the wild (RFC 1123 is most common).
func parseMTime(value string) (time.Time, error) {
	layouts := []string{
		time.RFC1123Z,
		time.RFC1123,
		time.RFC822Z,
		time.RFC822,
	}
	var lastErr error
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}
