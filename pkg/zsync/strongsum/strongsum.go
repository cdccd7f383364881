// Package strongsum computes the per-block strong checksum used to confirm
// a weak-sum hit. Zsync control files always use MD4 for this purpose,
// truncated to a configurable number of bytes; it is not used as, or relied
// upon as, a cryptographic digest.
package strongsum

import "golang.org/x/crypto/md4"

// Sum computes the MD4 digest of data and truncates it to length bytes.
// Length must be between 1 and md4.Size inclusive; callers are expected to
// validate this against the control file's declared strong-sum length
// before calling Sum on a hot path.
func Sum(data []byte, length int) []byte {
	h := md4.New()
	h.Write(data)
	digest := h.Sum(nil)
	if length >= len(digest) {
		return digest
	}
	return digest[:length]
}
