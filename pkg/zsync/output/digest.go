package output

import (
	"crypto/sha1"
	"fmt"

	"golang.org/x/crypto/md4"

	"github.com/zsync-go/zsync/pkg/zsync/control"
)

// newDigestHash returns a fresh hash.Hash matching the control file's
// declared whole-file digest algorithm. The source format historically used
// only MD4, but newer control files may specify SHA-1 instead.
func newDigestHash(algorithm control.DigestAlgorithm) (hasher, error) {
	switch algorithm {
	case control.DigestMD4:
		return md4.New(), nil
	case control.DigestSHA1:
		return sha1.New(), nil
	default:
		return nil, fmt.Errorf("output: unsupported whole-file digest algorithm %q", algorithm)
	}
}
