// Package fingerprint records what a file looked like when it was indexed.
//
// The modification time (plus size) is the cheap change signal used on every
// scan. The optional SHA-256 content hash is computed only when requested and
// is stamped onto chunks for citation and de-duplication.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"
)

// Fingerprint describes one observed version of a file
type Fingerprint struct {
	ModTime time.Time
	Size    int64
	Hash    string // Hex SHA-256, empty unless computed
}

// Stat takes the cheap fingerprint of path: mtime and size only.
func Stat(path string) (Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{ModTime: info.ModTime(), Size: info.Size()}, nil
}

// Compute takes the fingerprint of path and, if withHash is set, hashes the
// whole file.
func Compute(path string, withHash bool) (Fingerprint, error) {
	if !withHash {
		return Stat(path)
	}

	file, err := os.Open(path)
	if err != nil {
		return Fingerprint{}, err
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return Fingerprint{}, err
	}

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return Fingerprint{}, fmt.Errorf("hash %s: %w", path, err)
	}

	return Fingerprint{
		ModTime: info.ModTime(),
		Size:    info.Size(),
		Hash:    hex.EncodeToString(hash.Sum(nil)),
	}, nil
}

// SameVersion reports whether two fingerprints describe the same file
// version. Hashes are compared only when both sides carry one.
func (f Fingerprint) SameVersion(other Fingerprint) bool {
	if !f.ModTime.Equal(other.ModTime) || f.Size != other.Size {
		return false
	}
	if f.Hash != "" && other.Hash != "" {
		return f.Hash == other.Hash
	}
	return true
}

// IsZero reports whether nothing was recorded
func (f Fingerprint) IsZero() bool {
	return f.ModTime.IsZero() && f.Size == 0 && f.Hash == ""
}
