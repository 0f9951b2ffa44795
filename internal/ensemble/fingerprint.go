package ensemble

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Fingerprint digests an evaluation ordering's ground-truth labels. Two
// members evaluated over the same ordered sample sequence share a
// fingerprint; a mismatch proves their prediction vectors cannot be
// aggregated together.
func Fingerprint(truth []int) string {
	h := sha256.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(len(truth)))
	h.Write(buf[:])
	for _, label := range truth {
		binary.BigEndian.PutUint64(buf[:], uint64(int64(label)))
		h.Write(buf[:])
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
