// Package hashutil computes SHA-256 digests for in-memory buffers and files
// on disk, streaming rather than buffering whole files into RAM.
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// EmptyHash is the well-known SHA-256 digest of the empty byte string.
const EmptyHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// minimum chunk size streamed per read when hashing a file.
const streamChunk = 64 * 1024

// Bytes returns the lowercase hex SHA-256 digest of buf.
func Bytes(buf []byte) string {
	if len(buf) == 0 {
		return EmptyHash
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// File streams path through SHA-256 in streamChunk-sized reads, never
// holding the full file contents in memory.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, streamChunk)
	// Hide *os.File's WriteTo so CopyBuffer actually uses buf.
	if _, err := io.CopyBuffer(h, struct{ io.Reader }{f}, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
