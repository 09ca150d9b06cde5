package utils

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// ContentHashSize is the digest width in bytes (128 bits)
const ContentHashSize = 16

// ContentHashLength is the length of a rendered content hash
const ContentHashLength = ContentHashSize * 2

// ContentHash returns the BLAKE3 digest of data truncated to 128 bits, as lowercase hex
func ContentHash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:ContentHashSize])
}

// IsContentHash reports whether s has the shape of a rendered content hash
func IsContentHash(s string) bool {
	if len(s) != ContentHashLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
