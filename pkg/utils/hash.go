package utils

import (
	"encoding/hex"

	"lukechampine.com/blake3"
)

// URLHash returns the hex BLAKE3-256 digest of a URL string.
func URLHash(rawURL string) string {
	sum := blake3.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:])
}

// ShortURLHash returns the first n hex characters of URLHash.
func ShortURLHash(rawURL string, n int) string {
	h := URLHash(rawURL)
	if n <= 0 || n > len(h) {
		return h
	}
	return h[:n]
}
