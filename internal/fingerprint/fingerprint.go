// Package fingerprint derives the cache and de-duplication key of a design
// request.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ImagePrefixLen is the number of image characters folded into the key.
const ImagePrefixLen = 100

// Of returns the hex SHA-256 of the trimmed prompt, the first ImagePrefixLen
// characters of the image and the image length in characters. Case and inner
// whitespace of the prompt are significant.
func Of(prompt, image string) string {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(prompt)))
	h.Write([]byte(prefix(image, ImagePrefixLen)))
	h.Write([]byte(strconv.Itoa(utf8.RuneCountInString(image))))
	return hex.EncodeToString(h.Sum(nil))
}

func prefix(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
