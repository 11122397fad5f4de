package util

import (
	"crypto/rand"
	"io"
	"strings"
)

const (
	idAlphabet   = "abcdefghijklmnopqrstuvwxyz0123456789"
	idSuffixLen  = 9
	idPrefixLen  = 3
	idSeparator  = "-"
	defaultIDPre = "id"
)

// NewID returns "{prefix}-{suffix}" where prefix is taken from the first
// letters of the collection name and suffix is a random alphanumeric string.
func NewID(collection string) string {
	return Prefix(collection) + idSeparator + randomSuffix(idSuffixLen)
}

// Prefix derives the short id prefix for a collection name.
func Prefix(collection string) string {
	letters := make([]rune, 0, idPrefixLen)
	for _, r := range strings.ToLower(collection) {
		if r < 'a' || r > 'z' {
			continue
		}
		letters = append(letters, r)
		if len(letters) == idPrefixLen {
			break
		}
	}
	if len(letters) == 0 {
		return defaultIDPre
	}
	return string(letters)
}

// Suffix returns everything after the first separator, or the whole id when
// it has none.
func Suffix(id string) string {
	if _, after, ok := strings.Cut(id, idSeparator); ok && after != "" {
		return after
	}
	return id
}

// IsID reports whether id has the "{prefix}-{suffix}" shape for prefix.
func IsID(prefix, id string) bool {
	rest, ok := strings.CutPrefix(id, prefix+idSeparator)
	if !ok || len(rest) != idSuffixLen {
		return false
	}
	for _, r := range rest {
		if !strings.ContainsRune(idAlphabet, r) {
			return false
		}
	}
	return true
}

func randomSuffix(n int) string {
	return suffixFrom(rand.Reader, n)
}

// suffixFrom draws n alphabet characters from r. Bytes at or above the
// largest multiple of the alphabet size are discarded so every character is
// equally likely.
func suffixFrom(r io.Reader, n int) string {
	limit := 256 - 256%len(idAlphabet)
	out := make([]byte, 0, n)
	buf := make([]byte, n+n/4+1)
	for len(out) < n {
		if _, err := io.ReadFull(r, buf); err != nil {
			panic("util: reading random bytes: " + err.Error())
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, idAlphabet[int(b)%len(idAlphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out)
}
