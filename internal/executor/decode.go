package executor

import (
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

func nonASCII(r rune) bool {
	return r > unicode.MaxASCII
}

// decodeASCII decodes b as ASCII and drops every byte outside it. Invalid UTF-8 reaches the
// filter as utf8.RuneError, which is non-ASCII, so it is dropped as well.
func decodeASCII(b []byte) string {
	out, _, _ := transform.Bytes(runes.Remove(runes.Predicate(nonASCII)), b)
	return string(out)
}
