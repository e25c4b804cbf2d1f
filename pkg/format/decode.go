package format

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"
)

// Decode turns a stored body into text using encoding. Undecodable bytes
// become U+FFFD. Unknown or empty encodings fall back to lossy UTF-8.
func Decode(b []byte, encoding string) string {
	if enc, err := htmlindex.Get(strings.TrimSpace(encoding)); err == nil {
		if name, _ := htmlindex.Name(enc); name != "utf-8" {
			if out, err := enc.NewDecoder().Bytes(b); err == nil {
				return string(out)
			}
		}
	}

	return lossyUTF8(b)
}

// lossyUTF8 replaces every invalid byte with U+FFFD, one per byte.
func lossyUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}

	var sb strings.Builder
	sb.Grow(len(b) + 8)
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size == 1 {
			sb.WriteRune(utf8.RuneError)
		} else {
			sb.Write(b[:size])
		}
		b = b[size:]
	}

	return sb.String()
}
