package format

import (
	"net/http"
	"sort"
	"strings"
)

// Hidden replaces sensitive values in persisted and logged data.
const Hidden = "***hidden***"

// FormatHeaders renders one "Key: Value" line per header value. http.Header
// keeps no insertion order, so keys are sorted to keep records stable.
func FormatHeaders(h http.Header) string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		for _, v := range h[k] {
			lines = append(lines, k+": "+v)
		}
	}

	return strings.Join(lines, "\n")
}

// Scrub returns a copy of h with Authorization and any extra header values
// masked. Names are matched case-insensitively.
func Scrub(h http.Header, extra ...string) http.Header {
	scrubbed := h.Clone()
	if scrubbed == nil {
		return http.Header{}
	}

	names := append([]string{"Authorization"}, extra...)
	for _, name := range names {
		key := http.CanonicalHeaderKey(strings.TrimSpace(name))
		for k := range scrubbed {
			if strings.EqualFold(k, key) {
				scrubbed[k] = []string{Hidden}
			}
		}
	}

	return scrubbed
}
