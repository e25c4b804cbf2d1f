package format

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// MaskJSONPaths replaces the values at the given gjson paths with Hidden.
// Paths that do not exist are left alone, and non-JSON bodies are returned
// unchanged.
func MaskJSONPaths(body []byte, paths []string) []byte {
	if len(paths) == 0 || !gjson.ValidBytes(body) {
		return body
	}

	masked := append([]byte(nil), body...)
	for _, path := range paths {
		if !gjson.GetBytes(masked, path).Exists() {
			continue
		}

		out, err := sjson.SetBytes(masked, path, Hidden)
		if err != nil {
			continue
		}
		masked = out
	}

	return masked
}
