package content

import (
	"mime"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/snapp-incubator/outlog/internal/logging"
)

// Message is the view of a request or response that the body policy inspects.
// The hook fills it from captured data so nothing here touches a live stream.
type Message struct {
	Header http.Header

	// ContentLength is the length declared by the transport layer, -1 if unknown.
	ContentLength int64

	// Body holds the captured bytes. It is the complete body when BodyKnown is
	// set and Truncated is not.
	Body      []byte
	BodyKnown bool

	// Truncated is set when capture stopped at its limit and the real body is
	// longer than Body.
	Truncated bool

	// Target names the peer in diagnostics (host[:port] or URL).
	Target string
}

// ParseContentTypeHeader splits the Content-Type header into the media type
// and its charset parameter. Both are empty when the header is missing.
func ParseContentTypeHeader(header http.Header) (string, string) {
	line := header.Get("Content-Type")
	if line == "" {
		return "", ""
	}

	mediaType, params, err := mime.ParseMediaType(line)
	if err != nil && mediaType == "" {
		// malformed parameters; keep what precedes the first ';'
		base, rest, _ := strings.Cut(line, ";")
		return strings.ToLower(strings.TrimSpace(base)), charsetFromParams(rest)
	}

	return mediaType, params["charset"]
}

func charsetFromParams(rest string) string {
	for _, part := range strings.Split(rest, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && strings.EqualFold(strings.TrimSpace(key), "charset") {
			return strings.Trim(strings.TrimSpace(value), `"`)
		}
	}
	return ""
}

// contentLength returns the best known size of the message body and whether
// it could be determined at all.
func contentLength(m Message) (int64, bool) {
	if raw := m.Header.Get("Content-Length"); raw != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil && n >= 0 {
			return n, true
		}
	}

	if m.ContentLength > 0 {
		return m.ContentLength, true
	}

	if m.Truncated {
		return int64(len(m.Body)) + 1, true
	}

	if m.BodyKnown {
		return int64(len(m.Body)), true
	}

	return 0, false
}

// CheckContentLength reports whether the body fits in maxLength bytes. When
// the size cannot be determined the check passes with a warning.
func CheckContentLength(m Message, maxLength int64) bool {
	length, ok := contentLength(m)
	if !ok {
		logging.L.Warn(
			"Content length of the request/response (request netloc: "+m.Target+") could not be determined.",
			zap.String("target", m.Target),
		)
		return true
	}

	return length <= maxLength
}
