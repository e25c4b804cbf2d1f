package format

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FormatRequest renders method, URL and headers of req, plus the body when
// emitBody is set.
func FormatRequest(req *http.Request, body []byte, emitBody bool) string {
	var sb strings.Builder
	sb.WriteString("---------------- request ----------------\n")
	if req == nil {
		sb.WriteString("(unknown)\n")
		return sb.String()
	}

	fmt.Fprintf(&sb, "%s %s\n", req.Method, req.URL)
	sb.WriteString(FormatHeaders(Scrub(req.Header)))
	sb.WriteString(formatBody(body, "Request", emitBody))
	sb.WriteString("\n")

	return sb.String()
}

// FormatResponse renders status, reason, URL and headers of resp, plus the
// body when emitBody is set.
func FormatResponse(resp *http.Response, body []byte, emitBody bool) string {
	var sb strings.Builder
	sb.WriteString("---------------- response ----------------\n")
	if resp == nil {
		sb.WriteString("(no response)\n")
		return sb.String()
	}

	url := ""
	if resp.Request != nil {
		url = resp.Request.URL.String()
	}

	fmt.Fprintf(&sb, "%d %s %s\n", resp.StatusCode, reason(resp), url)
	sb.WriteString(FormatHeaders(resp.Header))
	sb.WriteString(formatBody(body, "Response", emitBody))
	sb.WriteString("\n")

	return sb.String()
}

// FormatError renders err with its cause chain and, when available, the
// request that failed.
func FormatError(err error, req *http.Request, body []byte, emitBody bool) string {
	var sb strings.Builder
	sb.WriteString("---------------- error ----------------\n")
	if err != nil {
		sb.WriteString(err.Error())
		sb.WriteString("\n")
		sb.WriteString(ErrorTrace(err))
		sb.WriteString("\n")
	}

	if req != nil {
		sb.WriteString("\n")
		sb.WriteString(FormatRequest(req, body, emitBody))
	}

	return sb.String()
}

// ErrorTrace lists err and every error it wraps, one per line with its type.
// Go errors carry no stack, so the cause chain stands in for a traceback.
func ErrorTrace(err error) string {
	if err == nil {
		return ""
	}

	var lines []string
	for depth := 0; err != nil; depth++ {
		prefix := ""
		if depth > 0 {
			prefix = strings.Repeat("  ", depth-1) + "caused by "
		}
		lines = append(lines, fmt.Sprintf("%s%T: %v", prefix, err, err))

		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				lines = append(lines, strings.Repeat("  ", depth)+"caused by "+fmt.Sprintf("%T: %v", inner, inner))
			}
			break
		}
		err = errors.Unwrap(err)
	}

	return strings.Join(lines, "\n")
}

func reason(resp *http.Response) string {
	code := fmt.Sprintf("%d", resp.StatusCode)
	if r := strings.TrimSpace(strings.TrimPrefix(resp.Status, code)); r != "" {
		return r
	}
	return http.StatusText(resp.StatusCode)
}

func formatBody(body []byte, side string, emitBody bool) string {
	if !emitBody {
		return ""
	}
	return fmt.Sprintf("\n%s body:\n%s", side, lossyUTF8(body))
}
