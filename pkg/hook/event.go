package hook

import (
	"net/http"
	"time"

	"github.com/snapp-incubator/outlog/pkg/content"
)

// Event is emitted exactly once per call made through a Transport. It is
// either Completed or Failed.
type Event interface {
	RequestedAt() time.Time
	isEvent()
}

// Capture is a snapshot of body bytes seen by the transport.
type Capture struct {
	Bytes []byte

	// Known is set when Bytes is the whole body or a prefix of it that
	// exceeded the capture limit (Truncated).
	Known     bool
	Truncated bool
}

// Completed is a call that produced a response, whatever its status code.
type Completed struct {
	Started  time.Time
	Elapsed  time.Duration
	Request  *http.Request
	Response *http.Response

	RequestBody  Capture
	ResponseBody Capture
}

// Failed is a call where the wrapped transport returned an error. Request
// can be nil when the failure happened before a request existed.
type Failed struct {
	Started  time.Time
	Elapsed  time.Duration
	Request  *http.Request
	Response *http.Response
	Err      error

	RequestBody Capture
}

func (e Completed) RequestedAt() time.Time { return e.Started }
func (e Failed) RequestedAt() time.Time    { return e.Started }

func (Completed) isEvent() {}
func (Failed) isEvent()    {}

// RequestMessage builds the body policy view of an outgoing request.
func RequestMessage(req *http.Request, c Capture) content.Message {
	if req == nil {
		return content.Message{Header: http.Header{}, ContentLength: -1}
	}

	length := req.ContentLength
	if length == 0 && req.Body != nil && req.Body != http.NoBody {
		length = -1
	}

	return content.Message{
		Header:        req.Header,
		ContentLength: length,
		Body:          c.Bytes,
		BodyKnown:     c.Known,
		Truncated:     c.Truncated,
		Target:        requestTarget(req),
	}
}

// ResponseMessage builds the body policy view of a response.
func ResponseMessage(resp *http.Response, c Capture) content.Message {
	if resp == nil {
		return content.Message{Header: http.Header{}, ContentLength: -1}
	}

	m := content.Message{
		Header:        resp.Header,
		ContentLength: resp.ContentLength,
		Body:          c.Bytes,
		BodyKnown:     c.Known,
		Truncated:     c.Truncated,
	}
	if resp.Request != nil {
		m.Target = requestTarget(resp.Request)
	}

	return m
}

func requestTarget(req *http.Request) string {
	if req.URL == nil {
		return ""
	}
	if req.URL.Host != "" {
		return req.URL.Host
	}
	return req.URL.String()
}
