package storage

import (
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/snapp-incubator/outlog/pkg/format"
)

// Unknown stands in for the URL, hostname and method of a call without a
// request.
const Unknown = "(unknown)"

// LogRecord is one persisted outgoing call attempt.
type LogRecord struct {
	ID  string `json:"id"`
	URL string `json:"url"`

	// Hostname and Params are derived from URL by SetURL.
	Hostname string `json:"hostname"`
	Params   string `json:"params"`

	StatusCode *int   `json:"status_code"` // nil when no response was received
	Method     string `json:"method"`

	ReqContentType  string `json:"req_content_type"`
	ResContentType  string `json:"res_content_type"`
	ReqHeaders      string `json:"req_headers"`
	ResHeaders      string `json:"res_headers"`
	ReqBody         []byte `json:"req_body"`
	ResBody         []byte `json:"res_body"`
	ReqBodyEncoding string `json:"req_body_encoding"`
	ResBodyEncoding string `json:"res_body_encoding"`

	ResponseMS int64     `json:"response_ms"`
	Timestamp  time.Time `json:"timestamp"`
	Trace      string    `json:"trace"`
}

// NewLogRecord returns a record for rawURL with a fresh ID and empty bodies.
func NewLogRecord(rawURL string, timestamp time.Time) *LogRecord {
	r := &LogRecord{
		ID:        uuid.NewString(),
		ReqBody:   []byte{},
		ResBody:   []byte{},
		Timestamp: timestamp.UTC(),
	}
	r.SetURL(rawURL)
	return r
}

// SetURL sets URL and the fields derived from it.
func (r *LogRecord) SetURL(rawURL string) {
	r.URL = rawURL
	r.Hostname, r.Params = "", ""

	if rawURL == Unknown {
		r.Hostname = Unknown
		return
	}

	if u, err := url.Parse(rawURL); err == nil {
		r.Hostname = u.Host
		r.Params = u.RawQuery
	}
}

// QueryParams parses the query string of URL.
func (r *LogRecord) QueryParams() url.Values {
	values, _ := url.ParseQuery(r.Params)
	return values
}

// RequestBodyDecoded returns the request body as text.
func (r *LogRecord) RequestBodyDecoded() string {
	return format.Decode(r.ReqBody, r.ReqBodyEncoding)
}

// ResponseBodyDecoded returns the response body as text.
func (r *LogRecord) ResponseBodyDecoded() string {
	return format.Decode(r.ResBody, r.ResBodyEncoding)
}

func (r *LogRecord) String() string {
	return fmt.Sprintf("%s at %s", r.Hostname, r.Timestamp.Format("2006-01-02 15:04:05.999999-07:00"))
}

// normalize makes bodies non-nil after decoding from a backend.
func (r *LogRecord) normalize() *LogRecord {
	if r.ReqBody == nil {
		r.ReqBody = []byte{}
	}
	if r.ResBody == nil {
		r.ResBody = []byte{}
	}
	r.Timestamp = r.Timestamp.UTC()
	return r
}
