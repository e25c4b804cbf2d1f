package hook

import (
	"bytes"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/snapp-incubator/outlog/internal/logging"
	"github.com/snapp-incubator/outlog/internal/metrics"
	"github.com/snapp-incubator/outlog/pkg/content"
)

// DefaultCaptureLimit is the number of body bytes captured per side when no
// CaptureLimiter is configured.
const DefaultCaptureLimit int64 = 524_288

const tracerName = "github.com/snapp-incubator/outlog/pkg/hook"

// CaptureLimiter tells the transport how many body bytes observers may need.
// A limit <= 0 disables body capture.
type CaptureLimiter interface {
	CaptureLimit() int64
}

// ContentTypeFilter can be implemented by a CaptureLimiter to skip capturing
// bodies whose content type no observer keeps.
type ContentTypeFilter interface {
	CaptureContentType(contentType string) bool
}

// CaptureLimitFunc adapts a function to CaptureLimiter.
type CaptureLimitFunc func() int64

func (f CaptureLimitFunc) CaptureLimit() int64 { return f() }

// Transport is an http.RoundTripper that reports every call to its observers.
// It never changes what the caller sees: errors from Base are returned as is
// and response bodies are handed back unread. The Completed event of a
// captured response body fires while the caller consumes it, so callers must
// read or close the body as net/http already requires.
type Transport struct {
	Base http.RoundTripper

	limiter CaptureLimiter
	tracer  trace.Tracer

	mu        sync.Mutex
	observers atomic.Pointer[[]Observer]
}

// Option configures a Transport.
type Option func(*Transport)

// WithObserver registers o on the transport.
func WithObserver(o Observer) Option {
	return func(t *Transport) { t.register(o) }
}

// WithCaptureLimiter sets the body capture budget.
func WithCaptureLimiter(l CaptureLimiter) Option {
	return func(t *Transport) { t.limiter = l }
}

// WithTracer sets the tracer used for client spans. The global otel tracer is
// used otherwise.
func WithTracer(tracer trace.Tracer) Option {
	return func(t *Transport) { t.tracer = tracer }
}

// NewTransport wraps base, http.DefaultTransport when nil.
func NewTransport(base http.RoundTripper, opts ...Option) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}

	t := &Transport{Base: base}
	empty := []Observer{}
	t.observers.Store(&empty)

	for _, opt := range opts {
		opt(t)
	}

	if t.tracer == nil {
		t.tracer = otel.Tracer(tracerName)
	}

	return t
}

// Install instruments client and returns its Transport. When the client is
// already instrumented nothing is wrapped again; only observers that are not
// registered yet are added, so installing twice never double-fires.
func Install(client *http.Client, opts ...Option) *Transport {
	if existing, ok := client.Transport.(*Transport); ok {
		logging.L.Debug("HTTP client is already instrumented")

		probe := NewTransport(existing.Base, opts...)
		for _, o := range probe.Observers() {
			existing.register(o)
		}
		return existing
	}

	t := NewTransport(client.Transport, opts...)
	client.Transport = t
	return t
}

// Register adds o unless an equivalent observer is already registered.
func (t *Transport) Register(o Observer) {
	t.register(o)
}

func (t *Transport) register(o Observer) {
	if o == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.Observers()
	for _, existing := range current {
		if sameObserver(existing, o) {
			return
		}
	}

	next := make([]Observer, 0, len(current)+1)
	next = append(next, current...)
	next = append(next, o)
	t.observers.Store(&next)
}

// Observers returns the registered observers.
func (t *Transport) Observers() []Observer {
	if p := t.observers.Load(); p != nil {
		return *p
	}
	return nil
}

func (t *Transport) captureLimit() int64 {
	if t.limiter == nil {
		return DefaultCaptureLimit
	}
	return t.limiter.CaptureLimit()
}

func (t *Transport) capturesContentType(h http.Header) bool {
	f, ok := t.limiter.(ContentTypeFilter)
	if !ok {
		return true
	}
	contentType, _ := content.ParseContentTypeHeader(h)
	return f.CaptureContentType(contentType)
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	started := time.Now()
	limit := t.captureLimit()

	ctx, span := t.tracer.Start(req.Context(), "HTTP "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.full", req.URL.String()),
			attribute.String("server.address", req.URL.Host),
		),
	)
	defer span.End()

	outgoing := req.WithContext(ctx)
	var reqCapture *requestCapture
	if limit > 0 && req.Body != nil && req.Body != http.NoBody && req.ContentLength <= limit && t.capturesContentType(req.Header) {
		reqCapture = &requestCapture{limit: limit, declared: req.ContentLength}
		outgoing.Body = reqCapture.wrap(req.Body)

		// http.Transport resends through GetBody after a connection reset.
		if req.GetBody != nil {
			outgoing.GetBody = func() (io.ReadCloser, error) {
				rc, err := req.GetBody()
				if err != nil {
					return nil, err
				}
				return reqCapture.wrap(rc), nil
			}
		}
	}

	resp, err := t.Base.RoundTrip(outgoing)
	elapsed := time.Since(started)
	metrics.OutgoingDuration.WithLabelValues(req.Method, req.URL.Host).Observe(elapsed.Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		t.emit(Failed{
			Started:     started,
			Elapsed:     elapsed,
			Request:     req,
			Response:    resp,
			Err:         err,
			RequestBody: reqCapture.snapshot(),
		})
		return resp, err
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= 500 {
		span.SetStatus(codes.Error, resp.Status)
	}

	t.captureResponse(resp, limit, func(body Capture) {
		t.emit(Completed{
			Started:      started,
			Elapsed:      elapsed,
			Request:      req,
			Response:     resp,
			RequestBody:  reqCapture.snapshot(),
			ResponseBody: body,
		})
	})

	return resp, nil
}

// CloseIdleConnections forwards to Base so http.Client.CloseIdleConnections keeps working.
func (t *Transport) CloseIdleConnections() {
	type closeIdler interface{ CloseIdleConnections() }
	if c, ok := t.Base.(closeIdler); ok {
		c.CloseIdleConnections()
	}
}

func (t *Transport) emit(e Event) {
	kind, method := "completed", ""
	switch ev := e.(type) {
	case Completed:
		method = ev.Request.Method
	case Failed:
		kind = "failed"
		if ev.Request != nil {
			method = ev.Request.Method
		}
	}
	metrics.EventCounter.WithLabelValues(kind, method).Inc()

	for _, o := range t.Observers() {
		notify(o, e)
	}
}

func notify(o Observer, e Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.L.Error("Outgoing request observer panicked", zap.Any("panic", r))
		}
	}()

	o.Handle(e)
}

// captureResponse calls done once with the response body capture. Bodies
// that are not captured are reported right away. Captured bodies are teed
// while the caller reads them and reported at EOF, once more than limit bytes
// went through, or on Close, so streaming responses reach the caller
// unbuffered.
func (t *Transport) captureResponse(resp *http.Response, limit int64, done func(Capture)) {
	switch {
	case resp.Body == nil || resp.Body == http.NoBody:
		done(Capture{Bytes: []byte{}, Known: true})
	case resp.StatusCode == http.StatusSwitchingProtocols:
		// the body is the upgraded connection
		done(Capture{})
	case limit <= 0 || resp.ContentLength > limit || !t.capturesContentType(resp.Header):
		done(Capture{})
	default:
		c := newCaptureReader(resp.Body, limit, resp.ContentLength)
		c.done = done
		resp.Body = c
	}
}

// requestCapture follows the request body across GetBody rewinds. Only the
// body of the latest attempt counts.
type requestCapture struct {
	limit, declared int64

	mu      sync.Mutex
	current *captureReader
}

func (r *requestCapture) wrap(rc io.ReadCloser) io.ReadCloser {
	c := newCaptureReader(rc, r.limit, r.declared)

	r.mu.Lock()
	r.current = c
	r.mu.Unlock()

	return c
}

func (r *requestCapture) snapshot() Capture {
	if r == nil {
		return Capture{}
	}

	r.mu.Lock()
	c := r.current
	r.mu.Unlock()

	return c.snapshot()
}

// captureReader records the first limit+1 bytes of a body while it is being
// read. A request body may still be written by the transport from another
// goroutine when the event is built, hence the mutex. When done is set it is
// called once, after the capture is complete or the body is closed.
type captureReader struct {
	rc    io.ReadCloser
	limit int64

	// declared is the ContentLength. Readers may stop once they got that
	// many bytes, before seeing io.EOF.
	declared int64

	done func(Capture)
	once sync.Once

	mu   sync.Mutex
	buf  bytes.Buffer
	read int64
	eof  bool
}

func newCaptureReader(rc io.ReadCloser, limit, declared int64) *captureReader {
	return &captureReader{rc: rc, limit: limit, declared: declared}
}

func (c *captureReader) Read(p []byte) (int, error) {
	n, err := c.rc.Read(p)

	c.mu.Lock()
	if room := c.limit + 1 - int64(c.buf.Len()); room > 0 && n > 0 {
		keep := int64(n)
		if keep > room {
			keep = room
		}
		c.buf.Write(p[:keep])
	}
	c.read += int64(n)
	if err == io.EOF {
		c.eof = true
	}
	complete := c.read > c.limit || c.eof || (c.declared > 0 && c.read >= c.declared)
	c.mu.Unlock()

	if complete || err != nil {
		c.finish()
	}

	return n, err
}

func (c *captureReader) Close() error {
	err := c.rc.Close()
	c.finish()
	return err
}

func (c *captureReader) finish() {
	if c.done == nil {
		return
	}
	c.once.Do(func() { c.done(c.snapshot()) })
}

func (c *captureReader) snapshot() Capture {
	if c == nil {
		return Capture{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	data := append([]byte(nil), c.buf.Bytes()...)
	switch {
	case c.read > c.limit:
		return Capture{Bytes: data[:c.limit], Known: true, Truncated: true}
	case c.eof, c.declared > 0 && c.read >= c.declared:
		return Capture{Bytes: data, Known: true}
	default:
		return Capture{}
	}
}
