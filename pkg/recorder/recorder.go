package recorder

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/snapp-incubator/outlog/internal/logging"
	"github.com/snapp-incubator/outlog/internal/metrics"
	"github.com/snapp-incubator/outlog/pkg/content"
	"github.com/snapp-incubator/outlog/pkg/format"
	"github.com/snapp-incubator/outlog/pkg/hook"
	"github.com/snapp-incubator/outlog/pkg/storage"
)

// Unknown stands in for the URL and method of a call without a request.
const Unknown = storage.Unknown

// Config contains configuration for the Recorder.
type Config struct {
	// Workers is the number of goroutines writing to storage. Default: 4
	Workers int

	// QueueSize is the write queue capacity. Zero writes on the calling
	// goroutine instead.
	QueueSize int

	// WriteTimeout is how long Handle waits for room in a full queue before
	// dropping the record. Default: 1 second
	WriteTimeout time.Duration

	// StoreTimeout bounds a single storage write. Default: 5 seconds
	StoreTimeout time.Duration

	// ContentTypes is the body allow-list. Default: content.DefaultRules()
	ContentTypes content.Rules

	// ScrubHeaders are masked in addition to Authorization.
	ScrubHeaders []string

	// RedactJSONPaths are masked in JSON bodies before storage.
	RedactJSONPaths []string

	// SkipRoutes are "METHOD:/path" patterns of calls that are never recorded.
	SkipRoutes []string
}

// DefaultConfig returns the default recorder configuration.
func DefaultConfig() Config {
	return Config{
		Workers:      4,
		QueueSize:    1024,
		WriteTimeout: time.Second,
		StoreTimeout: 5 * time.Second,
		ContentTypes: content.DefaultRules(),
	}
}

// Policy answers what may be persisted.
type Policy interface {
	SaveEnabled() bool
	SaveBodyEnabled() bool
	MaxContentLength() int64
}

// Recorder turns completion events into log records and writes them to
// storage in the background.
type Recorder struct {
	store  storage.Storage
	policy Policy
	config Config

	redactMu  sync.RWMutex
	processor *content.Processor
	scrub     []string
	jsonPaths []string
	skip      skipList

	mu     sync.RWMutex
	closed bool
	queue  chan *storage.LogRecord
	wg     sync.WaitGroup
}

// New returns a Recorder and starts its workers.
func New(store storage.Storage, policy Policy, config Config) *Recorder {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = time.Second
	}
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = 5 * time.Second
	}
	if config.ContentTypes == nil {
		config.ContentTypes = content.DefaultRules()
	}

	r := &Recorder{
		store:     store,
		policy:    policy,
		config:    config,
		processor: content.NewProcessor(config.ContentTypes),
		scrub:     config.ScrubHeaders,
		jsonPaths: config.RedactJSONPaths,
		skip:      newSkipList(config.SkipRoutes),
	}

	if config.QueueSize > 0 {
		r.queue = make(chan *storage.LogRecord, config.QueueSize)
		for i := 0; i < config.Workers; i++ {
			r.wg.Add(1)
			go r.worker()
		}
	}

	logging.L.Info("Outgoing request recorder initialized",
		zap.String("storage", store.Name()),
		zap.Int("workers", config.Workers),
		zap.Int("queue_size", config.QueueSize),
	)

	return r
}

// Key identifies the recorder for observer deduplication.
func (r *Recorder) Key() string { return "outlog.recorder" }

// Reconfigure replaces the content type rules, the masking lists and the
// skipped routes, e.g. after the config file changed.
func (r *Recorder) Reconfigure(config Config) {
	r.redactMu.Lock()
	defer r.redactMu.Unlock()

	if config.ContentTypes != nil {
		r.processor = content.NewProcessor(config.ContentTypes)
	}
	r.scrub = config.ScrubHeaders
	r.jsonPaths = config.RedactJSONPaths
	r.skip = newSkipList(config.SkipRoutes)
}

// CapturesContentType reports whether bodies of contentType can be saved.
func (r *Recorder) CapturesContentType(contentType string) bool {
	r.redactMu.RLock()
	defer r.redactMu.RUnlock()
	return r.processor.Rules.CheckContentType(contentType)
}

// Handle implements hook.Observer. Nothing it does reaches the caller of
// the instrumented request.
func (r *Recorder) Handle(e hook.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.L.Error("Failed saving outgoing request log", zap.Any("panic", rec))
			metrics.RecordCounter.WithLabelValues("failed").Inc()
		}
	}()

	if !r.policy.SaveEnabled() || r.skipped(e) {
		metrics.RecordCounter.WithLabelValues("skipped").Inc()
		return
	}

	r.enqueue(r.Build(e))
}

func (r *Recorder) skipped(e hook.Event) bool {
	var req *http.Request
	switch ev := e.(type) {
	case hook.Completed:
		req = ev.Request
	case hook.Failed:
		req = ev.Request
	}
	if req == nil || req.URL == nil {
		return false
	}

	r.redactMu.RLock()
	defer r.redactMu.RUnlock()
	return r.skip.skipped(req.Method, req.URL.Path)
}

// Build converts an event into a log record according to the current policy.
func (r *Recorder) Build(e hook.Event) *storage.LogRecord {
	var (
		req            *http.Request
		resp           *http.Response
		reqBody, rBody hook.Capture
		elapsed        time.Duration
		trace          string
	)

	switch ev := e.(type) {
	case hook.Completed:
		req, resp, elapsed = ev.Request, ev.Response, ev.Elapsed
		reqBody, rBody = ev.RequestBody, ev.ResponseBody
	case hook.Failed:
		req, resp, elapsed = ev.Request, ev.Response, ev.Elapsed
		reqBody = ev.RequestBody
		trace = format.ErrorTrace(ev.Err)
	}

	rawURL, method := Unknown, Unknown
	if req != nil && req.URL != nil {
		rawURL, method = req.URL.String(), req.Method
	}

	r.redactMu.RLock()
	defer r.redactMu.RUnlock()

	rec := storage.NewLogRecord(rawURL, e.RequestedAt())
	rec.Method = method
	rec.Trace = trace
	if req != nil {
		rec.ReqHeaders = format.FormatHeaders(format.Scrub(req.Header, r.scrub...))
	}
	if resp != nil {
		status := resp.StatusCode
		rec.StatusCode = &status
		rec.ResHeaders = format.FormatHeaders(format.Scrub(resp.Header, r.scrub...))
		rec.ResponseMS = elapsed.Milliseconds()
	}

	if !r.policy.SaveBodyEnabled() {
		return rec
	}

	maxLength := r.policy.MaxContentLength()
	if req != nil {
		if pb := r.processor.Process(hook.RequestMessage(req, reqBody), maxLength); pb.AllowSavingToDB {
			rec.ReqContentType = pb.ContentType
			rec.ReqBody = r.maskBody(pb)
			rec.ReqBodyEncoding = pb.Encoding
		}
	}
	if resp != nil {
		if pb := r.processor.Process(hook.ResponseMessage(resp, rBody), maxLength); pb.AllowSavingToDB {
			rec.ResContentType = pb.ContentType
			rec.ResBody = r.maskBody(pb)
			rec.ResBodyEncoding = pb.Encoding
		}
	}

	return rec
}

func (r *Recorder) maskBody(pb content.ProcessedBody) []byte {
	if len(r.jsonPaths) == 0 || !strings.HasSuffix(pb.ContentType, "json") {
		return pb.Content
	}
	return format.MaskJSONPaths(pb.Content, r.jsonPaths)
}

func (r *Recorder) enqueue(rec *storage.LogRecord) {
	if r.queue == nil {
		r.write(rec)
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.drop(rec, "recorder is closed")
		return
	}

	select {
	case r.queue <- rec:
		r.enqueued()
		return
	default:
	}

	timer := time.NewTimer(r.config.WriteTimeout)
	defer timer.Stop()

	select {
	case r.queue <- rec:
		r.enqueued()
	case <-timer.C:
		r.drop(rec, "write queue is full")
	}
}

func (r *Recorder) enqueued() {
	metrics.RecordCounter.WithLabelValues("enqueued").Inc()
	metrics.QueueLength.Inc()
}

func (r *Recorder) drop(rec *storage.LogRecord, reason string) {
	metrics.RecordCounter.WithLabelValues("dropped").Inc()
	logging.L.Error("Dropped outgoing request log",
		zap.String("reason", reason),
		zap.String("url", rec.URL),
		zap.String("method", rec.Method),
	)
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	for rec := range r.queue {
		metrics.QueueLength.Dec()
		r.write(rec)
	}
}

func (r *Recorder) write(rec *storage.LogRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.StoreTimeout)
	defer cancel()

	start := time.Now()
	err := r.store.Store(ctx, rec)
	metrics.StoreDuration.WithLabelValues(r.store.Name()).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.RecordCounter.WithLabelValues("failed").Inc()
		logging.L.Error("Error in logging the request into Storage",
			zap.String("url", rec.URL),
			zap.String("method", rec.Method),
			zap.Error(err),
		)
		return
	}

	metrics.RecordCounter.WithLabelValues("stored").Inc()
}

// Close stops accepting records and waits until the queue is drained or ctx
// is done.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		if r.queue != nil {
			close(r.queue)
		}
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
