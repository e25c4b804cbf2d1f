package format

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/snapp-incubator/outlog/internal/logging"
	"github.com/snapp-incubator/outlog/pkg/hook"
)

// Console is an observer that writes a readable block per call to the
// debug log. Bodies are included only while emit body is on.
type Console struct {
	emitBody atomic.Bool
}

// NewConsole returns a Console observer.
func NewConsole(emitBody bool) *Console {
	c := &Console{}
	c.emitBody.Store(emitBody)
	return c
}

// SetEmitBody toggles body output.
func (c *Console) SetEmitBody(emit bool) {
	c.emitBody.Store(emit)
}

// EmitBody reports whether bodies are written.
func (c *Console) EmitBody() bool {
	return c.emitBody.Load()
}

// Key identifies the console observer for deduplication.
func (c *Console) Key() string { return "outlog.console" }

// Handle implements hook.Observer.
func (c *Console) Handle(e hook.Event) {
	if ce := logging.L.Check(zap.DebugLevel, "Outgoing request"); ce == nil {
		return
	}

	switch ev := e.(type) {
	case hook.Completed:
		logging.L.Debug("Outgoing request",
			zap.String("method", ev.Request.Method),
			zap.String("url", ev.Request.URL.String()),
			zap.Int("status_code", ev.Response.StatusCode),
			zap.Duration("elapsed", ev.Elapsed),
			zap.String("details", c.Format(e)),
		)
	case hook.Failed:
		fields := []zap.Field{zap.Error(ev.Err), zap.String("details", c.Format(e))}
		if ev.Request != nil {
			fields = append(fields, zap.String("method", ev.Request.Method), zap.String("url", ev.Request.URL.String()))
		}
		logging.L.Debug("Outgoing request error", fields...)
	}
}

// Format renders the event the way Handle logs it.
func (c *Console) Format(e hook.Event) string {
	emit := c.emitBody.Load()

	switch ev := e.(type) {
	case hook.Completed:
		return "\n" + FormatRequest(ev.Request, ev.RequestBody.Bytes, emit) +
			"\n" + FormatResponse(ev.Response, ev.ResponseBody.Bytes, emit)
	case hook.Failed:
		return "\n" + FormatError(ev.Err, ev.Request, ev.RequestBody.Bytes, emit)
	}

	return ""
}
