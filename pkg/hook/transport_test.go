package hook

import (
	"bufio"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) Handle(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) all() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func newEchoServer(t *testing.T, body string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestInstallEmitsOneEventPerCall(t *testing.T) {
	srv := newEchoServer(t, `{"test": "response data"}`)
	obs := &collector{}
	client := &http.Client{}

	Install(client, WithObserver(obs))

	for i := 0; i < 2; i++ {
		resp, err := client.Get(srv.URL + "/some-path?version=2.0")
		if err != nil {
			t.Fatalf("Get() failed: %v", err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if string(body) != `{"test": "response data"}` {
			t.Fatalf("caller lost the response body, got %q", body)
		}
	}

	events := obs.all()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	completed, ok := events[0].(Completed)
	if !ok {
		t.Fatalf("expected Completed, got %T", events[0])
	}
	if completed.Response.StatusCode != http.StatusOK {
		t.Errorf("unexpected status %d", completed.Response.StatusCode)
	}
	if string(completed.ResponseBody.Bytes) != `{"test": "response data"}` || !completed.ResponseBody.Known {
		t.Errorf("unexpected response capture %+v", completed.ResponseBody)
	}
	if completed.RequestedAt().IsZero() {
		t.Error("requested_at must be set")
	}
}

func TestInstallTwiceIsNoop(t *testing.T) {
	srv := newEchoServer(t, "ok")
	obs := &collector{}
	client := &http.Client{}

	first := Install(client, WithObserver(obs))
	second := Install(client, WithObserver(obs))

	if first != second {
		t.Fatal("second install must return the existing transport")
	}
	if _, ok := first.Base.(*Transport); ok {
		t.Fatal("transport was wrapped twice")
	}

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	resp.Body.Close()

	if got := len(obs.all()); got != 1 {
		t.Fatalf("expected exactly 1 event, got %d", got)
	}
}

func TestInstallDeduplicatesObserverFuncs(t *testing.T) {
	calls := 0
	fn := ObserverFunc(func(Event) { calls++ })
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: 204, Body: http.NoBody, Header: http.Header{}, Request: r}, nil
	})}

	Install(client, WithObserver(fn))
	Install(client, WithObserver(fn))

	resp, err := client.Get("http://example.com")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	resp.Body.Close()

	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestRequestsBeforeInstallAreNotObserved(t *testing.T) {
	srv := newEchoServer(t, "ok")
	obs := &collector{}
	client := &http.Client{}

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	resp.Body.Close()

	Install(client, WithObserver(obs))

	if got := len(obs.all()); got != 0 {
		t.Fatalf("expected no events, got %d", got)
	}
}

func TestFailureIsReportedAndReturnedUnchanged(t *testing.T) {
	boom := errors.New("dial tcp: lookup nowhere.invalid: no such host")
	obs := &collector{}
	client := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, boom
	})}

	Install(client, WithObserver(obs))

	_, err := client.Get("https://nowhere.invalid/")
	if !errors.Is(err, boom) {
		t.Fatalf("expected the original error, got %v", err)
	}

	events := obs.all()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	failed, ok := events[0].(Failed)
	if !ok {
		t.Fatalf("expected Failed, got %T", events[0])
	}
	if failed.Err != boom {
		t.Errorf("event carries %v, want the original error", failed.Err)
	}
	if failed.Request == nil || failed.Request.URL.Host != "nowhere.invalid" {
		t.Errorf("unexpected request %+v", failed.Request)
	}
}

func TestTransportReturnsSameErrorValue(t *testing.T) {
	boom := errors.New("boom")
	tr := NewTransport(roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, boom
	}))

	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	_, err := tr.RoundTrip(req)
	if err != boom {
		t.Fatalf("RoundTrip must not wrap errors, got %v", err)
	}
}

func TestObserverPanicDoesNotReachCaller(t *testing.T) {
	srv := newEchoServer(t, "ok")
	obs := &collector{}
	client := &http.Client{}

	Install(client,
		WithObserver(ObserverFunc(func(Event) { panic("observer broke") })),
		WithObserver(obs),
	)

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	resp.Body.Close()

	if got := len(obs.all()); got != 1 {
		t.Fatalf("later observers must still run, got %d events", got)
	}
}

func TestRequestBodyCapture(t *testing.T) {
	srv := newEchoServer(t, "ok")
	obs := &collector{}
	client := &http.Client{}
	Install(client, WithObserver(obs))

	payload := `{"test": "request data"}`
	// io.NopCloser hides the length so the body is streamed and not replayable
	req, _ := http.NewRequest(http.MethodPost, srv.URL, io.NopCloser(strings.NewReader(payload)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() failed: %v", err)
	}
	resp.Body.Close()

	completed := obs.all()[0].(Completed)
	if !completed.RequestBody.Known || string(completed.RequestBody.Bytes) != payload {
		t.Errorf("unexpected request capture %+v", completed.RequestBody)
	}
}

func TestResponseCaptureRespectsLimit(t *testing.T) {
	large := strings.Repeat("x", 64)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		// flushing forces a chunked response without Content-Length
		_, _ = io.WriteString(w, large[:32])
		w.(http.Flusher).Flush()
		_, _ = io.WriteString(w, large[32:])
	}))
	t.Cleanup(srv.Close)

	obs := &collector{}
	client := &http.Client{}
	Install(client, WithObserver(obs), WithCaptureLimiter(CaptureLimitFunc(func() int64 { return 10 })))

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if string(body) != large {
		t.Fatalf("caller must receive the whole body, got %d bytes", len(body))
	}

	capture := obs.all()[0].(Completed).ResponseBody
	if !capture.Truncated || len(capture.Bytes) != 10 {
		t.Errorf("expected truncated 10 byte capture, got %+v", capture)
	}
}

func TestCaptureDisabled(t *testing.T) {
	srv := newEchoServer(t, "ok")
	obs := &collector{}
	client := &http.Client{}
	Install(client, WithObserver(obs), WithCaptureLimiter(CaptureLimitFunc(func() int64 { return 0 })))

	resp, err := client.Post(srv.URL, "text/plain", strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("Post() failed: %v", err)
	}
	resp.Body.Close()

	completed := obs.all()[0].(Completed)
	if completed.RequestBody.Known || completed.ResponseBody.Known {
		t.Errorf("nothing should be captured, got %+v / %+v", completed.RequestBody, completed.ResponseBody)
	}
}

func TestConcurrentCalls(t *testing.T) {
	srv := newEchoServer(t, "ok")
	obs := &collector{}
	client := &http.Client{}
	Install(client, WithObserver(obs))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := client.Get(srv.URL)
			if err != nil {
				t.Errorf("Get() failed: %v", err)
				return
			}
			resp.Body.Close()
		}()
	}
	wg.Wait()

	if got := len(obs.all()); got != 20 {
		t.Fatalf("expected 20 events, got %d", got)
	}
}

type jsonOnly struct{}

func (jsonOnly) CaptureLimit() int64 { return DefaultCaptureLimit }

func (jsonOnly) CaptureContentType(contentType string) bool {
	return contentType == "application/json"
}

func TestStreamingResponseReachesCallerUnbuffered(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = io.WriteString(w, "event-1\n")
		w.(http.Flusher).Flush()

		select {
		case <-release:
		case <-time.After(10 * time.Second):
		}
		_, _ = io.WriteString(w, "event-2\n")
	}))
	t.Cleanup(srv.Close)

	obs := &collector{}
	client := &http.Client{}
	Install(client, WithObserver(obs))

	type result struct {
		resp *http.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := client.Get(srv.URL)
		done <- result{resp, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		close(release)
		t.Fatal("Get() did not return while the stream was open")
	}
	if res.err != nil {
		close(release)
		t.Fatalf("Get() failed: %v", res.err)
	}
	defer res.resp.Body.Close()

	reader := bufio.NewReader(res.resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil || line != "event-1\n" {
		close(release)
		t.Fatalf("first chunk: expected %q, got %q (%v)", "event-1\n", line, err)
	}
	if got := len(obs.all()); got != 0 {
		t.Errorf("event emitted before the body was consumed: %d", got)
	}

	close(release)
	rest, _ := io.ReadAll(reader)
	if string(rest) != "event-2\n" {
		t.Errorf("rest of the stream: expected %q, got %q", "event-2\n", rest)
	}

	events := obs.all()
	if len(events) != 1 {
		t.Fatalf("expected 1 event after EOF, got %d", len(events))
	}
	capture := events[0].(Completed).ResponseBody
	if !capture.Known || string(capture.Bytes) != "event-1\nevent-2\n" {
		t.Errorf("unexpected response capture %+v", capture)
	}
}

func TestEventOnCloseWithoutReading(t *testing.T) {
	srv := newEchoServer(t, `{"a": 1}`)
	obs := &collector{}
	client := &http.Client{}
	Install(client, WithObserver(obs))

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	resp.Body.Close()
	resp.Body.Close()

	events := obs.all()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if capture := events[0].(Completed).ResponseBody; capture.Known {
		t.Errorf("unread body must not be known, got %+v", capture)
	}
}

func TestContentTypeFilterSkipsCapture(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "hello")
	}))
	t.Cleanup(srv.Close)

	obs := &collector{}
	client := &http.Client{}
	Install(client, WithObserver(obs), WithCaptureLimiter(jsonOnly{}))

	resp, err := client.Post(srv.URL, "text/plain", strings.NewReader("ping"))
	if err != nil {
		t.Fatalf("Post() failed: %v", err)
	}
	defer resp.Body.Close()

	// reported before the body is read since nothing is teed
	events := obs.all()
	if len(events) != 1 {
		t.Fatalf("expected 1 event before reading, got %d", len(events))
	}
	completed := events[0].(Completed)
	if completed.RequestBody.Known || completed.ResponseBody.Known {
		t.Errorf("filtered bodies must not be captured, got %+v / %+v", completed.RequestBody, completed.ResponseBody)
	}
	if body, _ := io.ReadAll(resp.Body); string(body) != "hello" {
		t.Errorf("caller lost the response body, got %q", body)
	}
}

func TestRequestCaptureFollowsGetBody(t *testing.T) {
	payload := `{"test": "request data"}`
	obs := &collector{}
	tr := NewTransport(roundTripFunc(func(r *http.Request) (*http.Response, error) {
		// a first attempt that dies after a few bytes, then a resend
		_, _ = io.ReadFull(r.Body, make([]byte, 3))
		body, err := r.GetBody()
		if err != nil {
			return nil, err
		}
		_, _ = io.Copy(io.Discard, body)
		return &http.Response{StatusCode: 200, Body: http.NoBody, Header: http.Header{}, Request: r}, nil
	}), WithObserver(obs))

	req, _ := http.NewRequest(http.MethodPost, "http://example.com", strings.NewReader(payload))
	if _, err := tr.RoundTrip(req); err != nil {
		t.Fatalf("RoundTrip() failed: %v", err)
	}

	capture := obs.all()[0].(Completed).RequestBody
	if !capture.Known || string(capture.Bytes) != payload {
		t.Errorf("expected the resent body, got %+v", capture)
	}
}
