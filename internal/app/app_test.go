package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/snapp-incubator/outlog/internal/config"
	"github.com/snapp-incubator/outlog/pkg/hook"
	"github.com/snapp-incubator/outlog/pkg/policy"
	"github.com/snapp-incubator/outlog/pkg/storage"
)

func newApp(t *testing.T, mutate func(*config.Config)) *App {
	t.Helper()

	c := config.Default()
	c.Storage.SQLite.Path = filepath.Join(t.TempDir(), "outlog.db")
	if mutate != nil {
		mutate(c)
	}

	store, err := OpenStorage(c.Storage)
	if err != nil {
		t.Fatalf("OpenStorage() failed: %v", err)
	}

	a, err := New(context.Background(), c, store)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return a
}

func TestInstrumentedCallIsStored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"test": "response data"}`)
	}))
	t.Cleanup(srv.Close)

	a := newApp(t, func(c *config.Config) {
		c.DBSave = true
		c.DBSaveBody = true
	})

	client := &http.Client{}
	a.Instrument(client)
	a.Instrument(client)

	resp, err := client.Get(srv.URL + "/some-path?version=2.0")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	// drain the queue before reading back
	store := a.Store.(*storage.SQLiteStorage)
	if err := a.Recorder.Close(context.Background()); err != nil {
		t.Fatalf("Recorder.Close() failed: %v", err)
	}

	records, err := store.List(context.Background(), storage.Query{})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if string(records[0].ResBody) != `{"test": "response data"}` {
		t.Errorf("unexpected response body %q", records[0].ResBody)
	}

	_ = a.Close(context.Background())
}

func TestCaptureLimit(t *testing.T) {
	a := newApp(t, nil)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	if got := a.CaptureLimit(); got != 0 {
		t.Errorf("nothing saved or emitted: expected 0, got %d", got)
	}

	a.Console.SetEmitBody(true)
	if got := a.CaptureLimit(); got != hook.DefaultCaptureLimit {
		t.Errorf("emit body: expected %d, got %d", hook.DefaultCaptureLimit, got)
	}
}

func TestCaptureContentType(t *testing.T) {
	a := newApp(t, nil)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	if !a.CaptureContentType("application/json") || a.CaptureContentType("application/octet-stream") {
		t.Error("only allow-listed content types should be captured")
	}

	a.Console.SetEmitBody(true)
	if !a.CaptureContentType("application/octet-stream") {
		t.Error("emitting bodies needs every content type")
	}
}

func TestApply(t *testing.T) {
	a := newApp(t, nil)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	if a.Policy.SaveEnabled() {
		t.Fatal("saving must be off by default")
	}

	reloaded := config.Default()
	reloaded.DBSave = true
	reloaded.EmitBody = true
	maxAge := 3
	reloaded.MaxAge = &maxAge
	reloaded.LogLevel = "warn"
	a.Apply(reloaded)

	if !a.Policy.SaveEnabled() || !a.Console.EmitBody() {
		t.Error("reloaded defaults not applied")
	}
	if got := a.MaxAge(); got == nil || *got != 3 {
		t.Errorf("MaxAge: expected 3, got %v", got)
	}
}

func TestStdoutStorageKeepsPolicyInMemory(t *testing.T) {
	a := newApp(t, func(c *config.Config) { c.Storage.Type = "stdout" })
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	if _, err := a.Policy.Update(context.Background(), func(p *policy.Policy) { p.SaveToDB = policy.Yes }); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if !a.Policy.SaveEnabled() {
		t.Error("update must be kept in memory")
	}
}

func TestStart(t *testing.T) {
	a := newApp(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if a.Runner.Pending() != 1 {
		t.Errorf("expected the prune job to be scheduled, got %d entries", a.Runner.Pending())
	}

	_ = a.Close(context.Background())
}

func TestOpenStorageUnknown(t *testing.T) {
	if _, err := OpenStorage(config.Storage{Type: "redis"}); err == nil {
		t.Error("expected an error")
	}
}
