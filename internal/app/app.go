package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/snapp-incubator/outlog/internal/config"
	"github.com/snapp-incubator/outlog/internal/jobs"
	"github.com/snapp-incubator/outlog/internal/logging"
	"github.com/snapp-incubator/outlog/pkg/format"
	"github.com/snapp-incubator/outlog/pkg/hook"
	"github.com/snapp-incubator/outlog/pkg/policy"
	"github.com/snapp-incubator/outlog/pkg/recorder"
	"github.com/snapp-incubator/outlog/pkg/retention"
	"github.com/snapp-incubator/outlog/pkg/storage"
)

// App wires storage, policy, recorder and jobs together.
type App struct {
	Store    storage.Storage
	Policy   *policy.Service
	Recorder *recorder.Recorder
	Console  *format.Console
	Pruner   *retention.Pruner
	Runner   *jobs.Runner

	config atomic.Pointer[config.Config]
}

// OpenStorage opens the backend selected by c.
func OpenStorage(c config.Storage) (storage.Storage, error) {
	switch c.Type {
	case "sqlite":
		return storage.NewSQLiteStorage(storage.SQLiteConfig{Path: c.SQLite.Path})
	case "postgres":
		return storage.NewPostgresStorage(c.Postgres.DSN)
	case "elasticsearch":
		return storage.NewElasticStorage(storage.ElasticConfig{
			Addresses:              c.Elasticsearch.Addresses,
			Username:               c.Elasticsearch.Username,
			Password:               c.Elasticsearch.Password,
			CloudID:                c.Elasticsearch.CloudID,
			APIKey:                 c.Elasticsearch.APIKey,
			ServiceToken:           c.Elasticsearch.ServiceToken,
			CertificateFingerprint: c.Elasticsearch.CertificateFingerprint,
			Index:                  c.Elasticsearch.Index,
		})
	case "stdout":
		return storage.NewStdoutStorage(nil), nil
	default:
		return nil, fmt.Errorf("unknown storage type '%s'", c.Type)
	}
}

// New builds an App from c using store. Backends that cannot keep the policy
// row get an in-memory one.
func New(ctx context.Context, c *config.Config, store storage.Storage) (*App, error) {
	policyStore, ok := store.(storage.PolicyStore)
	if !ok {
		logging.L.Warn("Storage cannot persist the policy, keeping it in memory", zap.String("storage", store.Name()))
		policyStore = storage.NewMemoryStorage()
	}

	runner := jobs.NewRunner()

	svc, err := policy.NewService(ctx, policyStore, c.PolicyDefaults(), runner)
	if err != nil {
		return nil, err
	}

	a := &App{
		Store:    store,
		Policy:   svc,
		Recorder: recorder.New(store, svc, c.RecorderConfig()),
		Console:  format.NewConsole(c.EmitBody),
		Pruner:   retention.NewPruner(store),
		Runner:   runner,
	}
	a.config.Store(c)

	return a, nil
}

// Config returns the configuration in effect.
func (a *App) Config() *config.Config {
	return a.config.Load()
}

// MaxAge returns the configured retention in days.
func (a *App) MaxAge() *int {
	return a.config.Load().MaxAge
}

// CaptureLimit is the body capture budget of instrumented clients. The
// console needs bodies while it emits them even if nothing is saved.
func (a *App) CaptureLimit() int64 {
	limit := a.Policy.CaptureLimit()
	if a.Console.EmitBody() {
		if m := a.Policy.MaxContentLength(); m > limit {
			limit = m
		}
	}
	return limit
}

// CaptureContentType skips bodies that are neither saved nor emitted.
func (a *App) CaptureContentType(contentType string) bool {
	return a.Console.EmitBody() || a.Recorder.CapturesContentType(contentType)
}

// Instrument installs the outlog transport on client.
func (a *App) Instrument(client *http.Client) *hook.Transport {
	return hook.Install(client,
		hook.WithObserver(a.Console),
		hook.WithObserver(a.Recorder),
		hook.WithCaptureLimiter(a),
	)
}

// Start schedules the prune job and starts the job runner.
func (a *App) Start(ctx context.Context) error {
	if err := a.Runner.Every(a.Config().PruneSchedule, "prune", retention.PruneJob(a.Pruner, a.MaxAge)); err != nil {
		return err
	}

	a.Runner.Start(ctx)
	return nil
}

// Apply switches to a reloaded configuration. Storage and worker settings
// need a restart.
func (a *App) Apply(c *config.Config) {
	a.config.Store(c)
	a.Policy.SetDefaults(c.PolicyDefaults())
	a.Recorder.Reconfigure(c.RecorderConfig())
	a.Console.SetEmitBody(c.EmitBody)

	if err := logging.SetLevel(c.LogLevel); err != nil {
		logging.L.Warn("Keeping the current log level", zap.Error(err))
	}
}

// Close stops the jobs, drains the recorder and closes storage.
func (a *App) Close(ctx context.Context) error {
	a.Runner.Stop()

	return errors.Join(
		a.Recorder.Close(ctx),
		a.Store.Close(),
	)
}
