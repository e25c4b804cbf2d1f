package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/snapp-incubator/outlog/internal/logging"
)

// Runner runs delayed one-shot jobs and recurring jobs on a cron scheduler.
type Runner struct {
	cron *cron.Cron

	mu      sync.Mutex
	running bool
}

// NewRunner returns a stopped Runner. Panicking jobs are recovered and logged.
func NewRunner() *Runner {
	l := cronLogger{}
	return &Runner{
		cron: cron.New(
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l)),
		),
	}
}

// Start begins running jobs. The runner stops when ctx is done.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return
	}
	r.cron.Start()
	r.running = true

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
}

// Stop stops the scheduler and waits for running jobs to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}
	<-r.cron.Stop().Done()
	r.running = false
	logging.L.Info("Job runner stopped")
}

// ScheduleAfter runs fn once after d.
func (r *Runner) ScheduleAfter(d time.Duration, name string, fn func()) error {
	if d <= 0 {
		return fmt.Errorf("job %s: delay must be positive, got %s", name, d)
	}

	var (
		mu sync.Mutex
		id cron.EntryID
	)

	mu.Lock()
	defer mu.Unlock()

	id = r.cron.Schedule(&onceSchedule{at: time.Now().Add(d)}, cron.FuncJob(func() {
		mu.Lock()
		entry := id
		mu.Unlock()

		defer r.cron.Remove(entry)

		logging.L.Debug("Running job", zap.String("job", name))
		fn()
	}))

	logging.L.Debug("Scheduled job", zap.String("job", name), zap.Duration("delay", d))

	return nil
}

// Every runs fn on spec, a standard cron expression or a descriptor such as
// "@daily" or "@every 1h".
func (r *Runner) Every(spec, name string, fn func()) error {
	_, err := r.cron.AddFunc(spec, func() {
		logging.L.Debug("Running job", zap.String("job", name))
		fn()
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", spec, name, err)
	}

	logging.L.Info("Scheduled recurring job", zap.String("job", name), zap.String("schedule", spec))

	return nil
}

// Pending returns the number of scheduled entries.
func (r *Runner) Pending() int {
	return len(r.cron.Entries())
}

// onceSchedule fires a single time at "at".
type onceSchedule struct {
	at time.Time
}

func (s *onceSchedule) Next(t time.Time) time.Time {
	if t.Before(s.at) {
		return s.at
	}
	return time.Time{}
}

// cronLogger routes cron's logs through zap.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logging.L.Sugar().Debugw(msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logging.L.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
