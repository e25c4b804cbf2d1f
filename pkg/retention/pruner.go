package retention

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/snapp-incubator/outlog/internal/logging"
	"github.com/snapp-incubator/outlog/internal/metrics"
)

// Deleter removes records older than a cutoff.
type Deleter interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Pruner deletes records past their maximum age.
type Pruner struct {
	store Deleter
	now   func() time.Time
}

// NewPruner returns a Pruner over store.
func NewPruner(store Deleter) *Pruner {
	return &Pruner{store: store, now: time.Now}
}

// Prune deletes records with a timestamp older than maxAgeDays days and
// returns how many were removed. A nil maxAgeDays keeps everything.
func (p *Pruner) Prune(ctx context.Context, maxAgeDays *int) (int64, error) {
	if maxAgeDays == nil {
		return 0, nil
	}

	cutoff := p.now().Add(-time.Duration(*maxAgeDays) * 24 * time.Hour)

	deleted, err := p.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune outgoing request logs: %w", err)
	}

	metrics.PrunedCounter.Add(float64(deleted))
	return deleted, nil
}

// Summary is the report line of a prune run.
func Summary(deleted int64) string {
	return fmt.Sprintf("Deleted %d outgoing request log(s)", deleted)
}

// PruneJob returns the scheduled prune job. maxAge is read on each run so a
// config reload takes effect without rescheduling.
func PruneJob(p *Pruner, maxAge func() *int) func() {
	return func() {
		deleted, err := p.Prune(context.Background(), maxAge())
		if err != nil {
			logging.L.Error("Scheduled pruning failed", zap.Error(err))
			return
		}
		logging.L.Info(Summary(deleted), zap.Int64("deleted", deleted))
	}
}
