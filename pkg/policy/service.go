package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/snapp-incubator/outlog/internal/logging"
	"github.com/snapp-incubator/outlog/internal/metrics"
)

const resetJobName = "reset_db_save"

// Service owns the policy row and answers the persistence questions asked on
// every outgoing call.
type Service struct {
	store     Store
	scheduler Scheduler

	mu       sync.RWMutex
	policy   Policy
	defaults Defaults
}

// NewService loads the policy row from store, creating it from defaults when
// it does not exist. A nil scheduler disables the automatic reset.
func NewService(ctx context.Context, store Store, defaults Defaults, scheduler Scheduler) (*Service, error) {
	s := &Service{
		store:     store,
		scheduler: scheduler,
		defaults:  defaults,
	}

	if err := s.Reload(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

// Reload re-reads the row from the store.
func (s *Service) Reload(ctx context.Context) error {
	p, found, err := s.store.LoadPolicy(ctx)
	if err != nil {
		return fmt.Errorf("failed to load persistence policy: %w", err)
	}

	if !found {
		s.mu.RLock()
		p = Policy{MaxContentLength: s.defaults.MaxContentLength}
		s.mu.RUnlock()

		if err := s.store.SavePolicy(ctx, p); err != nil {
			return fmt.Errorf("failed to create persistence policy: %w", err)
		}
	}

	s.mu.Lock()
	s.policy = p
	s.mu.Unlock()

	return nil
}

// Current returns a copy of the policy row.
func (s *Service) Current() Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := s.policy
	if p.ResetAfter != nil {
		v := *p.ResetAfter
		p.ResetAfter = &v
	}
	return p
}

// Defaults returns the global defaults in use.
func (s *Service) Defaults() Defaults {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaults
}

// SetDefaults swaps the global defaults, e.g. after the config file changed.
func (s *Service) SetDefaults(d Defaults) {
	s.mu.Lock()
	s.defaults = d
	s.mu.Unlock()
}

// SaveEnabled reports whether calls are persisted at all.
func (s *Service) SaveEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy.SaveToDB.Resolve(s.defaults.DBSave)
}

// SaveBodyEnabled reports whether bodies are persisted.
func (s *Service) SaveBodyEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy.SaveBody.Resolve(s.defaults.DBSaveBody)
}

// MaxContentLength is the body size ceiling in bytes.
func (s *Service) MaxContentLength() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy.MaxContentLength
}

// CaptureLimit is the number of body bytes the transport should capture.
// Nothing is captured while bodies would not be persisted anyway.
func (s *Service) CaptureLimit() int64 {
	if !s.SaveEnabled() || !s.SaveBodyEnabled() {
		return 0
	}
	return s.MaxContentLength()
}

// Update applies fn to a copy of the row and persists it. When SaveToDB ends
// up explicit, a reset back to UseDefault is scheduled.
func (s *Service) Update(ctx context.Context, fn func(*Policy)) (Policy, error) {
	s.mu.Lock()
	next := s.policy
	if next.ResetAfter != nil {
		v := *next.ResetAfter
		next.ResetAfter = &v
	}
	fn(&next)

	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return Policy{}, err
	}

	if err := s.store.SavePolicy(ctx, next); err != nil {
		s.mu.Unlock()
		return Policy{}, fmt.Errorf("failed to save persistence policy: %w", err)
	}

	s.policy = next
	delay := s.resetDelayLocked()
	s.mu.Unlock()

	if next.SaveToDB.Explicit() {
		s.scheduleReset(delay)
	}

	return next, nil
}

// Reset reverts SaveToDB to UseDefault. It is the body of the reset job.
func (s *Service) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.policy.SaveToDB == UseDefault {
		return nil
	}

	next := s.policy
	next.SaveToDB = UseDefault
	if err := s.store.SavePolicy(ctx, next); err != nil {
		return fmt.Errorf("failed to reset persistence policy: %w", err)
	}

	s.policy = next
	metrics.PolicyResets.Inc()
	logging.L.Info("Reverted save_to_db to use_default")

	return nil
}

func (s *Service) resetDelayLocked() time.Duration {
	minutes := s.policy.ResetAfter
	if minutes == nil {
		minutes = s.defaults.ResetDBSaveAfter
	}
	if minutes == nil || *minutes <= 0 {
		return 0
	}
	return time.Duration(*minutes) * time.Minute
}

func (s *Service) scheduleReset(delay time.Duration) {
	if s.scheduler == nil || delay <= 0 {
		return
	}

	err := s.scheduler.ScheduleAfter(delay, resetJobName, func() {
		if err := s.Reset(context.Background()); err != nil {
			logging.L.Error("Reset job failed", zap.Error(err))
		}
	})
	if err != nil {
		logging.L.Error("Failed to schedule save_to_db reset", zap.Duration("delay", delay), zap.Error(err))
	}
}
