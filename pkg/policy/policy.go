package policy

import (
	"context"
	"fmt"
	"time"
)

// Policy is the runtime persistence configuration. There is one per process.
type Policy struct {
	SaveToDB         Toggle `json:"save_to_db"`
	SaveBody         Toggle `json:"save_body"`
	MaxContentLength int64  `json:"max_content_length"`

	// ResetAfter is the delay in minutes before an explicit SaveToDB reverts
	// to UseDefault. Nil falls back to Defaults.ResetDBSaveAfter.
	ResetAfter *int `json:"reset_after,omitempty"`
}

// ValidationError is a policy field holding a value outside its range.
type ValidationError struct {
	Field string
	Value int64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s must be >= 0, got %d", e.Field, e.Value)
}

// Validate checks the invariants of p. Failures are *ValidationError.
func (p Policy) Validate() error {
	if p.MaxContentLength < 0 {
		return &ValidationError{Field: "max_content_length", Value: p.MaxContentLength}
	}
	if p.ResetAfter != nil && *p.ResetAfter < 0 {
		return &ValidationError{Field: "reset_after", Value: int64(*p.ResetAfter)}
	}
	return nil
}

// Defaults are the process wide settings a UseDefault toggle falls back to.
type Defaults struct {
	DBSave           bool
	DBSaveBody       bool
	MaxContentLength int64
	ResetDBSaveAfter *int
}

// Store persists the policy row.
type Store interface {
	// LoadPolicy returns the stored policy; found is false when none was saved yet.
	LoadPolicy(ctx context.Context) (p Policy, found bool, err error)
	SavePolicy(ctx context.Context, p Policy) error
}

// Scheduler runs fn once after d.
type Scheduler interface {
	ScheduleAfter(d time.Duration, name string, fn func()) error
}
