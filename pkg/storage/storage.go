package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/snapp-incubator/outlog/pkg/policy"
)

// ErrNotFound is returned by Get when no record has the requested ID.
var ErrNotFound = errors.New("outgoing request log not found")

// Storage persists outgoing request logs.
type Storage interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	Store(ctx context.Context, r *LogRecord) error
	List(ctx context.Context, q Query) ([]*LogRecord, error)
	Get(ctx context.Context, id string) (*LogRecord, error)

	// DeleteBefore removes records whose timestamp is before cutoff and
	// returns how many were removed.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}

// PolicyStore is a backend that also keeps the persistence policy row.
type PolicyStore = policy.Store

// Query filters List results. Zero values do not filter. Results are ordered
// newest first.
type Query struct {
	Hostname string
	Method   string
	Since    time.Time
	Until    time.Time
	Limit    int
	Offset   int
}

// DefaultListLimit caps List when Query.Limit is not set.
const DefaultListLimit = 100

func (q Query) limit() int {
	if q.Limit <= 0 {
		return DefaultListLimit
	}
	return q.Limit
}

func (q Query) match(r *LogRecord) bool {
	if q.Hostname != "" && r.Hostname != q.Hostname {
		return false
	}
	if q.Method != "" && r.Method != q.Method {
		return false
	}
	if !q.Since.IsZero() && r.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && !r.Timestamp.Before(q.Until) {
		return false
	}
	return true
}

// Error is a failure reported by a storage backend.
type Error struct {
	Backend string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s storage: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(backend, op string, err error) error {
	return &Error{Backend: backend, Op: op, Err: err}
}
