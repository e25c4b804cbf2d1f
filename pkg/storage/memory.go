package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/snapp-incubator/outlog/pkg/policy"
)

// MemoryStorage keeps records and the policy row in process memory.
type MemoryStorage struct {
	mu      sync.RWMutex
	records []*LogRecord
	policy  *policy.Policy
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (m *MemoryStorage) Name() string { return "memory" }

func (m *MemoryStorage) Store(_ context.Context, r *LogRecord) error {
	c := *r
	m.mu.Lock()
	m.records = append(m.records, &c)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) List(_ context.Context, q Query) ([]*LogRecord, error) {
	m.mu.RLock()
	var matched []*LogRecord
	for _, r := range m.records {
		if q.match(r) {
			c := *r
			matched = append(matched, &c)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	if q.Offset >= len(matched) {
		return []*LogRecord{}, nil
	}
	matched = matched[q.Offset:]
	if limit := q.limit(); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *MemoryStorage) Get(_ context.Context, id string) (*LogRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.records {
		if r.ID == id {
			c := *r
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStorage) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.records[:0]
	var deleted int64
	for _, r := range m.records {
		if r.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return deleted, nil
}

// Len returns the number of stored records.
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *MemoryStorage) LoadPolicy(context.Context) (policy.Policy, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.policy == nil {
		return policy.Policy{}, false, nil
	}
	return *m.policy, true, nil
}

func (m *MemoryStorage) SavePolicy(_ context.Context, p policy.Policy) error {
	m.mu.Lock()
	m.policy = &p
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) Close() error { return nil }
