package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sync"
	"time"
)

var errUnsupported = errors.New("operation not supported by this backend")

// StdoutStorage writes one JSON document per record. It cannot read back.
type StdoutStorage struct {
	W io.Writer

	mu sync.Mutex
}

// NewStdoutStorage writes to w, os.Stdout when nil.
func NewStdoutStorage(w io.Writer) *StdoutStorage {
	if w == nil {
		w = os.Stdout
	}
	return &StdoutStorage{W: w}
}

func (s *StdoutStorage) Name() string { return "stdout" }

func (s *StdoutStorage) Store(_ context.Context, r *LogRecord) error {
	b, err := json.Marshal(r)
	if err != nil {
		return newError(s.Name(), "marshal", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.W.Write(append(b, '\n')); err != nil {
		return newError(s.Name(), "write", err)
	}
	return nil
}

func (s *StdoutStorage) List(context.Context, Query) ([]*LogRecord, error) {
	return nil, newError(s.Name(), "list", errUnsupported)
}

func (s *StdoutStorage) Get(context.Context, string) (*LogRecord, error) {
	return nil, newError(s.Name(), "get", errUnsupported)
}

// DeleteBefore deletes nothing; written lines are out of reach.
func (s *StdoutStorage) DeleteBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (s *StdoutStorage) Close() error { return nil }
