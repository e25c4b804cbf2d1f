package policy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeStore struct {
	mu    sync.Mutex
	p     Policy
	found bool
	saves int
	err   error
}

func (f *fakeStore) LoadPolicy(context.Context) (Policy, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.p, f.found, f.err
}

func (f *fakeStore) SavePolicy(_ context.Context, p Policy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.p, f.found = p, true
	f.saves++
	return nil
}

type scheduled struct {
	delay time.Duration
	name  string
	fn    func()
}

type fakeScheduler struct {
	jobs []scheduled
	err  error
}

func (f *fakeScheduler) ScheduleAfter(d time.Duration, name string, fn func()) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, scheduled{d, name, fn})
	return nil
}

func intPtr(v int) *int { return &v }

func TestToggleResolve(t *testing.T) {
	tests := []struct {
		toggle   Toggle
		def      bool
		expected bool
	}{
		{UseDefault, true, true},
		{UseDefault, false, false},
		{Yes, false, true},
		{No, true, false},
	}

	for _, tt := range tests {
		if got := tt.toggle.Resolve(tt.def); got != tt.expected {
			t.Errorf("%s.Resolve(%v): expected %v, got %v", tt.toggle, tt.def, tt.expected, got)
		}
	}
}

func TestParseToggle(t *testing.T) {
	tests := []struct {
		input    string
		expected Toggle
		wantErr  bool
	}{
		{"use_default", UseDefault, false},
		{"", UseDefault, false},
		{"yes", Yes, false},
		{"enable", Yes, false},
		{"NO", No, false},
		{"disable", No, false},
		{"maybe", UseDefault, true},
	}

	for _, tt := range tests {
		got, err := ParseToggle(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseToggle(%q): unexpected error %v", tt.input, err)
			continue
		}
		if got != tt.expected {
			t.Errorf("ParseToggle(%q): expected %v, got %v", tt.input, tt.expected, got)
		}
	}
}

func TestNewServiceCreatesRow(t *testing.T) {
	store := &fakeStore{}

	s, err := NewService(context.Background(), store, Defaults{MaxContentLength: 524288}, nil)
	if err != nil {
		t.Fatalf("NewService() failed: %v", err)
	}

	if !store.found || store.saves != 1 {
		t.Fatalf("expected the row to be created once, saves=%d", store.saves)
	}
	if got := s.Current(); got.SaveToDB != UseDefault || got.MaxContentLength != 524288 {
		t.Errorf("unexpected initial policy %+v", got)
	}
}

func TestNewServiceLoadsExistingRow(t *testing.T) {
	store := &fakeStore{p: Policy{SaveToDB: Yes, MaxContentLength: 10}, found: true}

	s, err := NewService(context.Background(), store, Defaults{}, nil)
	if err != nil {
		t.Fatalf("NewService() failed: %v", err)
	}

	if store.saves != 0 {
		t.Errorf("existing row must not be rewritten")
	}
	if !s.SaveEnabled() {
		t.Error("SaveEnabled: expected true from the stored row")
	}
}

func TestNewServiceStoreError(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}

	if _, err := NewService(context.Background(), store, Defaults{}, nil); err == nil {
		t.Fatal("expected an error")
	}
}

func TestSaveEnabledUsesDefaults(t *testing.T) {
	s, _ := NewService(context.Background(), &fakeStore{}, Defaults{DBSave: true}, nil)

	if !s.SaveEnabled() || s.SaveBodyEnabled() {
		t.Fatalf("expected save on and body off, got %v/%v", s.SaveEnabled(), s.SaveBodyEnabled())
	}

	s.SetDefaults(Defaults{DBSave: false, DBSaveBody: true})
	if s.SaveEnabled() || !s.SaveBodyEnabled() {
		t.Fatalf("defaults swap not applied")
	}
}

func TestCaptureLimit(t *testing.T) {
	s, _ := NewService(context.Background(), &fakeStore{}, Defaults{DBSave: true, MaxContentLength: 100}, nil)

	if got := s.CaptureLimit(); got != 0 {
		t.Errorf("body saving off: expected 0, got %d", got)
	}

	_, _ = s.Update(context.Background(), func(p *Policy) { p.SaveBody = Yes })
	if got := s.CaptureLimit(); got != 100 {
		t.Errorf("expected 100, got %d", got)
	}
}

func TestUpdateSchedulesReset(t *testing.T) {
	ctx := context.Background()
	sched := &fakeScheduler{}
	store := &fakeStore{}
	s, _ := NewService(ctx, store, Defaults{ResetDBSaveAfter: intPtr(5)}, sched)

	if _, err := s.Update(ctx, func(p *Policy) { p.SaveToDB = Yes }); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	if len(sched.jobs) != 1 {
		t.Fatalf("expected exactly one reset job, got %d", len(sched.jobs))
	}
	if sched.jobs[0].delay != 5*time.Minute {
		t.Errorf("expected 5m delay, got %s", sched.jobs[0].delay)
	}

	sched.jobs[0].fn()

	if got := s.Current().SaveToDB; got != UseDefault {
		t.Errorf("reset job: expected use_default, got %s", got)
	}
	if store.p.SaveToDB != UseDefault {
		t.Errorf("reset not persisted")
	}
}

func TestUpdateRowResetAfterWins(t *testing.T) {
	sched := &fakeScheduler{}
	s, _ := NewService(context.Background(), &fakeStore{}, Defaults{ResetDBSaveAfter: intPtr(5)}, sched)

	_, _ = s.Update(context.Background(), func(p *Policy) {
		p.SaveToDB = No
		p.ResetAfter = intPtr(1)
	})

	if len(sched.jobs) != 1 || sched.jobs[0].delay != time.Minute {
		t.Fatalf("expected one 1m job, got %+v", sched.jobs)
	}
}

func TestUpdateWithoutResetDelay(t *testing.T) {
	tests := []struct {
		name     string
		defaults Defaults
		update   func(*Policy)
	}{
		{"no delay configured", Defaults{}, func(p *Policy) { p.SaveToDB = Yes }},
		{"zero delay", Defaults{ResetDBSaveAfter: intPtr(0)}, func(p *Policy) { p.SaveToDB = Yes }},
		{"use_default", Defaults{ResetDBSaveAfter: intPtr(5)}, func(p *Policy) { p.SaveBody = Yes }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched := &fakeScheduler{}
			s, _ := NewService(context.Background(), &fakeStore{}, tt.defaults, sched)

			_, _ = s.Update(context.Background(), tt.update)

			if len(sched.jobs) != 0 {
				t.Errorf("expected no reset job, got %d", len(sched.jobs))
			}
		})
	}
}

func TestSchedulerErrorIsNotReturned(t *testing.T) {
	sched := &fakeScheduler{err: errors.New("broker down")}
	s, _ := NewService(context.Background(), &fakeStore{}, Defaults{ResetDBSaveAfter: intPtr(1)}, sched)

	if _, err := s.Update(context.Background(), func(p *Policy) { p.SaveToDB = Yes }); err != nil {
		t.Fatalf("scheduler errors must be swallowed, got %v", err)
	}
	if !s.SaveEnabled() {
		t.Error("update must still be applied")
	}
}

func TestUpdateRejectsInvalidPolicy(t *testing.T) {
	s, _ := NewService(context.Background(), &fakeStore{}, Defaults{MaxContentLength: 10}, nil)

	_, err := s.Update(context.Background(), func(p *Policy) { p.MaxContentLength = -1 })
	var invalid *ValidationError
	if !errors.As(err, &invalid) || invalid.Field != "max_content_length" {
		t.Fatalf("expected a validation error for max_content_length, got %v", err)
	}
	if got := s.MaxContentLength(); got != 10 {
		t.Errorf("invalid update leaked, got %d", got)
	}
}

func TestUpdateStoreErrorIsNotValidation(t *testing.T) {
	store := &fakeStore{}
	s, _ := NewService(context.Background(), store, Defaults{}, nil)

	store.mu.Lock()
	store.err = errors.New("db down")
	store.mu.Unlock()

	_, err := s.Update(context.Background(), func(p *Policy) { p.SaveToDB = Yes })
	var invalid *ValidationError
	if err == nil || errors.As(err, &invalid) {
		t.Fatalf("expected a plain storage error, got %v", err)
	}
}

func TestResetIsNoopForDefault(t *testing.T) {
	store := &fakeStore{}
	s, _ := NewService(context.Background(), store, Defaults{}, nil)
	saves := store.saves

	if err := s.Reset(context.Background()); err != nil {
		t.Fatalf("Reset() failed: %v", err)
	}
	if store.saves != saves {
		t.Error("reset of a default toggle must not write")
	}
}
