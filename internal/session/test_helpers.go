package session

import (
	"context"
	"sync"
	"time"

	"github.com/big-matrix/sosagent/internal/notify"
)

// ManualScheduler is a test scheduler whose ticks are driven by hand.
type ManualScheduler struct {
	mu       sync.Mutex
	err      error
	interval time.Duration
	callback func()
	jobs     []*ManualJob
}

// NewManualScheduler creates a manual scheduler.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// FailWith makes subsequent Schedule calls return err.
func (s *ManualScheduler) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Schedule records the callback for manual ticking.
func (s *ManualScheduler) Schedule(interval time.Duration, callback func()) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}

	s.interval = interval
	s.callback = callback

	job := &ManualJob{}
	s.jobs = append(s.jobs, job)
	return job, nil
}

// Tick invokes the most recently scheduled callback once.
func (s *ManualScheduler) Tick() {
	s.mu.Lock()
	callback := s.callback
	s.mu.Unlock()

	if callback != nil {
		callback()
	}
}

// Interval returns the interval of the most recent Schedule call.
func (s *ManualScheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Jobs returns every job handed out so far.
func (s *ManualScheduler) Jobs() []*ManualJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*ManualJob, len(s.jobs))
	copy(out, s.jobs)
	return out
}

// ManualJob counts Close calls.
type ManualJob struct {
	mu     sync.Mutex
	closes int
}

// Close records the call.
func (j *ManualJob) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closes++
	return nil
}

// Closes returns how many times Close was called.
func (j *ManualJob) Closes() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.closes
}

// MockDispatcher records the snapshots it was asked to dispatch.
type MockDispatcher struct {
	DispatchFn func(ctx context.Context, snap Snapshot)

	mu        sync.Mutex
	snapshots []Snapshot
}

// Dispatch records the snapshot and calls the mock function when set.
func (m *MockDispatcher) Dispatch(ctx context.Context, snap Snapshot) {
	m.mu.Lock()
	m.snapshots = append(m.snapshots, snap)
	m.mu.Unlock()

	if m.DispatchFn != nil {
		m.DispatchFn(ctx, snap)
	}
}

// Dispatches returns the recorded snapshots.
func (m *MockDispatcher) Dispatches() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Snapshot, len(m.snapshots))
	copy(out, m.snapshots)
	return out
}

// MockNotifier records published notices.
type MockNotifier struct {
	mu      sync.Mutex
	notices []RecordedNotice
}

// RecordedNotice is one captured Notify call.
type RecordedNotice struct {
	Level   notify.Level
	Message string
}

// Notify records the notice.
func (m *MockNotifier) Notify(level notify.Level, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notices = append(m.notices, RecordedNotice{Level: level, Message: message})
}

// Notices returns the recorded notices.
func (m *MockNotifier) Notices() []RecordedNotice {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]RecordedNotice, len(m.notices))
	copy(out, m.notices)
	return out
}

// Messages returns just the recorded message strings.
func (m *MockNotifier) Messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.notices))
	for _, n := range m.notices {
		out = append(out, n.Message)
	}
	return out
}
