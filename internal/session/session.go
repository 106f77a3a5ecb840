// Package session owns the emergency alert state machine: target
// selection, the five second countdown, and the single dispatch attempt a
// countdown resolves into. One session exists at a time; a new SOS attempt
// cannot begin until the previous one has reset to idle.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/big-matrix/sosagent/internal/notify"
)

// Status is the lifecycle phase of the alert session.
type Status string

const (
	StatusIdle             Status = "idle"
	StatusSelectingTargets Status = "selecting_targets"
	StatusCountdown        Status = "countdown"
	StatusDispatching      Status = "dispatching"
)

// Mode is the targeting strategy for an SOS dispatch.
type Mode string

const (
	// ModeSpecificUsers notifies an explicitly selected set of users.
	ModeSpecificUsers Mode = "specific_users"
	// ModeCommunity notifies the whole community.
	ModeCommunity Mode = "community"
	// ModeRadius notifies users within DefaultRadiusKM of the alert.
	ModeRadius Mode = "radius"
)

const (
	// CountdownSeconds is the grace period before an armed SOS dispatches.
	CountdownSeconds = 5

	// TickInterval is how often the countdown decrements.
	TickInterval = time.Second

	// DefaultRadiusKM is the notification radius for ModeRadius alerts.
	DefaultRadiusKM = 5
)

var (
	// ErrSessionActive is returned when opening a session while another
	// SOS attempt is still in progress.
	ErrSessionActive = errors.New("an SOS attempt is already in progress")

	// ErrNotSelecting is returned for selection operations outside the
	// selecting_targets phase.
	ErrNotSelecting = errors.New("no target selection in progress")

	// ErrNoTargets is returned when confirming specific-user targeting
	// with an empty selection.
	ErrNoTargets = errors.New("at least one user must be selected")

	// ErrNotCancellable is returned when cancelling after dispatch has
	// already begun.
	ErrNotCancellable = errors.New("session can no longer be cancelled")
)

// Snapshot is an immutable copy of the session state, handed to the
// dispatcher and served by the control API.
type Snapshot struct {
	Status             Status   `json:"status"`
	Mode               Mode     `json:"mode"`
	SelectedUsers      []string `json:"selected_users"`
	CountdownRemaining int      `json:"countdown_remaining"`

	// Generation identifies the countdown cycle this snapshot belongs
	// to. A tick or dispatch resolution whose generation no longer
	// matches the session's is stale and must be ignored.
	Generation uint64 `json:"-"`
}

// AlertDispatcher performs the single dispatch attempt for an expired
// countdown. Implementations surface their own user-facing notices; the
// session resets itself after Dispatch returns, whatever the outcome.
type AlertDispatcher interface {
	Dispatch(ctx context.Context, snap Snapshot)
}

// Session is the emergency alert state machine.
type Session struct {
	scheduler  TickScheduler
	dispatcher AlertDispatcher
	notifier   notify.Notifier
	logger     *zap.Logger

	mu         sync.Mutex
	status     Status
	mode       Mode
	selected   []string
	remaining  int
	generation uint64
	job        Job
	closed     bool
}

// New creates an idle session.
func New(scheduler TickScheduler, dispatcher AlertDispatcher, notifier notify.Notifier, logger *zap.Logger) *Session {
	return &Session{
		scheduler:  scheduler,
		dispatcher: dispatcher,
		notifier:   notifier,
		logger:     logger,
		status:     StatusIdle,
		mode:       ModeSpecificUsers,
		remaining:  CountdownSeconds,
	}
}

// Open begins a new SOS attempt, moving the session into target selection.
func (s *Session) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("session is closed")
	}
	if s.status != StatusIdle {
		return ErrSessionActive
	}

	s.status = StatusSelectingTargets
	s.logger.Debug("SOS session opened")
	return nil
}

// SetMode selects the targeting strategy. Switching away from specific
// users clears the selection, as the other modes do not use it.
func (s *Session) SetMode(mode Mode) error {
	switch mode {
	case ModeSpecificUsers, ModeCommunity, ModeRadius:
	default:
		return fmt.Errorf("unknown alert mode %q", mode)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusSelectingTargets {
		return ErrNotSelecting
	}

	s.mode = mode
	if mode != ModeSpecificUsers {
		s.selected = nil
	}
	return nil
}

// ToggleTarget adds the user id to the selection, or removes it if already
// selected.
func (s *Session) ToggleTarget(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusSelectingTargets {
		return ErrNotSelecting
	}

	for i, existing := range s.selected {
		if existing == id {
			s.selected = append(s.selected[:i], s.selected[i+1:]...)
			return nil
		}
	}

	s.selected = append(s.selected, id)
	return nil
}

// Confirm validates the selection and starts the countdown. With
// ModeSpecificUsers and an empty selection the session stays in target
// selection and a validation notice is surfaced.
func (s *Session) Confirm() error {
	s.mu.Lock()

	if s.status != StatusSelectingTargets {
		s.mu.Unlock()
		return ErrNotSelecting
	}

	if s.mode == ModeSpecificUsers && len(s.selected) == 0 {
		s.mu.Unlock()
		s.notifier.Notify(notify.LevelError, "Please select at least one user")
		return ErrNoTargets
	}

	s.generation++
	gen := s.generation
	s.remaining = CountdownSeconds
	s.status = StatusCountdown

	job, err := s.scheduler.Schedule(TickInterval, func() {
		s.tick(gen)
	})
	if err != nil {
		s.status = StatusSelectingTargets
		s.mu.Unlock()
		return fmt.Errorf("failed to start countdown: %w", err)
	}
	s.job = job
	s.mu.Unlock()

	s.notifier.Notify(notify.LevelInfo,
		fmt.Sprintf("SOS will be triggered in %d seconds. Cancel to abort.", CountdownSeconds))
	return nil
}

// Cancel aborts the current attempt. It is valid during target selection
// and the countdown; once dispatch has begun the attempt can no longer be
// stopped. The countdown handle is invalidated before this call returns,
// so a tick firing concurrently is a no-op.
func (s *Session) Cancel() error {
	s.mu.Lock()

	switch s.status {
	case StatusSelectingTargets, StatusCountdown:
	case StatusIdle:
		s.mu.Unlock()
		return nil
	default:
		s.mu.Unlock()
		return ErrNotCancellable
	}

	wasCounting := s.status == StatusCountdown
	job := s.job
	s.job = nil
	s.resetLocked()
	s.mu.Unlock()

	if job != nil {
		_ = job.Close()
	}
	if wasCounting {
		s.notifier.Notify(notify.LevelInfo, "Emergency alert cancelled")
	}

	s.logger.Debug("SOS session cancelled")
	return nil
}

// Snapshot returns a copy of the current session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Close tears the session down during agent shutdown, stopping any running
// countdown so no tick fires against destroyed state.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	job := s.job
	s.job = nil
	s.resetLocked()
	s.mu.Unlock()

	if job != nil {
		_ = job.Close()
	}
	return nil
}

// tick handles one countdown decrement. Stale ticks, recognised by a
// generation mismatch or a status other than countdown, are ignored.
func (s *Session) tick(gen uint64) {
	s.mu.Lock()

	if gen != s.generation || s.status != StatusCountdown {
		s.mu.Unlock()
		return
	}

	s.remaining--
	if s.remaining > 0 {
		s.logger.Debug("SOS countdown tick", zap.Int("remaining", s.remaining))
		s.mu.Unlock()
		return
	}

	// Countdown expired: transition to dispatching exactly once. The job
	// handle is detached under the lock, so a second expiry tick cannot
	// trigger a second dispatch.
	s.status = StatusDispatching
	s.remaining = 0
	job := s.job
	s.job = nil
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info("SOS countdown expired, dispatching",
		zap.String("mode", string(snap.Mode)),
		zap.Int("selectedUsers", len(snap.SelectedUsers)))

	go func() {
		if job != nil {
			_ = job.Close()
		}
		s.runDispatch(snap)
	}()
}

// runDispatch performs the dispatch attempt and then resets the session.
// The reset runs exactly once per countdown cycle, whatever the dispatch
// outcome, so the session cannot get stuck in dispatching.
func (s *Session) runDispatch(snap Snapshot) {
	defer s.finish(snap.Generation)
	s.dispatcher.Dispatch(context.Background(), snap)
}

// finish resets the session after a dispatch attempt resolves, unless a
// newer cycle has superseded it.
func (s *Session) finish(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		return
	}

	s.resetLocked()
}

// resetLocked restores the idle defaults. Callers hold s.mu.
func (s *Session) resetLocked() {
	s.status = StatusIdle
	s.mode = ModeSpecificUsers
	s.selected = nil
	s.remaining = CountdownSeconds
	s.generation++
}

// snapshotLocked copies the state. Callers hold s.mu.
func (s *Session) snapshotLocked() Snapshot {
	selected := make([]string, len(s.selected))
	copy(selected, s.selected)

	return Snapshot{
		Status:             s.status,
		Mode:               s.mode,
		SelectedUsers:      selected,
		CountdownRemaining: s.remaining,
		Generation:         s.generation,
	}
}
