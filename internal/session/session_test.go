package session

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSession(t *testing.T) (*Session, *ManualScheduler, *MockDispatcher, *MockNotifier) {
	t.Helper()

	scheduler := NewManualScheduler()
	dispatcher := &MockDispatcher{}
	notifier := &MockNotifier{}
	sess := New(scheduler, dispatcher, notifier, zap.NewNop())
	t.Cleanup(func() { _ = sess.Close() })

	return sess, scheduler, dispatcher, notifier
}

func TestSession_Open(t *testing.T) {
	t.Run("idle session opens into target selection", func(t *testing.T) {
		sess, _, _, _ := newTestSession(t)

		require.NoError(t, sess.Open())

		snap := sess.Snapshot()
		assert.Equal(t, StatusSelectingTargets, snap.Status)
		assert.Equal(t, ModeSpecificUsers, snap.Mode)
		assert.Equal(t, CountdownSeconds, snap.CountdownRemaining)
		assert.Empty(t, snap.SelectedUsers)
	})

	t.Run("second open while selecting is rejected", func(t *testing.T) {
		sess, _, _, _ := newTestSession(t)

		require.NoError(t, sess.Open())
		assert.ErrorIs(t, sess.Open(), ErrSessionActive)
	})

	t.Run("open during countdown is rejected", func(t *testing.T) {
		sess, _, _, _ := newTestSession(t)

		require.NoError(t, sess.Open())
		require.NoError(t, sess.SetMode(ModeCommunity))
		require.NoError(t, sess.Confirm())

		assert.ErrorIs(t, sess.Open(), ErrSessionActive)
	})
}

func TestSession_SetMode(t *testing.T) {
	t.Run("unknown mode is rejected", func(t *testing.T) {
		sess, _, _, _ := newTestSession(t)

		require.NoError(t, sess.Open())
		assert.Error(t, sess.SetMode(Mode("broadcast")))
	})

	t.Run("mode change outside selection is rejected", func(t *testing.T) {
		sess, _, _, _ := newTestSession(t)

		assert.ErrorIs(t, sess.SetMode(ModeCommunity), ErrNotSelecting)
	})

	t.Run("leaving specific users clears the selection", func(t *testing.T) {
		sess, _, _, _ := newTestSession(t)

		require.NoError(t, sess.Open())
		require.NoError(t, sess.ToggleTarget("3"))
		require.NoError(t, sess.ToggleTarget("7"))
		require.NoError(t, sess.SetMode(ModeRadius))

		assert.Empty(t, sess.Snapshot().SelectedUsers)
	})
}

func TestSession_ToggleTarget(t *testing.T) {
	t.Run("toggle adds then removes preserving order", func(t *testing.T) {
		sess, _, _, _ := newTestSession(t)

		require.NoError(t, sess.Open())
		require.NoError(t, sess.ToggleTarget("3"))
		require.NoError(t, sess.ToggleTarget("7"))
		require.NoError(t, sess.ToggleTarget("12"))
		assert.Equal(t, []string{"3", "7", "12"}, sess.Snapshot().SelectedUsers)

		require.NoError(t, sess.ToggleTarget("7"))
		assert.Equal(t, []string{"3", "12"}, sess.Snapshot().SelectedUsers)

		require.NoError(t, sess.ToggleTarget("7"))
		assert.Equal(t, []string{"3", "12", "7"}, sess.Snapshot().SelectedUsers)
	})

	t.Run("toggle outside selection is rejected", func(t *testing.T) {
		sess, _, _, _ := newTestSession(t)

		assert.ErrorIs(t, sess.ToggleTarget("3"), ErrNotSelecting)
	})
}

func TestSession_Confirm(t *testing.T) {
	t.Run("specific users with empty selection stays selecting", func(t *testing.T) {
		sess, _, _, notifier := newTestSession(t)

		require.NoError(t, sess.Open())
		assert.ErrorIs(t, sess.Confirm(), ErrNoTargets)

		assert.Equal(t, StatusSelectingTargets, sess.Snapshot().Status)
		assert.Contains(t, notifier.Messages(), "Please select at least one user")
	})

	t.Run("confirm starts a one second countdown from five", func(t *testing.T) {
		sess, scheduler, _, notifier := newTestSession(t)

		require.NoError(t, sess.Open())
		require.NoError(t, sess.ToggleTarget("3"))
		require.NoError(t, sess.Confirm())

		snap := sess.Snapshot()
		assert.Equal(t, StatusCountdown, snap.Status)
		assert.Equal(t, CountdownSeconds, snap.CountdownRemaining)
		assert.Equal(t, time.Second, scheduler.Interval())
		assert.Contains(t, notifier.Messages(), "SOS will be triggered in 5 seconds. Cancel to abort.")
	})

	t.Run("confirm outside selection is rejected", func(t *testing.T) {
		sess, _, _, _ := newTestSession(t)

		assert.ErrorIs(t, sess.Confirm(), ErrNotSelecting)
	})

	t.Run("scheduler failure keeps the session selecting", func(t *testing.T) {
		sess, scheduler, _, _ := newTestSession(t)
		scheduler.FailWith(errors.New("no timers"))

		require.NoError(t, sess.Open())
		require.NoError(t, sess.SetMode(ModeCommunity))
		assert.Error(t, sess.Confirm())
		assert.Equal(t, StatusSelectingTargets, sess.Snapshot().Status)
	})
}

func TestSession_Countdown(t *testing.T) {
	t.Run("countdown decrements per tick and dispatches at zero", func(t *testing.T) {
		sess, scheduler, dispatcher, _ := newTestSession(t)

		require.NoError(t, sess.Open())
		require.NoError(t, sess.ToggleTarget("3"))
		require.NoError(t, sess.ToggleTarget("7"))
		require.NoError(t, sess.Confirm())

		for expected := CountdownSeconds - 1; expected > 0; expected-- {
			scheduler.Tick()
			snap := sess.Snapshot()
			assert.Equal(t, StatusCountdown, snap.Status)
			assert.Equal(t, expected, snap.CountdownRemaining)
		}

		// The final tick resolves into a dispatch and the session resets.
		scheduler.Tick()
		require.Eventually(t, func() bool {
			return sess.Snapshot().Status == StatusIdle
		}, time.Second, 5*time.Millisecond)

		dispatches := dispatcher.Dispatches()
		require.Len(t, dispatches, 1)
		assert.Equal(t, ModeSpecificUsers, dispatches[0].Mode)
		assert.Equal(t, []string{"3", "7"}, dispatches[0].SelectedUsers)
		assert.Equal(t, 0, dispatches[0].CountdownRemaining)
	})

	t.Run("extra ticks after expiry do not dispatch again", func(t *testing.T) {
		sess, scheduler, dispatcher, _ := newTestSession(t)

		require.NoError(t, sess.Open())
		require.NoError(t, sess.SetMode(ModeCommunity))
		require.NoError(t, sess.Confirm())

		for i := 0; i < CountdownSeconds+3; i++ {
			scheduler.Tick()
		}

		require.Eventually(t, func() bool {
			return sess.Snapshot().Status == StatusIdle
		}, time.Second, 5*time.Millisecond)
		assert.Len(t, dispatcher.Dispatches(), 1)
	})

	t.Run("countdown job is closed after expiry", func(t *testing.T) {
		sess, scheduler, _, _ := newTestSession(t)

		require.NoError(t, sess.Open())
		require.NoError(t, sess.SetMode(ModeRadius))
		require.NoError(t, sess.Confirm())

		for i := 0; i < CountdownSeconds; i++ {
			scheduler.Tick()
		}

		jobs := scheduler.Jobs()
		require.Len(t, jobs, 1)
		require.Eventually(t, func() bool {
			return jobs[0].Closes() > 0
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("session resets after dispatch regardless of outcome", func(t *testing.T) {
		sess, scheduler, dispatcher, _ := newTestSession(t)
		dispatcher.DispatchFn = func(context.Context, Snapshot) {}

		require.NoError(t, sess.Open())
		require.NoError(t, sess.SetMode(ModeCommunity))
		require.NoError(t, sess.Confirm())

		for i := 0; i < CountdownSeconds; i++ {
			scheduler.Tick()
		}

		require.Eventually(t, func() bool {
			snap := sess.Snapshot()
			return snap.Status == StatusIdle &&
				snap.Mode == ModeSpecificUsers &&
				snap.CountdownRemaining == CountdownSeconds
		}, time.Second, 5*time.Millisecond)

		// A new attempt can begin immediately after the reset.
		assert.NoError(t, sess.Open())
	})
}

func TestSession_Cancel(t *testing.T) {
	t.Run("cancel during selection resets silently", func(t *testing.T) {
		sess, _, _, notifier := newTestSession(t)

		require.NoError(t, sess.Open())
		require.NoError(t, sess.ToggleTarget("3"))
		require.NoError(t, sess.Cancel())

		assert.Equal(t, StatusIdle, sess.Snapshot().Status)
		assert.NotContains(t, notifier.Messages(), "Emergency alert cancelled")
	})

	t.Run("cancel during countdown resets and announces", func(t *testing.T) {
		sess, scheduler, dispatcher, notifier := newTestSession(t)

		require.NoError(t, sess.Open())
		require.NoError(t, sess.SetMode(ModeCommunity))
		require.NoError(t, sess.Confirm())
		scheduler.Tick()
		scheduler.Tick()

		require.NoError(t, sess.Cancel())

		snap := sess.Snapshot()
		assert.Equal(t, StatusIdle, snap.Status)
		assert.Equal(t, CountdownSeconds, snap.CountdownRemaining)
		assert.Contains(t, notifier.Messages(), "Emergency alert cancelled")

		jobs := scheduler.Jobs()
		require.Len(t, jobs, 1)
		assert.Positive(t, jobs[0].Closes())

		// A tick firing after the cancel is stale and must not dispatch.
		scheduler.Tick()
		scheduler.Tick()
		assert.Empty(t, dispatcher.Dispatches())
		assert.Equal(t, StatusIdle, sess.Snapshot().Status)
	})

	t.Run("cancel when idle is a no-op", func(t *testing.T) {
		sess, _, _, _ := newTestSession(t)

		assert.NoError(t, sess.Cancel())
	})

	t.Run("cancel after dispatch has begun is rejected", func(t *testing.T) {
		sess, scheduler, dispatcher, _ := newTestSession(t)

		dispatching := make(chan struct{})
		release := make(chan struct{})
		dispatcher.DispatchFn = func(context.Context, Snapshot) {
			close(dispatching)
			<-release
		}
		defer close(release)

		require.NoError(t, sess.Open())
		require.NoError(t, sess.SetMode(ModeCommunity))
		require.NoError(t, sess.Confirm())

		for i := 0; i < CountdownSeconds; i++ {
			scheduler.Tick()
		}

		select {
		case <-dispatching:
		case <-time.After(time.Second):
			t.Fatal("dispatch did not start within timeout")
		}

		assert.ErrorIs(t, sess.Cancel(), ErrNotCancellable)
	})
}

func TestSession_Close(t *testing.T) {
	t.Run("close stops the countdown and rejects reopening", func(t *testing.T) {
		sess, scheduler, dispatcher, _ := newTestSession(t)

		require.NoError(t, sess.Open())
		require.NoError(t, sess.SetMode(ModeCommunity))
		require.NoError(t, sess.Confirm())

		require.NoError(t, sess.Close())

		jobs := scheduler.Jobs()
		require.Len(t, jobs, 1)
		assert.Positive(t, jobs[0].Closes())

		for i := 0; i < CountdownSeconds; i++ {
			scheduler.Tick()
		}
		assert.Empty(t, dispatcher.Dispatches())

		assert.Error(t, sess.Open())
	})
}
