package session

import (
	"sync"
	"time"
)

// Job is a handle to a scheduled repeating task.
type Job interface {
	Close() error
}

// TickScheduler schedules a repeating callback. The production
// implementation wraps a time.Ticker; tests inject a manual scheduler and
// drive ticks deterministically.
type TickScheduler interface {
	Schedule(interval time.Duration, callback func()) (Job, error)
}

// TickerScheduler is the production scheduler backed by time.Ticker.
type TickerScheduler struct{}

// NewTickerScheduler creates a ticker-backed scheduler.
func NewTickerScheduler() *TickerScheduler {
	return &TickerScheduler{}
}

// Schedule starts a goroutine invoking callback every interval until the
// returned job is closed.
func (s *TickerScheduler) Schedule(interval time.Duration, callback func()) (Job, error) {
	job := &tickerJob{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	go func() {
		defer close(job.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-job.stop:
				return
			case <-ticker.C:
				callback()
			}
		}
	}()

	return job, nil
}

// tickerJob owns one ticker goroutine.
type tickerJob struct {
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Close stops the ticker goroutine and waits for it to exit. It is safe to
// call more than once. Close must not be called from inside the tick
// callback itself; the session closes the job from a separate goroutine.
func (j *tickerJob) Close() error {
	j.stopOnce.Do(func() {
		close(j.stop)
	})
	<-j.done
	return nil
}
