// Package helpers maintains the nearby-helpers view: the users who have
// been notified of an active SOS, derived from the platform's active-alerts
// listing.
package helpers

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/big-matrix/sosagent/internal/notify"
	"github.com/big-matrix/sosagent/internal/rideapi"
)

const (
	// defaultDistance is shown when the platform supplies no distance;
	// it is never computed locally.
	defaultDistance = "Unknown"

	// defaultRating is the placeholder rating for helper cards.
	defaultRating = 4.5

	// defaultImage is the placeholder avatar for helpers without a
	// profile photo.
	defaultImage = "https://images.unsplash.com/photo-1500648767791-00dcc994a43e?ixlib=rb-1.2.1&auto=format&fit=crop&w=100&q=80"

	// seenAlertTTL is how long an alert id stays in the announcement
	// dedup cache.
	seenAlertTTL = 1 * time.Hour

	// seenCleanupInterval is how often expired dedup entries are removed.
	seenCleanupInterval = 10 * time.Minute
)

// NearbyHelper is a display record for one notified user.
type NearbyHelper struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Distance string  `json:"distance"`
	Rating   float64 `json:"rating"`
	Image    string  `json:"image"`
}

// AlertFetcher is the slice of the platform client the tracker needs.
type AlertFetcher interface {
	FetchActiveAlerts(ctx context.Context) ([]rideapi.ActiveAlert, error)
}

// Tracker refreshes the nearby-helpers list and announces each newly seen
// active alert exactly once. Refresh failures are logged and leave the
// previous list untouched.
type Tracker struct {
	fetcher  AlertFetcher
	notifier notify.Notifier
	logger   *zap.Logger

	mu      sync.RWMutex
	helpers []NearbyHelper
	seen    map[string]time.Time

	stopCleanup chan struct{}
	cleanupDone chan struct{}
	stopOnce    sync.Once
}

// NewTracker creates a tracker and starts its dedup cleanup loop.
func NewTracker(fetcher AlertFetcher, notifier notify.Notifier, logger *zap.Logger) *Tracker {
	t := &Tracker{
		fetcher:     fetcher,
		notifier:    notifier,
		logger:      logger,
		seen:        make(map[string]time.Time),
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}

	go t.cleanupLoop()

	return t
}

// Refresh reloads the active alerts and rebuilds the helper list. It is
// non-fatal: on error the previous list is kept and the failure is only
// logged.
func (t *Tracker) Refresh(ctx context.Context) {
	alerts, err := t.fetcher.FetchActiveAlerts(ctx)
	if err != nil {
		t.logger.Warn("failed to refresh active SOS alerts", zap.Error(err))
		return
	}

	refreshed := make([]NearbyHelper, 0, len(alerts))
	var announced []NearbyHelper

	t.mu.Lock()
	for _, alert := range alerts {
		helper := newHelper(alert)
		refreshed = append(refreshed, helper)

		if _, ok := t.seen[alert.ID]; !ok {
			t.seen[alert.ID] = time.Now()
			announced = append(announced, helper)
		}
	}
	t.helpers = refreshed
	t.mu.Unlock()

	for _, helper := range announced {
		t.notifier.Notify(notify.LevelInfo, helper.Name+" has been notified of an SOS")
	}

	t.logger.Debug("active SOS alerts refreshed",
		zap.Int("helpers", len(refreshed)),
		zap.Int("new", len(announced)))
}

// Helpers returns the current nearby-helper list.
func (t *Tracker) Helpers() []NearbyHelper {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]NearbyHelper, len(t.helpers))
	copy(out, t.helpers)
	return out
}

// Stop stops the cleanup goroutine and waits for it to finish.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopCleanup)
	})
	<-t.cleanupDone
}

// cleanupLoop periodically removes expired entries from the dedup cache.
func (t *Tracker) cleanupLoop() {
	ticker := time.NewTicker(seenCleanupInterval)
	defer ticker.Stop()
	defer close(t.cleanupDone)

	for {
		select {
		case <-ticker.C:
			t.cleanup()
		case <-t.stopCleanup:
			return
		}
	}
}

// cleanup removes dedup entries older than seenAlertTTL.
func (t *Tracker) cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	expired := 0
	for id, seenAt := range t.seen {
		if now.Sub(seenAt) > seenAlertTTL {
			delete(t.seen, id)
			expired++
		}
	}

	if expired > 0 {
		t.logger.Debug("cleaned up seen-alert entries",
			zap.Int("expired", expired),
			zap.Int("remaining", len(t.seen)))
	}
}

// newHelper maps an active alert onto its display record.
func newHelper(alert rideapi.ActiveAlert) NearbyHelper {
	image := alert.User.ProfilePhoto
	if image == "" {
		image = defaultImage
	}

	return NearbyHelper{
		ID:       alert.ID,
		Name:     strings.TrimSpace(alert.User.FirstName + " " + alert.User.LastName),
		Distance: defaultDistance,
		Rating:   defaultRating,
		Image:    image,
	}
}
