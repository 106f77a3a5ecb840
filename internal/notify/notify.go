// Package notify carries user-facing messages out of the SOS flow. It is
// the agent's stand-in for the mobile app's toast layer: components publish
// leveled notices, the control API serves the recent ones, and interactive
// frontends can subscribe for live delivery.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Level classifies a notice the way the app's toasts were classified.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// RecentNoticeLimit is how many notices the bus retains for the control API.
const RecentNoticeLimit = 50

// Notice is one user-facing message.
type Notice struct {
	ID      string    `json:"id"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Notifier is the publishing side of the bus. Components hold this
// interface so tests can capture notices without a running bus.
type Notifier interface {
	Notify(level Level, message string)
}

// Bus fans notices out to subscribers and keeps a bounded ring of recent
// ones. Publishing never blocks: a subscriber that cannot keep up misses
// notices rather than stalling the SOS flow.
type Bus struct {
	logger *zap.Logger

	mu     sync.Mutex
	recent []Notice
	subs   map[int]chan Notice
	nextID int
}

// NewBus creates an empty notice bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		logger: logger,
		subs:   make(map[int]chan Notice),
	}
}

// Notify publishes a notice to all subscribers and the recent ring.
func (b *Bus) Notify(level Level, message string) {
	notice := Notice{
		ID:      uuid.NewString(),
		Level:   level,
		Message: message,
		Time:    time.Now().UTC(),
	}

	b.logger.Info("notice", zap.String("level", string(level)), zap.String("message", message))

	b.mu.Lock()
	defer b.mu.Unlock()

	b.recent = append(b.recent, notice)
	if len(b.recent) > RecentNoticeLimit {
		b.recent = b.recent[len(b.recent)-RecentNoticeLimit:]
	}

	for _, ch := range b.subs {
		select {
		case ch <- notice:
		default:
		}
	}
}

// Recent returns the retained notices, oldest first.
func (b *Bus) Recent() []Notice {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Notice, len(b.recent))
	copy(out, b.recent)
	return out
}

// Subscribe registers a live notice channel. The returned cancel function
// removes the subscription and closes the channel.
func (b *Bus) Subscribe() (<-chan Notice, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan Notice, 16)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}

	return ch, cancel
}
