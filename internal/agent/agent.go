// Package agent wires the SOS components together and owns their
// lifecycle.
package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/big-matrix/sosagent/internal/api"
	"github.com/big-matrix/sosagent/internal/config"
	"github.com/big-matrix/sosagent/internal/credentials"
	"github.com/big-matrix/sosagent/internal/directory"
	"github.com/big-matrix/sosagent/internal/helpers"
	"github.com/big-matrix/sosagent/internal/location"
	"github.com/big-matrix/sosagent/internal/notify"
	"github.com/big-matrix/sosagent/internal/rideapi"
	"github.com/big-matrix/sosagent/internal/session"
)

// Agent is the assembled SOS companion.
type Agent struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     *credentials.Store
	notices   *notify.Bus
	session   *session.Session
	directory *directory.Directory
	tracker   *helpers.Tracker
	server    *api.Server

	mu      sync.Mutex
	running bool
}

// New builds an agent from configuration.
func New(cfg *config.Config, logger *zap.Logger) (*Agent, error) {
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}

	store, err := credentials.Open(filepath.Join(cfg.StateDir, "sosagent.db"))
	if err != nil {
		return nil, err
	}

	notices := notify.NewBus(logger)
	client := rideapi.NewClient(cfg.BaseURL, store, logger)
	tracker := helpers.NewTracker(client, notices, logger)
	dir := directory.New(client, notices, logger)

	dispatcher := session.NewDispatcher(
		client,
		location.FromEnv(),
		notices,
		func() { tracker.Refresh(context.Background()) },
		logger,
	)
	sess := session.New(session.NewTickerScheduler(), dispatcher, notices, logger)

	server := api.New(
		cfg.ListenAddr,
		sess,
		dir,
		tracker,
		store,
		notices,
		rate.Limit(cfg.RateLimitPerSecond),
		cfg.RateLimitBurst,
		logger,
	)

	return &Agent{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		notices:   notices,
		session:   sess,
		directory: dir,
		tracker:   tracker,
		server:    server,
	}, nil
}

// Run starts the agent and blocks until ctx is cancelled, then shuts
// everything down.
func (a *Agent) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("agent already running")
	}
	a.running = true
	a.mu.Unlock()

	// Warm the directory and helper views. Both are non-fatal here: a
	// missing credential just surfaces a notice, same as on the phone.
	go func() {
		_, _ = a.directory.Users(ctx)
		a.tracker.Refresh(ctx)
	}()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- a.server.Start()
	}()

	select {
	case err := <-serverErr:
		a.shutdown()
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("control API shutdown failed", zap.Error(err))
	}

	a.shutdown()
	return nil
}

func (a *Agent) shutdown() {
	_ = a.session.Close()
	a.tracker.Stop()

	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
}
