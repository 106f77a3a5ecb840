// Package directory serves the list of users selectable as SOS targets,
// with the same case-insensitive search the app offered over the
// selection modal.
package directory

import (
	"context"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/big-matrix/sosagent/internal/notify"
	"github.com/big-matrix/sosagent/internal/rideapi"
)

const (
	cacheKey = "sos_users"

	// cacheTTL bounds how stale the directory may get between refreshes.
	cacheTTL = 5 * time.Minute
)

// UserFetcher is the slice of the platform client the directory needs.
type UserFetcher interface {
	FetchUsers(ctx context.Context) ([]rideapi.TargetUser, error)
}

// Directory caches the platform's user listing and filters it.
type Directory struct {
	fetcher  UserFetcher
	cache    *gocache.Cache
	notifier notify.Notifier
	logger   *zap.Logger
}

// New creates a directory backed by fetcher.
func New(fetcher UserFetcher, notifier notify.Notifier, logger *zap.Logger) *Directory {
	return &Directory{
		fetcher:  fetcher,
		cache:    gocache.New(cacheTTL, 2*cacheTTL),
		notifier: notifier,
		logger:   logger,
	}
}

// Users returns the directory, loading it from the platform when the cache
// is cold or expired.
func (d *Directory) Users(ctx context.Context) ([]rideapi.TargetUser, error) {
	if cached, ok := d.cache.Get(cacheKey); ok {
		return cached.([]rideapi.TargetUser), nil
	}
	return d.Refresh(ctx)
}

// Refresh reloads the directory from the platform, replacing the cache.
// Load failures are surfaced as notices in the app's wording as well as
// returned to the caller.
func (d *Directory) Refresh(ctx context.Context) ([]rideapi.TargetUser, error) {
	users, err := d.fetcher.FetchUsers(ctx)
	if err != nil {
		d.reportFailure(err)
		return nil, fmt.Errorf("failed to refresh user directory: %w", err)
	}

	if len(users) == 0 {
		d.notifier.Notify(notify.LevelWarning, "No users found from the API")
	}

	d.cache.Set(cacheKey, users, gocache.DefaultExpiration)
	d.logger.Debug("user directory refreshed", zap.Int("count", len(users)))
	return users, nil
}

// Search returns the directory entries matching query. An empty query
// returns everything.
func (d *Directory) Search(ctx context.Context, query string) ([]rideapi.TargetUser, error) {
	users, err := d.Users(ctx)
	if err != nil {
		return nil, err
	}
	return Filter(users, query), nil
}

// Filter applies a case-insensitive substring match over each user's
// "first last" name and email.
func Filter(users []rideapi.TargetUser, query string) []rideapi.TargetUser {
	if query == "" {
		return users
	}

	needle := strings.ToLower(query)
	var matched []rideapi.TargetUser
	for _, user := range users {
		fullName := strings.ToLower(user.FirstName + " " + user.LastName)
		email := strings.ToLower(user.Email)
		if strings.Contains(fullName, needle) || strings.Contains(email, needle) {
			matched = append(matched, user)
		}
	}
	return matched
}

func (d *Directory) reportFailure(err error) {
	d.logger.Error("failed to fetch user directory", zap.Error(err))

	if errors.Is(err, rideapi.ErrNoCredential) {
		d.notifier.Notify(notify.LevelError, "Please log in to fetch users")
		return
	}

	var apiErr *rideapi.APIError
	if errors.As(err, &apiErr) {
		message := apiErr.Message
		if message == "" {
			message = "Unknown error"
		}
		d.notifier.Notify(notify.LevelError, "Failed to fetch users: "+message)
		return
	}

	d.notifier.Notify(notify.LevelError, "Network error fetching users")
}
