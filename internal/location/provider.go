// Package location abstracts the device position fix used when dispatching
// an SOS alert. The agent has no GPS of its own; a provider is either fed a
// fix from the environment or reports that none is available, in which case
// the dispatcher substitutes the fallback coordinates.
package location

import (
	"context"
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// ErrNoFix is returned when no position fix is available.
var ErrNoFix = errors.New("no position fix available")

// Coordinates is a WGS84 latitude/longitude pair.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Fallback is used when the provider has no fix. It points at Gulshan,
// Dhaka, matching the platform's default service area.
var Fallback = Coordinates{Latitude: 23.797911, Longitude: 90.414391}

// Provider supplies the last-known device coordinates on demand.
type Provider interface {
	CurrentPosition(ctx context.Context) (Coordinates, error)
}

// ProviderFunc adapts a plain function to the Provider interface.
type ProviderFunc func(ctx context.Context) (Coordinates, error)

// CurrentPosition calls the wrapped function.
func (f ProviderFunc) CurrentPosition(ctx context.Context) (Coordinates, error) {
	return f(ctx)
}

// Static returns a provider that always reports the given fix.
func Static(coords Coordinates) Provider {
	return ProviderFunc(func(context.Context) (Coordinates, error) {
		return coords, nil
	})
}

// Unavailable returns a provider that never has a fix.
func Unavailable() Provider {
	return ProviderFunc(func(context.Context) (Coordinates, error) {
		return Coordinates{}, ErrNoFix
	})
}

// FromEnv builds a provider from the SOS_LATITUDE and SOS_LONGITUDE
// environment variables. When either is unset or malformed the provider
// reports no fix, which routes dispatches through the fallback coordinates.
func FromEnv() Provider {
	lat, latErr := strconv.ParseFloat(os.Getenv("SOS_LATITUDE"), 64)
	lon, lonErr := strconv.ParseFloat(os.Getenv("SOS_LONGITUDE"), 64)
	if latErr != nil || lonErr != nil {
		return Unavailable()
	}
	return Static(Coordinates{Latitude: lat, Longitude: lon})
}
