package session

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/big-matrix/sosagent/internal/location"
	"github.com/big-matrix/sosagent/internal/notify"
	"github.com/big-matrix/sosagent/internal/rideapi"
)

// AlertCreator is the slice of the platform client the dispatcher needs.
type AlertCreator interface {
	CreateAlert(ctx context.Context, payload rideapi.CreateAlertRequest) (*rideapi.CreateAlertResponse, error)
}

// Dispatcher builds the alert payload from the session snapshot and the
// current position fix, sends it to the platform, and turns the outcome
// into user-facing notices.
type Dispatcher struct {
	client    AlertCreator
	position  location.Provider
	notifier  notify.Notifier
	onSuccess func()
	logger    *zap.Logger
}

// NewDispatcher creates a dispatcher. onSuccess runs after a successful
// dispatch; the agent uses it to refresh the active-alerts list. It may be
// nil.
func NewDispatcher(client AlertCreator, position location.Provider, notifier notify.Notifier, onSuccess func(), logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		client:    client,
		position:  position,
		notifier:  notifier,
		onSuccess: onSuccess,
		logger:    logger,
	}
}

// Dispatch performs the single alert submission for an expired countdown.
// All failures are converted to notices here; nothing propagates, and the
// session's unconditional reset runs regardless of the outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, snap Snapshot) {
	payload := d.buildPayload(ctx, snap)

	resp, err := d.client.CreateAlert(ctx, payload)
	if err != nil {
		d.reportFailure(err)
		return
	}

	message := resp.NotificationStatus
	if message == "" {
		message = "Emergency alert sent successfully"
	}
	d.notifier.Notify(notify.LevelSuccess, message)

	if d.onSuccess != nil {
		d.onSuccess()
	}
}

// buildPayload assembles the create request from the position fix and the
// snapshot's targeting mode. A missing fix substitutes the fallback
// coordinates and warns the user.
func (d *Dispatcher) buildPayload(ctx context.Context, snap Snapshot) rideapi.CreateAlertRequest {
	coords, err := d.position.CurrentPosition(ctx)
	if err != nil {
		coords = location.Fallback
		d.notifier.Notify(notify.LevelWarning, "Location unavailable. Using default Gulshan, Dhaka coordinates.")
		d.logger.Warn("no position fix, using fallback coordinates", zap.Error(err))
	}

	payload := rideapi.CreateAlertRequest{
		Latitude:  coords.Latitude,
		Longitude: coords.Longitude,
	}

	switch snap.Mode {
	case ModeSpecificUsers:
		payload.NotifiedUsers = snap.SelectedUsers
	case ModeCommunity:
		payload.IsCommunityAlert = true
	case ModeRadius:
		payload.IsRadiusAlert = true
		payload.RadiusKM = DefaultRadiusKM
	}

	return payload
}

// reportFailure maps a dispatch error onto the notice taxonomy: missing
// credential, server-reported error, or transport failure.
func (d *Dispatcher) reportFailure(err error) {
	d.logger.Error("failed to dispatch SOS alert", zap.Error(err))

	if errors.Is(err, rideapi.ErrNoCredential) {
		d.notifier.Notify(notify.LevelError, "Please log in to send SOS")
		return
	}

	var apiErr *rideapi.APIError
	if errors.As(err, &apiErr) {
		message := apiErr.Message
		if message == "" {
			message = "Failed to send SOS"
		}
		d.notifier.Notify(notify.LevelError, message)
		return
	}

	d.notifier.Notify(notify.LevelError, "Network error sending SOS")
}
