package rideapi

import (
	"encoding/json"
	"fmt"
)

// TargetUser is a user from the platform directory who can be notified
// about an SOS alert.
type TargetUser struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// UnmarshalJSON implements custom JSON unmarshaling for TargetUser.
// The platform API is inconsistent about the id field and returns either a
// JSON number or a string depending on the serializer version.
func (u *TargetUser) UnmarshalJSON(data []byte) error {
	// Create type alias to avoid infinite recursion when calling json.Unmarshal
	type Alias TargetUser
	aux := &struct {
		ID json.Number `json:"id"`
		*Alias
	}{
		Alias: (*Alias)(u),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	u.ID = aux.ID.String()
	return nil
}

// UsersResponse holds the directory listing. The users endpoint returns
// either a bare JSON array or an object wrapping it as {"users": [...]}.
type UsersResponse struct {
	Users []TargetUser
}

// UnmarshalJSON accepts both envelope shapes of the users endpoint.
func (r *UsersResponse) UnmarshalJSON(data []byte) error {
	var direct []TargetUser
	if err := json.Unmarshal(data, &direct); err == nil {
		r.Users = direct
		return nil
	}

	var wrapped struct {
		Users []TargetUser `json:"users"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return fmt.Errorf("users response is neither an array nor a users envelope: %w", err)
	}

	r.Users = wrapped.Users
	return nil
}

// AlertUser is the originating user embedded in an active alert.
type AlertUser struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	ProfilePhoto string `json:"profile_photo"`
}

// ActiveAlert is one currently active SOS alert on the platform.
type ActiveAlert struct {
	ID   string    `json:"id"`
	User AlertUser `json:"user"`
}

// UnmarshalJSON normalizes the numeric alert id into a string.
func (a *ActiveAlert) UnmarshalJSON(data []byte) error {
	// Create type alias to avoid infinite recursion when calling json.Unmarshal
	type Alias ActiveAlert
	aux := &struct {
		ID json.Number `json:"id"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	a.ID = aux.ID.String()
	return nil
}

// CreateAlertRequest is the dispatch payload for POST /api/sos/create/.
// Exactly one targeting variant is populated, selected by the alert mode:
// notified_users for specific users, is_community_alert for the whole
// community, is_radius_alert plus radius_km for a geographic radius.
type CreateAlertRequest struct {
	Latitude         float64  `json:"latitude"`
	Longitude        float64  `json:"longitude"`
	NotifiedUsers    []string `json:"notified_users,omitempty"`
	IsCommunityAlert bool     `json:"is_community_alert,omitempty"`
	IsRadiusAlert    bool     `json:"is_radius_alert,omitempty"`
	RadiusKM         int      `json:"radius_km,omitempty"`
}

// CreateAlertResponse is the 2xx response body of the create endpoint.
type CreateAlertResponse struct {
	NotificationStatus string `json:"notification_status"`
}

// apiErrorBody is the error envelope returned by the platform on non-2xx
// responses. Older endpoints use "error", newer ones use "message".
type apiErrorBody struct {
	ErrorMessage string `json:"error"`
	Message      string `json:"message"`
}

func (b apiErrorBody) message() string {
	if b.ErrorMessage != "" {
		return b.ErrorMessage
	}
	return b.Message
}

// APIError is a non-2xx response from the platform, carrying the
// server-supplied message when one was present.
type APIError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface for APIError.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("unexpected HTTP status %d", e.StatusCode)
}
