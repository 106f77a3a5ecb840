package rideapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// staticTokens is a TokenSource backed by a fixed value.
type staticTokens struct {
	token string
	err   error
}

func (s *staticTokens) Token(context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.token, nil
}

func newTestClient(serverURL string) *Client {
	return NewClient(serverURL, &staticTokens{token: "test-token"}, zap.NewNop())
}

func TestClient_FetchUsers(t *testing.T) {
	t.Run("bare array response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/sos/users/", r.URL.Path)
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[{"id": 3, "first_name": "Ayesha", "last_name": "Rahman", "email": "ayesha@example.com"}]`))
		}))
		defer server.Close()

		users, err := newTestClient(server.URL).FetchUsers(context.Background())

		require.NoError(t, err)
		require.Len(t, users, 1)
		assert.Equal(t, "3", users[0].ID)
		assert.Equal(t, "Ayesha", users[0].FirstName)
		assert.Equal(t, "ayesha@example.com", users[0].Email)
	})

	t.Run("users envelope response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"users": [{"id": "7", "first_name": "Karim", "last_name": "Uddin", "email": "karim@example.com"}]}`))
		}))
		defer server.Close()

		users, err := newTestClient(server.URL).FetchUsers(context.Background())

		require.NoError(t, err)
		require.Len(t, users, 1)
		assert.Equal(t, "7", users[0].ID)
	})

	t.Run("missing token fails before any request", func(t *testing.T) {
		var requests atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
		}))
		defer server.Close()

		client := NewClient(server.URL, &staticTokens{err: ErrNoCredential}, zap.NewNop())
		_, err := client.FetchUsers(context.Background())

		assert.ErrorIs(t, err, ErrNoCredential)
		assert.Zero(t, requests.Load(), "no request should reach the server without a token")
	})

	t.Run("unauthorized maps to an APIError with the server message", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error": "token expired"}`))
		}))
		defer server.Close()

		_, err := newTestClient(server.URL).FetchUsers(context.Background())

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
		assert.Equal(t, "token expired", apiErr.Message)
	})
}

func TestClient_FetchActiveAlerts(t *testing.T) {
	t.Run("numeric alert ids are normalized to strings", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/sos/active/", r.URL.Path)

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[{"id": 42, "user": {"first_name": "Nadia", "last_name": "Islam", "profile_photo": ""}}]`))
		}))
		defer server.Close()

		alerts, err := newTestClient(server.URL).FetchActiveAlerts(context.Background())

		require.NoError(t, err)
		require.Len(t, alerts, 1)
		assert.Equal(t, "42", alerts[0].ID)
		assert.Equal(t, "Nadia", alerts[0].User.FirstName)
	})

	t.Run("server error carries the message envelope", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"message": "database unavailable"}`))
		}))
		defer server.Close()

		_, err := newTestClient(server.URL).FetchActiveAlerts(context.Background())

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "database unavailable", apiErr.Message)
	})
}

func TestClient_CreateAlert(t *testing.T) {
	t.Run("successful dispatch returns the notification status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/sos/create/", r.URL.Path)
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

			var payload map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, 23.75, payload["latitude"])
			assert.Equal(t, []interface{}{"3", "7"}, payload["notified_users"])
			assert.NotContains(t, payload, "is_community_alert")
			assert.NotContains(t, payload, "is_radius_alert")

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"notification_status": "2 users notified"}`))
		}))
		defer server.Close()

		resp, err := newTestClient(server.URL).CreateAlert(context.Background(), CreateAlertRequest{
			Latitude:      23.75,
			Longitude:     90.39,
			NotifiedUsers: []string{"3", "7"},
		})

		require.NoError(t, err)
		assert.Equal(t, "2 users notified", resp.NotificationStatus)
	})

	t.Run("radius payload carries both radius fields", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var payload map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, true, payload["is_radius_alert"])
			assert.Equal(t, float64(5), payload["radius_km"])
			assert.NotContains(t, payload, "notified_users")

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"notification_status": "radius alert sent"}`))
		}))
		defer server.Close()

		_, err := newTestClient(server.URL).CreateAlert(context.Background(), CreateAlertRequest{
			Latitude:      23.75,
			Longitude:     90.39,
			IsRadiusAlert: true,
			RadiusKM:      5,
		})

		require.NoError(t, err)
	})

	t.Run("missing token fails before any request", func(t *testing.T) {
		var requests atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
		}))
		defer server.Close()

		client := NewClient(server.URL, &staticTokens{err: ErrNoCredential}, zap.NewNop())
		_, err := client.CreateAlert(context.Background(), CreateAlertRequest{})

		assert.ErrorIs(t, err, ErrNoCredential)
		assert.Zero(t, requests.Load())
	})

	t.Run("transport failure is not an APIError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		server.Close()

		_, err := newTestClient(server.URL).CreateAlert(context.Background(), CreateAlertRequest{})

		require.Error(t, err)
		var apiErr *APIError
		assert.False(t, errors.As(err, &apiErr))
		assert.NotErrorIs(t, err, ErrNoCredential)
	})
}
