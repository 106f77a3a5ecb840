package rideapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrNoCredential is returned when no bearer token is stored locally.
// Callers must treat it as a terminal precondition failure: the request
// was never sent.
var ErrNoCredential = errors.New("no access token stored")

// RequestTimeout bounds every platform API call so a hung request cannot
// stall the dispatch flow indefinitely.
const RequestTimeout = 30 * time.Second

// TokenSource supplies the locally persisted bearer credential. It is read
// before each call; implementations return ErrNoCredential when absent.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client talks to the ride platform's SOS endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	logger     *zap.Logger
}

// NewClient creates a platform API client rooted at baseURL.
func NewClient(baseURL string, tokens TokenSource, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: RequestTimeout,
		},
		tokens: tokens,
		logger: logger,
	}
}

// FetchUsers loads the directory of users selectable as SOS targets
// from GET /api/sos/users/.
func (c *Client) FetchUsers(ctx context.Context) ([]TargetUser, error) {
	var users UsersResponse
	if err := c.get(ctx, "/api/sos/users/", &users); err != nil {
		return nil, err
	}

	c.logger.Debug("fetched SOS user directory", zap.Int("count", len(users.Users)))
	return users.Users, nil
}

// FetchActiveAlerts loads the currently active SOS alerts
// from GET /api/sos/active/.
func (c *Client) FetchActiveAlerts(ctx context.Context) ([]ActiveAlert, error) {
	var alerts []ActiveAlert
	if err := c.get(ctx, "/api/sos/active/", &alerts); err != nil {
		return nil, err
	}

	c.logger.Debug("fetched active SOS alerts", zap.Int("count", len(alerts)))
	return alerts, nil
}

// CreateAlert dispatches an SOS alert via POST /api/sos/create/ and returns
// the delivery status reported by the platform.
func (c *Client) CreateAlert(ctx context.Context, payload CreateAlertRequest) (*CreateAlertResponse, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal alert payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/sos/create/", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create alert request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("alert request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, c.decodeError(resp)
	}

	var created CreateAlertResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("failed to parse alert response: %w", err)
	}

	c.logger.Info("SOS alert dispatched",
		zap.String("status", created.NotificationStatus),
		zap.Int("notifiedUsers", len(payload.NotifiedUsers)))
	return &created, nil
}

// get executes an authenticated GET against the given path and decodes the
// 2xx body into out. The bearer token is read fresh before each call.
func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request for %s: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return c.decodeError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response from %s: %w", path, err)
	}

	return nil
}

// decodeError maps a non-2xx response to an *APIError, preserving the
// server-supplied message when the body carried one.
func (c *Client) decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var body apiErrorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		apiErr.Message = body.message()
	}

	c.logger.Warn("platform API returned an error",
		zap.Int("status", resp.StatusCode),
		zap.String("message", apiErr.Message))
	return apiErr
}
