// Package strava wraps the provider REST and OAuth endpoints the service
// consumes.
package strava

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Client calls the provider data-plane API. Read and update calls are retried
// with jittered exponential backoff on transport errors and 5xx responses;
// 4xx responses are terminal.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	maxAttempts uint64
}

// ClientOption configures optional behaviour for the Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithMaxAttempts bounds the retry budget per call (including the first try).
func WithMaxAttempts(attempts uint64) ClientOption {
	return func(c *Client) {
		if attempts > 0 {
			c.maxAttempts = attempts
		}
	}
}

// NewClient constructs a Client against the given API base URL
// (e.g. https://www.strava.com/api/v3).
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		maxAttempts: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx answer from the provider data plane.
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

// Activity is the provider's activity detail payload, reduced to the fields
// the service reads.
type Activity struct {
	ID          int64       `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Distance    float64     `json:"distance"`
	Type        string      `json:"type"`
	StartDate   time.Time   `json:"start_date"`
	Map         ActivityMap `json:"map"`
}

// ActivityMap carries the encoded route polylines.
type ActivityMap struct {
	SummaryPolyline string `json:"summary_polyline"`
}

// GetActivity fetches the detail record for one activity.
func (c *Client) GetActivity(ctx context.Context, accessToken string, activityID int64) (*Activity, error) {
	endpoint := fmt.Sprintf("%s/activities/%d", c.baseURL, activityID)
	body, err := c.do(ctx, http.MethodGet, endpoint, accessToken, nil, "")
	if err != nil {
		return nil, fmt.Errorf("get activity %d: %w", activityID, err)
	}

	var activity Activity
	if err := json.Unmarshal(body, &activity); err != nil {
		return nil, fmt.Errorf("decode activity %d: %w", activityID, err)
	}
	return &activity, nil
}

// UpdateDescription replaces the description of an activity.
func (c *Client) UpdateDescription(ctx context.Context, accessToken string, activityID int64, description string) error {
	endpoint := fmt.Sprintf("%s/activities/%d", c.baseURL, activityID)
	payload, err := json.Marshal(map[string]string{"description": description})
	if err != nil {
		return err
	}
	if _, err := c.do(ctx, http.MethodPut, endpoint, accessToken, payload, "application/json"); err != nil {
		return fmt.Errorf("update activity %d: %w", activityID, err)
	}
	return nil
}

// ListActivities returns one page of the athlete's activities. An empty slice
// signals the end of the listing.
func (c *Client) ListActivities(ctx context.Context, accessToken string, page, perPage int) ([]Activity, error) {
	endpoint := fmt.Sprintf("%s/athlete/activities?page=%d&per_page=%d", c.baseURL, page, perPage)
	body, err := c.do(ctx, http.MethodGet, endpoint, accessToken, nil, "")
	if err != nil {
		return nil, fmt.Errorf("list activities page %d: %w", page, err)
	}

	var activities []Activity
	if err := json.Unmarshal(body, &activities); err != nil {
		return nil, fmt.Errorf("decode activities page %d: %w", page, err)
	}
	return activities, nil
}

// Subscription is a registered webhook push subscription.
type Subscription struct {
	ID          int64     `json:"id"`
	CallbackURL string    `json:"callback_url"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreateSubscription registers the webhook callback with the provider.
func (c *Client) CreateSubscription(ctx context.Context, clientID, clientSecret, callbackURL, verifyToken string) (*Subscription, error) {
	form := url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"callback_url":  {callbackURL},
		"verify_token":  {verifyToken},
	}
	body, err := c.do(ctx, http.MethodPost, c.baseURL+"/push_subscriptions", "", []byte(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}

	var sub Subscription
	if err := json.Unmarshal(body, &sub); err != nil {
		return nil, fmt.Errorf("decode subscription: %w", err)
	}
	return &sub, nil
}

// ListSubscriptions returns the push subscriptions registered for the app.
func (c *Client) ListSubscriptions(ctx context.Context, clientID, clientSecret string) ([]Subscription, error) {
	endpoint := fmt.Sprintf("%s/push_subscriptions?client_id=%s&client_secret=%s",
		c.baseURL, url.QueryEscape(clientID), url.QueryEscape(clientSecret))
	body, err := c.do(ctx, http.MethodGet, endpoint, "", nil, "")
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}

	var subs []Subscription
	if err := json.Unmarshal(body, &subs); err != nil {
		return nil, fmt.Errorf("decode subscriptions: %w", err)
	}
	return subs, nil
}

// DeleteSubscription removes a push subscription by id.
func (c *Client) DeleteSubscription(ctx context.Context, clientID, clientSecret string, id int64) error {
	endpoint := fmt.Sprintf("%s/push_subscriptions/%d?client_id=%s&client_secret=%s",
		c.baseURL, id, url.QueryEscape(clientID), url.QueryEscape(clientSecret))
	if _, err := c.do(ctx, http.MethodDelete, endpoint, "", nil, ""); err != nil {
		return fmt.Errorf("delete subscription %d: %w", id, err)
	}
	return nil
}

// do executes one HTTP call with the client's retry policy and returns the
// response body on 2xx.
func (c *Client) do(ctx context.Context, method, endpoint, accessToken string, payload []byte, contentType string) ([]byte, error) {
	var result []byte

	operation := func() error {
		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
		if err != nil {
			return backoff.Permanent(err)
		}
		if accessToken != "" {
			req.Header.Set("Authorization", "Bearer "+accessToken)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			result = body
			return nil
		case resp.StatusCode >= 500:
			return &APIError{StatusCode: resp.StatusCode, Body: body}
		default:
			return backoff.Permanent(&APIError{StatusCode: resp.StatusCode, Body: body})
		}
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(newBackoff(), c.maxAttempts-1), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return result, nil
}

func newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}
