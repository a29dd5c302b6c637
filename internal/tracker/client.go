package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// API is the server surface the tracker talks to. Declared here so
// tests can drive the loop with a fake transport.
type API interface {
	PushLocation(ctx context.Context, pos Position) error
	FetchNearby(ctx context.Context, lat, lng, radiusKm float64) (*NearbyResult, error)
}

// NearbyUser mirrors one row of the server's /nearby response.
type NearbyUser struct {
	ID         uint      `json:"id"`
	Name       string    `json:"name"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	LastSeenAt time.Time `json:"last_seen_at"`
	DistanceKm float64   `json:"distance_km"`
}

// NearbyResult is the /nearby response body.
type NearbyResult struct {
	Origin struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"origin"`
	Users []NearbyUser `json:"users"`
}

// Client is the HTTP client for the runmates location API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type pushLocationRequest struct {
	Lat       float64  `json:"lat"`
	Lng       float64  `json:"lng"`
	AccuracyM *float64 `json:"accuracy_m,omitempty"`
}

// PushLocation sends the last known position to the server.
func (c *Client) PushLocation(ctx context.Context, pos Position) error {
	body, err := json.Marshal(pushLocationRequest{
		Lat:       pos.Lat,
		Lng:       pos.Lng,
		AccuracyM: pos.AccuracyM,
	})
	if err != nil {
		return fmt.Errorf("encode push body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/location", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("push location: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("push location: status=%d", resp.StatusCode)
	}
	return nil
}

// FetchNearby queries users around the given origin.
func (c *Client) FetchNearby(ctx context.Context, lat, lng, radiusKm float64) (*NearbyResult, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lng", strconv.FormatFloat(lng, 'f', -1, 64))
	q.Set("radius_km", strconv.FormatFloat(radiusKm, 'f', -1, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/nearby?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create nearby request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch nearby: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch nearby: status=%d", resp.StatusCode)
	}

	var result NearbyResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode nearby response: %w", err)
	}
	return &result, nil
}
