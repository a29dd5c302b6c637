package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/runmates/runmates/internal/logger"
)

// ErrNoResult is returned when the provider finds nothing for a query.
// It is never cached, so the next lookup retries.
var ErrNoResult = errors.New("no geocode result")

// Coordinates is a resolved lat/lng pair in decimal degrees.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Geocoder resolves a free-text place name to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (Coordinates, error)
}

const nominatimBaseURL = "https://nominatim.openstreetmap.org"

// NominatimClient is a Geocoder backed by the OpenStreetMap Nominatim
// search API. Nominatim asks for a meaningful User-Agent and roughly one
// request per second; pacing is the cache's job, not the client's.
type NominatimClient struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

func NewNominatimClient(userAgent string) *NominatimClient {
	return &NominatimClient{
		baseURL:   nominatimBaseURL,
		userAgent: userAgent,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type nominatimResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Geocode performs one search call and returns the first result.
func (n *NominatimClient) Geocode(ctx context.Context, query string) (Coordinates, error) {
	log := logger.GetLogger("geocode")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/search", nil)
	if err != nil {
		return Coordinates{}, fmt.Errorf("create geocode request: %w", err)
	}

	q := req.URL.Query()
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("limit", "1")
	req.URL.RawQuery = q.Encode()

	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return Coordinates{}, fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warnf("Nominatim returned status=%d for %q", resp.StatusCode, query)
		return Coordinates{}, fmt.Errorf("geocode request: unexpected status %d", resp.StatusCode)
	}

	var results []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return Coordinates{}, fmt.Errorf("decode geocode response: %w", err)
	}

	if len(results) == 0 {
		return Coordinates{}, ErrNoResult
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return Coordinates{}, fmt.Errorf("parse lat %q: %w", results[0].Lat, err)
	}
	lng, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return Coordinates{}, fmt.Errorf("parse lon %q: %w", results[0].Lon, err)
	}

	return Coordinates{Lat: lat, Lng: lng}, nil
}
