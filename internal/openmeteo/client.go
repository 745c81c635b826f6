// Package openmeteo fetches hourly air quality, weather and archive series
// from the Open-Meteo APIs and turns them into canonical measurement records.
package openmeteo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ecomonitor/ecomonitor/internal/measurement"
	"github.com/ecomonitor/ecomonitor/internal/provider/resilience"
)

// Default endpoints.
const (
	DefaultAirQualityURL = "https://air-quality-api.open-meteo.com/v1/air-quality"
	DefaultForecastURL   = "https://api.open-meteo.com/v1/forecast"
	DefaultArchiveURL    = "https://archive-api.open-meteo.com/v1/archive"
)

// ErrUpstream is returned when Open-Meteo answers with an error payload.
var ErrUpstream = errors.New("open-meteo error response")

// ClientConfig holds configuration for the Open-Meteo client.
type ClientConfig struct {
	// HTTPClient is the resilient client to use. Required.
	HTTPClient *resilience.Client

	Logger zerolog.Logger
}

// Client executes Open-Meteo hourly requests.
type Client struct {
	httpClient *resilience.Client
	logger     zerolog.Logger
}

// NewClient creates a new Open-Meteo client.
func NewClient(cfg ClientConfig) *Client {
	return &Client{
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
	}
}

// Name returns the provider name of the underlying HTTP client.
func (c *Client) Name() string {
	return c.httpClient.Name()
}

// FetchHourly performs one GET against baseURL and returns the decoded
// response objects. A single-object body yields one element; an array body
// yields one element per requested coordinate. Transport failures are
// returned as *resilience.TransportError.
func (c *Client) FetchHourly(ctx context.Context, baseURL string, params url.Values) ([]HourlyResponse, error) {
	var raw json.RawMessage
	if err := c.httpClient.GetJSON(ctx, baseURL, params, &raw); err != nil {
		c.logger.Error().
			Err(err).
			Str("provider", c.Name()).
			Msg("upstream request failed")
		return nil, err
	}

	responses, err := decodeHourly(raw)
	if err != nil {
		return nil, &resilience.TransportError{
			Provider: c.Name(),
			Kind:     resilience.KindDecode,
			Err:      err,
		}
	}

	for i := range responses {
		if responses[i].Error {
			return nil, fmt.Errorf("%w: %s", ErrUpstream, responses[i].Reason)
		}
	}
	return responses, nil
}

func decodeHourly(raw json.RawMessage) ([]HourlyResponse, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, errors.New("empty response body")
	}

	if trimmed[0] == '[' {
		var many []HourlyResponse
		if err := json.Unmarshal(trimmed, &many); err != nil {
			return nil, fmt.Errorf("decode response array: %w", err)
		}
		return many, nil
	}

	var one HourlyResponse
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return nil, fmt.Errorf("decode response object: %w", err)
	}
	return []HourlyResponse{one}, nil
}

// coordinateParams renders the latitude/longitude query values for points,
// comma-separated when there is more than one.
func coordinateParams(points []measurement.Point) (lat, lon string) {
	lats := make([]string, len(points))
	lons := make([]string, len(points))
	for i, p := range points {
		lats[i] = strconv.FormatFloat(p.Lat, 'f', -1, 64)
		lons[i] = strconv.FormatFloat(p.Lon, 'f', -1, 64)
	}
	return strings.Join(lats, ","), strings.Join(lons, ",")
}
