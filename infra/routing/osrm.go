// Package routing implements core/routing.Router against an OSRM-compatible
// HTTP service. Failures are wrapped as external-service errors so the
// telemetry ingestor can fall back to straight-line estimates.
package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openfleet/dispatchd/core/errs"
	"github.com/openfleet/dispatchd/core/model"
	"github.com/openfleet/dispatchd/core/routing"
)

// Config holds the routing service settings.
type Config struct {
	Enabled        bool   `json:"enabled"`
	BaseURL        string `json:"base_url"`
	Profile        string `json:"profile"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// SetDefaults fills zero-valued fields.
func (c *Config) SetDefaults() {
	if c.Profile == "" {
		c.Profile = "driving"
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 3
	}
}

// Validate checks the config is usable when enabled.
func (c *Config) Validate() error {
	if c.Enabled && c.BaseURL == "" {
		return fmt.Errorf("routing: base_url is required when enabled")
	}
	return nil
}

// Client queries the OSRM route endpoint. Every request carries a hard
// timeout so a slow routing service cannot stall ping processing.
type Client struct {
	baseURL string
	profile string
	timeout time.Duration
	http    *http.Client
}

// NewClient builds a Client from cfg.
func NewClient(cfg Config) *Client {
	cfg.SetDefaults()
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		profile: cfg.Profile,
		timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		http:    &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
	}
}

type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Distance float64 `json:"distance"` // meters
		Duration float64 `json:"duration"` // seconds
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"` // lon, lat
		} `json:"geometry"`
	} `json:"routes"`
}

// Route resolves the road route between origin and destination.
func (c *Client) Route(ctx context.Context, origin, destination model.Coordinate) (routing.Route, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/route/v1/%s/%f,%f;%f,%f?overview=simplified&geometries=geojson",
		c.baseURL, c.profile, origin.Lon, origin.Lat, destination.Lon, destination.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return routing.Route{}, errs.External("routing", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return routing.Route{}, errs.External("routing", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return routing.Route{}, errs.External("routing",
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b))))
	}

	var or osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&or); err != nil {
		return routing.Route{}, errs.External("routing", fmt.Errorf("decode response: %w", err))
	}
	if or.Code != "Ok" || len(or.Routes) == 0 {
		return routing.Route{}, errs.External("routing", fmt.Errorf("no route (code %q)", or.Code))
	}

	best := or.Routes[0]
	r := routing.Route{
		DistanceKm: best.Distance / 1000,
		Duration:   time.Duration(best.Duration * float64(time.Second)),
	}
	for _, pair := range best.Geometry.Coordinates {
		if len(pair) != 2 {
			continue
		}
		r.Geometry = append(r.Geometry, model.Coordinate{Lat: pair[1], Lon: pair[0]})
	}
	return r, nil
}
