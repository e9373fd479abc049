// Package routing requests route computations from the routing backend.
package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"routeview/core-go/internal/geo"
)

type Computer interface {
	ComputeRoute(ctx context.Context, startID, endID string) (geo.Route, error)
}

// StatusError carries a non-200 answer from the backend. A 400 with
// "Graph error: ..." means the two places are not connected.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("route service returned status %d", e.Status)
	}
	return fmt.Sprintf("route service returned status %d: %s", e.Status, e.Body)
}

var (
	ErrMissingRouteID = errors.New("route response has no route_id")
	ErrMissingBounds  = errors.New("route response has no usable bounds")
)

const maxErrorBody = 4 << 10

type ClientOptions struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client calls GET {base}/calc_route/from/{start}/to/{end}.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(opts ClientOptions) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{baseURL: strings.TrimRight(opts.BaseURL, "/"), http: hc}
}

type stepJSON struct {
	Lat          float64      `json:"lat"`
	Lon          float64      `json:"lon"`
	NextEdgeName string       `json:"next_edge_name"`
	Distance     stepDistance `json:"distance"`
	Steps        []int        `json:"steps"`
	Bounds       *geo.Bounds  `json:"bounds"`
}

// stepDistance accepts either the formatted {val, unit} object or a bare
// number of meters, which is formatted the same way.
type stepDistance geo.Distance

func (d *stepDistance) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return nil
	}
	var meters float64
	if err := json.Unmarshal(b, &meters); err == nil {
		*d = stepDistance(geo.FormatDistance(meters))
		return nil
	}
	var formatted geo.Distance
	if err := json.Unmarshal(b, &formatted); err != nil {
		return fmt.Errorf("step distance: %w", err)
	}
	*d = stepDistance(formatted)
	return nil
}

type routeJSON struct {
	RouteID geo.FlexibleID `json:"route_id"`
	Bounds  *geo.Bounds    `json:"bounds"`
	Steps   []stepJSON     `json:"steps"`
}

func (c *Client) ComputeRoute(ctx context.Context, startID, endID string) (geo.Route, error) {
	endpoint := fmt.Sprintf("%s/calc_route/from/%s/to/%s", c.baseURL, url.PathEscape(startID), url.PathEscape(endID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return geo.Route{}, fmt.Errorf("build route request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return geo.Route{}, fmt.Errorf("route request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return geo.Route{}, &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var raw routeJSON
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return geo.Route{}, fmt.Errorf("decode route response: %w", err)
	}
	return raw.toRoute()
}

func (r routeJSON) toRoute() (geo.Route, error) {
	if r.RouteID == "" {
		return geo.Route{}, ErrMissingRouteID
	}

	steps := make([]geo.Step, 0, len(r.Steps))
	for _, s := range r.Steps {
		// Steps without an extent preview as the point where they start.
		b := geo.Bounds{MinX: s.Lon, MinY: s.Lat, MaxX: s.Lon, MaxY: s.Lat}
		if s.Bounds != nil && s.Bounds.Valid() {
			b = *s.Bounds
		}
		steps = append(steps, geo.Step{
			Bounds:   b,
			Name:     s.NextEdgeName,
			Lat:      s.Lat,
			Lon:      s.Lon,
			Distance: geo.Distance(s.Distance),
			StepIDs:  s.Steps,
		})
	}

	var bounds geo.Bounds
	switch {
	case r.Bounds != nil && r.Bounds.Valid():
		bounds = *r.Bounds
	default:
		b, ok := geo.StepBounds(steps)
		if !ok {
			return geo.Route{}, ErrMissingBounds
		}
		bounds = b
	}

	return geo.Route{ID: string(r.RouteID), Bounds: bounds, Steps: steps}, nil
}
