// Package placesearch looks up places by partial name for the endpoint
// autocomplete. Matching and ranking happen on the backend; this package only
// moves results across.
package placesearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"time"

	"routeview/core-go/internal/geo"
)

type Searcher interface {
	// SearchPlaces returns a lazy, single-pass sequence. Transport errors are
	// yielded as the last element.
	SearchPlaces(ctx context.Context, partialName string) iter.Seq2[geo.Place, error]
}

// StatusError is returned when the place service answers with a non-200 status.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("place search returned status %d", e.Status)
	}
	return fmt.Sprintf("place search returned status %d: %s", e.Status, e.Body)
}

var ErrMalformedResponse = errors.New("place search response is not a json array")

const maxErrorBody = 4 << 10

type ClientOptions struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to the places endpoint of the routing backend
// (GET {base}/graph/places/{name}).
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

type placeJSON struct {
	Gid    geo.FlexibleID `json:"gid"`
	ID     geo.FlexibleID `json:"id"`
	Name   string         `json:"name"`
	State  string         `json:"state"`
	Lat    float64        `json:"lat"`
	Lon    float64        `json:"lon"`
	Bounds *geo.Bounds    `json:"bounds"`
}

func (p placeJSON) toPlace() geo.Place {
	id := p.Gid
	if id == "" {
		id = p.ID
	}
	return geo.Place{
		ID:     string(id),
		Name:   p.Name,
		State:  p.State,
		Lat:    p.Lat,
		Lon:    p.Lon,
		Bounds: p.Bounds,
	}
}

func (c *Client) SearchPlaces(ctx context.Context, partialName string) iter.Seq2[geo.Place, error] {
	return func(yield func(geo.Place, error) bool) {
		endpoint := c.baseURL + "/graph/places/" + url.PathEscape(partialName)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			yield(geo.Place{}, fmt.Errorf("build place search request: %w", err))
			return
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			yield(geo.Place{}, fmt.Errorf("place search request: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			yield(geo.Place{}, &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))})
			return
		}

		dec := json.NewDecoder(resp.Body)
		tok, err := dec.Token()
		if err != nil {
			yield(geo.Place{}, fmt.Errorf("decode place search response: %w", err))
			return
		}
		if d, ok := tok.(json.Delim); !ok || d != '[' {
			yield(geo.Place{}, ErrMalformedResponse)
			return
		}
		for dec.More() {
			var p placeJSON
			if err := dec.Decode(&p); err != nil {
				yield(geo.Place{}, fmt.Errorf("decode place: %w", err))
				return
			}
			if !yield(p.toPlace(), nil) {
				return
			}
		}
		if _, err := dec.Token(); err != nil {
			yield(geo.Place{}, fmt.Errorf("decode place search response: %w", err))
		}
	}
}
