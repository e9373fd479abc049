package routing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"routeview/core-go/internal/geo"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(ClientOptions{BaseURL: srv.URL})
}

func TestComputeRoute_DecodesRoute(t *testing.T) {
	paths := make(chan string, 1)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		_, _ = fmt.Fprint(w, `{
			"route_id": "r1",
			"bounds": {"min_x": 0, "min_y": 0, "max_x": 10, "max_y": 10},
			"steps": [
				{"lat": 1, "lon": 1, "next_edge_name": "I-35", "distance": {"val": "2.10", "unit": "miles"}, "steps": [0, 1], "bounds": {"min_x": 1, "min_y": 1, "max_x": 2, "max_y": 2}},
				{"lat": 3, "lon": 4, "next_edge_name": "Congress Ave", "distance": {"val": "120.00", "unit": "feet"}, "steps": [2]}
			]
		}`)
	})

	route, err := c.ComputeRoute(context.Background(), "A", "B")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath := <-paths; gotPath != "/calc_route/from/A/to/B" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if route.ID != "r1" {
		t.Fatalf("expected route id r1, got %q", route.ID)
	}
	if route.Bounds != (geo.Bounds{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10}) {
		t.Fatalf("unexpected route bounds %v", route.Bounds)
	}
	if len(route.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(route.Steps))
	}
	if route.Steps[0].Bounds != (geo.Bounds{MinX: 1, MinY: 1, MaxX: 2, MaxY: 2}) || route.Steps[0].Name != "I-35" {
		t.Fatalf("unexpected first step %+v", route.Steps[0])
	}
	if route.Steps[1].Bounds != (geo.Bounds{MinX: 4, MinY: 3, MaxX: 4, MaxY: 3}) {
		t.Fatalf("expected point bounds for step without extent, got %v", route.Steps[1].Bounds)
	}
}

func TestComputeRoute_StepDistanceInMeters(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{
			"route_id": "r1",
			"steps": [
				{"lat": 1, "lon": 1, "distance": 3220},
				{"lat": 2, "lon": 2, "distance": 100},
				{"lat": 3, "lon": 3, "distance": {"val": "1.50", "unit": "miles"}},
				{"lat": 4, "lon": 4, "distance": null}
			]
		}`)
	})

	route, err := c.ComputeRoute(context.Background(), "A", "B")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []geo.Distance{
		{Value: "2.00", Unit: geo.DistanceUnitMile},
		{Value: "328.08", Unit: geo.DistanceUnitFeet},
		{Value: "1.50", Unit: "miles"},
		{},
	}
	for i, w := range want {
		if route.Steps[i].Distance != w {
			t.Fatalf("step %d: expected distance %+v, got %+v", i, w, route.Steps[i].Distance)
		}
	}
}

func TestComputeRoute_NumericRouteIDAndDerivedBounds(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"route_id": 77, "steps": [
			{"lat": 1, "lon": 1, "bounds": {"min_x": 1, "min_y": 1, "max_x": 2, "max_y": 2}},
			{"lat": 5, "lon": 5, "bounds": {"min_x": 4, "min_y": 4, "max_x": 6, "max_y": 7}}
		]}`)
	})

	route, err := c.ComputeRoute(context.Background(), "1", "2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if route.ID != "77" {
		t.Fatalf("expected numeric id to be kept as text, got %q", route.ID)
	}
	if route.Bounds != (geo.Bounds{MinX: 1, MinY: 1, MaxX: 6, MaxY: 7}) {
		t.Fatalf("expected bounds derived from steps, got %v", route.Bounds)
	}
}

func TestComputeRoute_Errors(t *testing.T) {
	cases := []struct {
		name  string
		h     http.HandlerFunc
		check func(t *testing.T, err error)
	}{
		{
			name: "graph error",
			h: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "Graph error: node 9 not in graph", http.StatusBadRequest)
			},
			check: func(t *testing.T, err error) {
				var se *StatusError
				if !errors.As(err, &se) || se.Status != http.StatusBadRequest {
					t.Fatalf("expected 400 StatusError, got %v", err)
				}
			},
		},
		{
			name: "missing route id",
			h: func(w http.ResponseWriter, r *http.Request) {
				_, _ = fmt.Fprint(w, `{"bounds": {"min_x": 0, "min_y": 0, "max_x": 1, "max_y": 1}, "steps": []}`)
			},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrMissingRouteID) {
					t.Fatalf("expected ErrMissingRouteID, got %v", err)
				}
			},
		},
		{
			name: "no bounds anywhere",
			h: func(w http.ResponseWriter, r *http.Request) {
				_, _ = fmt.Fprint(w, `{"route_id": "r1", "steps": []}`)
			},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrMissingBounds) {
					t.Fatalf("expected ErrMissingBounds, got %v", err)
				}
			},
		},
		{
			name: "bad json",
			h: func(w http.ResponseWriter, r *http.Request) {
				_, _ = fmt.Fprint(w, `{"route_id":`)
			},
			check: func(t *testing.T, err error) {
				if err == nil {
					t.Fatalf("expected decode error")
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := newTestClient(t, tc.h).ComputeRoute(context.Background(), "A", "B")
			tc.check(t, err)
		})
	}
}

func TestComputeRoute_HonoursContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.ComputeRoute(ctx, "A", "B"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
