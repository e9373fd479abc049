// Package controller implements the route overlay controller behind one map
// session: endpoint selection, route computation with an overlay swap, and
// hover previews that move the viewport without touching layers.
package controller

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"routeview/core-go/internal/geo"
	"routeview/core-go/internal/mapsurface"
	"routeview/core-go/internal/metrics"
	"routeview/core-go/internal/placesearch"
	"routeview/core-go/internal/routing"
)

type Options struct {
	// OverlayProvider is the WMS endpoint that renders route geometry.
	OverlayProvider string
	OverlayLayer    string
	// Matcher selects the layers treated as the current-route overlay.
	// Defaults to mapsurface.CurrentRouteMatcher(OverlayProvider, OverlayLayer).
	Matcher mapsurface.Matcher
	Metrics *metrics.Metrics
}

type Controller struct {
	log     zerolog.Logger
	surface mapsurface.Surface
	places  placesearch.Searcher
	routes  routing.Computer
	metrics *metrics.Metrics

	provider string
	layer    string
	match    mapsurface.Matcher

	// mu sequences every state change and every surface mutation. It is not
	// held while waiting on the routing backend.
	mu         sync.Mutex
	start      *geo.Place
	end        *geo.Place
	route      *geo.Route
	generation uint64
	cancel     context.CancelFunc
}

func New(log zerolog.Logger, surface mapsurface.Surface, places placesearch.Searcher, routes routing.Computer, opts Options) *Controller {
	layer := opts.OverlayLayer
	if layer == "" {
		layer = mapsurface.DefaultRouteLayer
	}
	match := opts.Matcher
	if match == nil {
		match = mapsurface.CurrentRouteMatcher(opts.OverlayProvider, layer)
	}
	return &Controller{
		log:      log,
		surface:  surface,
		places:   places,
		routes:   routes,
		metrics:  opts.Metrics,
		provider: opts.OverlayProvider,
		layer:    layer,
		match:    match,
	}
}

func (c *Controller) SetStart(p geo.Place) error {
	if p.ID == "" {
		return ErrPlaceIDRequired
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start = &p
	c.log.Debug().Str("place_id", p.ID).Str("place", p.Label()).Msg("start selected")
	return nil
}

func (c *Controller) SetEnd(p geo.Place) error {
	if p.ID == "" {
		return ErrPlaceIDRequired
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.end = &p
	c.log.Debug().Str("place_id", p.ID).Str("place", p.Label()).Msg("end selected")
	return nil
}

// State is a copy of what the controller holds.
type State struct {
	Start   *geo.Place `json:"start,omitempty"`
	End     *geo.Place `json:"end,omitempty"`
	Route   *geo.Route `json:"route,omitempty"`
	Pending bool       `json:"pending"`
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	var s State
	if c.start != nil {
		p := *c.start
		s.Start = &p
	}
	if c.end != nil {
		p := *c.end
		s.End = &p
	}
	if c.route != nil {
		r := c.route.Clone()
		s.Route = &r
	}
	s.Pending = c.cancel != nil
	return s
}

// Route returns a copy of the held route.
func (c *Controller) Route() (geo.Route, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.route == nil {
		return geo.Route{}, false
	}
	return c.route.Clone(), true
}

// SearchPlaces passes the lookup through to the place searcher. The returned
// sequence can be ranged over once; errors match ErrPlaceSearchFailed.
func (c *Controller) SearchPlaces(ctx context.Context, partialName string) iter.Seq2[geo.Place, error] {
	inner := c.places.SearchPlaces(ctx, partialName)
	var used atomic.Bool
	return func(yield func(geo.Place, error) bool) {
		if used.Swap(true) {
			yield(geo.Place{}, fmt.Errorf("%w: %w", ErrPlaceSearchFailed, ErrSequenceConsumed))
			return
		}
		for p, err := range inner {
			if err != nil {
				c.log.Warn().Err(err).Str("query", partialName).Msg("place search failed")
				yield(geo.Place{}, fmt.Errorf("%w: %w", ErrPlaceSearchFailed, err))
				return
			}
			if !yield(p, nil) {
				return
			}
		}
	}
}

// ComputeRoute requests a route between the selected endpoints and, on
// success, swaps the current-route overlay and fits the viewport to it.
//
// A newer call supersedes an older one still in flight: the older request is
// cancelled and its result, if it arrives anyway, is dropped with
// ErrRouteSuperseded. On any error the endpoints, held route and attached
// overlay are left as they were.
func (c *Controller) ComputeRoute(ctx context.Context) (geo.Route, error) {
	c.mu.Lock()
	if c.start == nil || c.end == nil {
		c.mu.Unlock()
		c.metrics.IncRouteComputation(metrics.OutcomeNotSelected)
		return geo.Route{}, ErrEndpointsNotSelected
	}
	startID, endID := c.start.ID, c.end.ID
	if c.cancel != nil {
		c.cancel()
	}
	c.generation++
	gen := c.generation
	reqCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	began := time.Now()
	route, err := c.routes.ComputeRoute(reqCtx, startID, endID)
	c.metrics.ObserveRouteComputeDuration(time.Since(began))

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		c.metrics.IncRouteComputation(metrics.OutcomeSuperseded)
		c.log.Debug().Str("start", startID).Str("end", endID).Msg("dropping superseded route response")
		return geo.Route{}, ErrRouteSuperseded
	}
	c.cancel = nil

	if err != nil {
		c.metrics.IncRouteComputation(metrics.OutcomeFailed)
		c.log.Warn().Err(err).Str("start", startID).Str("end", endID).Msg("route computation failed")
		return geo.Route{}, &RouteComputationError{Reason: reasonFor(err), Err: err}
	}

	if err := c.swapOverlay(route); err != nil {
		c.metrics.IncRouteComputation(metrics.OutcomeRenderFailed)
		c.log.Warn().Err(err).Str("route_id", route.ID).Msg("route overlay swap failed")
		return geo.Route{}, err
	}

	held := route.Clone()
	c.route = &held
	c.metrics.IncRouteComputation(metrics.OutcomeOK)
	c.log.Info().
		Str("route_id", route.ID).
		Int("steps", len(route.Steps)).
		Str("bounds", route.Bounds.String()).
		Msg("route overlay swapped")
	return route.Clone(), nil
}

// swapOverlay must be called with mu held. The new overlay is built before
// the surface is touched, then old overlays are removed, the new one is
// attached and the viewport is fitted, in that order.
func (c *Controller) swapOverlay(route geo.Route) error {
	spec, err := mapsurface.NewRouteOverlay(c.provider, c.layer, route.ID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOverlayRenderFailed, err)
	}
	if !route.Bounds.Valid() {
		return fmt.Errorf("%w: %w", ErrOverlayRenderFailed, mapsurface.ErrInvalidBounds)
	}

	current := mapsurface.Matching(c.surface, c.match)

	var removed []mapsurface.OverlaySpec
	for _, l := range current {
		if err := c.surface.RemoveOverlayLayer(l.Handle); err != nil {
			if errors.Is(err, mapsurface.ErrLayerNotFound) {
				continue
			}
			c.restore(removed)
			return fmt.Errorf("%w: remove previous overlay: %w", ErrOverlayRenderFailed, err)
		}
		removed = append(removed, l.Spec)
	}

	if _, err := c.surface.AddOverlayLayer(spec); err != nil {
		c.restore(removed)
		return fmt.Errorf("%w: attach overlay: %w", ErrOverlayRenderFailed, err)
	}
	c.metrics.IncOverlaySwap()

	if err := c.surface.FitViewport(route.Bounds); err != nil {
		// The overlay is already attached; a stale viewport is recoverable.
		c.log.Warn().Err(err).Str("route_id", route.ID).Msg("fit viewport to route failed")
	}
	return nil
}

func (c *Controller) restore(specs []mapsurface.OverlaySpec) {
	for _, s := range specs {
		if _, err := c.surface.AddOverlayLayer(s); err != nil {
			c.log.Error().Err(err).Str("filter_key", s.FilterKey).Msg("restore previous overlay failed")
		}
	}
}

// OnStepHoverEnter previews a step by fitting the viewport to its bounds.
// Layers are never touched here. Without a held route there is nothing to
// return to on exit, so the preview is refused.
func (c *Controller) OnStepHoverEnter(step geo.Step) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.route == nil {
		return ErrNoActiveRoute
	}
	return c.previewLocked(step)
}

// HoverStep previews the step at index of the held route.
func (c *Controller) HoverStep(index int) (geo.Step, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.route == nil {
		return geo.Step{}, ErrNoActiveRoute
	}
	if index < 0 || index >= len(c.route.Steps) {
		return geo.Step{}, ErrStepOutOfRange
	}
	step := c.route.Clone().Steps[index]
	return step, c.previewLocked(step)
}

func (c *Controller) previewLocked(step geo.Step) error {
	if err := c.surface.FitViewport(step.Bounds); err != nil {
		return err
	}
	c.metrics.IncHoverPreview("enter")
	return nil
}

// OnStepHoverExit restores the viewport to the held route's bounds.
func (c *Controller) OnStepHoverExit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.route == nil {
		return ErrNoActiveRoute
	}
	if err := c.surface.FitViewport(c.route.Bounds); err != nil {
		return err
	}
	c.metrics.IncHoverPreview("exit")
	return nil
}

// Close cancels any route request still in flight.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.generation++
}
