package controller

import (
	"errors"
	"strings"

	"routeview/core-go/internal/routing"
)

var (
	ErrEndpointsNotSelected   = errors.New("start and end places must both be selected")
	ErrPlaceSearchFailed      = errors.New("place search failed")
	ErrRouteComputationFailed = errors.New("route computation failed")
	ErrOverlayRenderFailed    = errors.New("route overlay could not be rendered")
	ErrNoActiveRoute          = errors.New("no active route")
	ErrRouteSuperseded        = errors.New("route request superseded by a newer request")
	ErrPlaceIDRequired        = errors.New("place must have an id")
	ErrStepOutOfRange         = errors.New("step index out of range")
	ErrSequenceConsumed       = errors.New("place search results already consumed")
)

// RouteComputationError reports a failed call to the routing backend.
// errors.Is(err, ErrRouteComputationFailed) holds for every instance.
type RouteComputationError struct {
	Reason string
	Err    error
}

func (e *RouteComputationError) Error() string {
	return ErrRouteComputationFailed.Error() + ": " + e.Reason
}

func (e *RouteComputationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRouteComputationFailed}
	}
	return []error{ErrRouteComputationFailed, e.Err}
}

func reasonFor(err error) string {
	var se *routing.StatusError
	if errors.As(err, &se) && se.Body != "" {
		return strings.TrimSpace(se.Body)
	}
	return err.Error()
}
