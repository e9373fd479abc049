package mapsurface

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"routeview/core-go/internal/geo"
)

const (
	// DefaultRouteLayer is the WMS layer that renders computed user routes.
	DefaultRouteLayer = "gis:user_routes"

	routeFilterField = "route_id"
)

var (
	ErrInvalidProvider  = errors.New("overlay provider must be an absolute http(s) url")
	ErrMissingLayerName = errors.New("overlay layer name is required")
	ErrInvalidFilterKey = errors.New("overlay filter key must be a non-empty route id without quotes")
)

// OverlaySpec describes an image overlay served by a WMS endpoint and narrowed
// to a single route by a server-side filter.
type OverlaySpec struct {
	Provider  string `json:"provider"`
	LayerName string `json:"layer_name"`
	FilterKey string `json:"filter_key"`
}

// NewRouteOverlay builds the overlay for routeID. It never touches a surface,
// so a failure here leaves any attached overlay as it was.
func NewRouteOverlay(provider, layerName, routeID string) (OverlaySpec, error) {
	u, err := url.Parse(provider)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return OverlaySpec{}, ErrInvalidProvider
	}
	if strings.TrimSpace(layerName) == "" {
		return OverlaySpec{}, ErrMissingLayerName
	}
	if strings.TrimSpace(routeID) == "" || strings.ContainsAny(routeID, `'"`) {
		return OverlaySpec{}, ErrInvalidFilterKey
	}
	return OverlaySpec{Provider: provider, LayerName: layerName, FilterKey: routeID}, nil
}

// CQLFilter is the server-side filter expression sent with every GetMap request.
func (s OverlaySpec) CQLFilter() string {
	if s.FilterKey == "" {
		return ""
	}
	return fmt.Sprintf("%s='%s'", routeFilterField, s.FilterKey)
}

// GetMapURL renders a WMS 1.1.1 GetMap request for the given viewport.
func (s OverlaySpec) GetMapURL(b geo.Bounds, width, height int) (string, error) {
	u, err := url.Parse(s.Provider)
	if err != nil {
		return "", fmt.Errorf("parse provider: %w", err)
	}
	if width <= 0 || height <= 0 {
		return "", fmt.Errorf("invalid image size %dx%d", width, height)
	}

	q := u.Query()
	q.Set("SERVICE", "WMS")
	q.Set("VERSION", "1.1.1")
	q.Set("REQUEST", "GetMap")
	q.Set("LAYERS", s.LayerName)
	q.Set("STYLES", "")
	q.Set("SRS", "EPSG:4269")
	q.Set("BBOX", b.String())
	q.Set("WIDTH", strconv.Itoa(width))
	q.Set("HEIGHT", strconv.Itoa(height))
	q.Set("FORMAT", "image/png")
	q.Set("TRANSPARENT", "true")
	if f := s.CQLFilter(); f != "" {
		q.Set("CQL_FILTER", f)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Matcher selects the layers a caller owns. Layers it rejects are left alone.
type Matcher func(OverlaySpec) bool

// CurrentRouteMatcher selects route overlays from provider/layerName regardless
// of which route they are filtered on.
func CurrentRouteMatcher(provider, layerName string) Matcher {
	return func(s OverlaySpec) bool {
		return s.Provider == provider && s.LayerName == layerName && s.FilterKey != ""
	}
}
