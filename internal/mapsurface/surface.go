// Package mapsurface models the map widget the route controller draws on.
//
// The controller only sees the Surface interface. Memory is the implementation
// the service uses: it keeps the layer set and viewport per session and the
// browser renders whatever Snapshot returns.
package mapsurface

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"routeview/core-go/internal/geo"
)

var (
	ErrLayerNotFound = errors.New("layer not found")
	ErrInvalidBounds = errors.New("invalid viewport bounds")
)

type LayerHandle string

type Surface interface {
	AddOverlayLayer(spec OverlaySpec) (LayerHandle, error)
	RemoveOverlayLayer(h LayerHandle) error
	// ForEachLayer visits attached layers in attach order until visit returns false.
	ForEachLayer(visit func(LayerHandle, OverlaySpec) bool)
	FitViewport(b geo.Bounds) error
}

type Layer struct {
	Handle LayerHandle `json:"handle"`
	Spec   OverlaySpec `json:"spec"`
}

type Snapshot struct {
	Layers   []Layer     `json:"layers"`
	Viewport *geo.Bounds `json:"viewport,omitempty"`
	// Fits counts viewport changes so clients can tell when to re-render.
	Fits int `json:"fits"`
}

type Memory struct {
	mu       sync.RWMutex
	layers   []Layer
	viewport *geo.Bounds
	fits     int
	newID    func() string
}

func NewMemory() *Memory {
	return &Memory{newID: func() string { return uuid.NewString() }}
}

func (m *Memory) AddOverlayLayer(spec OverlaySpec) (LayerHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := LayerHandle(m.newID())
	m.layers = append(m.layers, Layer{Handle: h, Spec: spec})
	return h, nil
}

func (m *Memory) RemoveOverlayLayer(h LayerHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, l := range m.layers {
		if l.Handle == h {
			m.layers = append(m.layers[:i:i], m.layers[i+1:]...)
			return nil
		}
	}
	return ErrLayerNotFound
}

// ForEachLayer iterates over a copy, so visit may add or remove layers.
func (m *Memory) ForEachLayer(visit func(LayerHandle, OverlaySpec) bool) {
	m.mu.RLock()
	layers := append([]Layer(nil), m.layers...)
	m.mu.RUnlock()

	for _, l := range layers {
		if !visit(l.Handle, l.Spec) {
			return
		}
	}
}

func (m *Memory) FitViewport(b geo.Bounds) error {
	if !b.Valid() {
		return ErrInvalidBounds
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.viewport = &b
	m.fits++
	return nil
}

func (m *Memory) Viewport() (geo.Bounds, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.viewport == nil {
		return geo.Bounds{}, false
	}
	return *m.viewport, true
}

func (m *Memory) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Snapshot{Layers: append([]Layer{}, m.layers...), Fits: m.fits}
	if m.viewport != nil {
		v := *m.viewport
		s.Viewport = &v
	}
	return s
}

// Matching returns the attached layers selected by match, in attach order.
// It only reads the surface, so callers may remove the result afterwards.
func Matching(s Surface, match Matcher) []Layer {
	var out []Layer
	s.ForEachLayer(func(h LayerHandle, spec OverlaySpec) bool {
		if match(spec) {
			out = append(out, Layer{Handle: h, Spec: spec})
		}
		return true
	})
	return out
}
