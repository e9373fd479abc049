// Package geo holds the place, route and bounds types shared by the
// controller and its collaborators.
package geo

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
)

// Bounds is an axis-aligned rectangle used for route extents and viewport fitting.
type Bounds struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Valid reports whether all corners are finite and min <= max on both axes.
func (b Bounds) Valid() bool {
	if !finite(b.MinX) || !finite(b.MinY) || !finite(b.MaxX) || !finite(b.MaxY) {
		return false
	}
	return b.MinX <= b.MaxX && b.MinY <= b.MaxY
}

func (b Bounds) Orb() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.MinX, b.MinY},
		Max: orb.Point{b.MaxX, b.MaxY},
	}
}

func BoundsFromOrb(b orb.Bound) Bounds {
	return Bounds{MinX: b.Min.X(), MinY: b.Min.Y(), MaxX: b.Max.X(), MaxY: b.Max.Y()}
}

// Union returns the smallest bounds covering both b and other.
func (b Bounds) Union(other Bounds) Bounds {
	return BoundsFromOrb(b.Orb().Union(other.Orb()))
}

func (b Bounds) String() string {
	return fmt.Sprintf("%g,%g,%g,%g", b.MinX, b.MinY, b.MaxX, b.MaxY)
}

var ErrEmptyEnvelope = errors.New("empty envelope")

// ParseEnvelope reads the WKT produced by PostGIS ST_AsText(ST_Envelope(geom)).
// Degenerate envelopes come back as POINT or LINESTRING, which are accepted too.
func ParseEnvelope(s string) (Bounds, error) {
	g, err := wkt.Unmarshal(s)
	if err != nil {
		return Bounds{}, fmt.Errorf("parse envelope: %w", err)
	}
	switch v := g.(type) {
	case nil:
		return Bounds{}, ErrEmptyEnvelope
	case orb.Polygon:
		if len(v) == 0 || len(v[0]) == 0 {
			return Bounds{}, ErrEmptyEnvelope
		}
	case orb.LineString:
		if len(v) == 0 {
			return Bounds{}, ErrEmptyEnvelope
		}
	case orb.Point:
	default:
		return Bounds{}, fmt.Errorf("parse envelope: unexpected geometry %s", g.GeoJSONType())
	}
	return BoundsFromOrb(g.Bound()), nil
}

// Place is a search result from the place-search service.
type Place struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	State  string  `json:"state,omitempty"`
	Lat    float64 `json:"lat,omitempty"`
	Lon    float64 `json:"lon,omitempty"`
	Bounds *Bounds `json:"bounds,omitempty"`
}

// Label renders "Name, State" the way the autocomplete list shows it.
func (p Place) Label() string {
	if p.State == "" {
		return p.Name
	}
	return p.Name + ", " + p.State
}

type Distance struct {
	Value string `json:"val"`
	Unit  string `json:"unit"`
}

const (
	metersPerMile    = 1610
	milesPerMeter    = 0.000621371
	feetPerMeter     = 3.2808388799999997
	DistanceUnitMile = "miles"
	DistanceUnitFeet = "feet"
)

// FormatDistance switches to miles once the distance reaches one mile.
func FormatDistance(meters float64) Distance {
	if meters >= metersPerMile {
		return Distance{Value: fmt.Sprintf("%.2f", meters*milesPerMeter), Unit: DistanceUnitMile}
	}
	return Distance{Value: fmt.Sprintf("%.2f", meters*feetPerMeter), Unit: DistanceUnitFeet}
}

// Step is one segment of a computed route. It is owned by its Route.
type Step struct {
	Bounds   Bounds   `json:"bounds"`
	Name     string   `json:"name"`
	Lat      float64  `json:"lat"`
	Lon      float64  `json:"lon"`
	Distance Distance `json:"distance"`
	StepIDs  []int    `json:"step_ids,omitempty"`
}

// Route is the result of a successful route computation. A new Route always
// replaces the previous one in full.
type Route struct {
	ID     string `json:"route_id"`
	Bounds Bounds `json:"bounds"`
	Steps  []Step `json:"steps"`
}

// Clone returns a deep copy so callers never share step slices with the holder.
func (r Route) Clone() Route {
	out := Route{ID: r.ID, Bounds: r.Bounds}
	if r.Steps != nil {
		out.Steps = make([]Step, len(r.Steps))
		for i, s := range r.Steps {
			out.Steps[i] = s
			if s.StepIDs != nil {
				out.Steps[i].StepIDs = append([]int(nil), s.StepIDs...)
			}
		}
	}
	return out
}

// StepBounds returns the union of the step bounds, or false when no step has valid bounds.
func StepBounds(steps []Step) (Bounds, bool) {
	var out Bounds
	found := false
	for _, s := range steps {
		if !s.Bounds.Valid() {
			continue
		}
		if !found {
			out = s.Bounds
			found = true
			continue
		}
		out = out.Union(s.Bounds)
	}
	return out, found
}

// FlexibleID accepts identifiers encoded either as JSON strings or numbers.
// The backend emits serial gids as numbers and route ids as strings.
type FlexibleID string

func (id *FlexibleID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("identifier must be a string or number: %w", err)
	}
	*id = FlexibleID(n.String())
	return nil
}
