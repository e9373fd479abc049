package httpapi

import (
	"errors"
	"net/url"
	"strconv"
	"strings"

	"routeview/core-go/internal/geo"
	"routeview/core-go/internal/mapsurface"
	"routeview/core-go/internal/session"
)

const (
	defaultImageWidth  = 1024
	defaultImageHeight = 768
	maxImageSide       = 4096
)

type sessionState struct {
	ID      string     `json:"id"`
	Start   *geo.Place `json:"start,omitempty"`
	End     *geo.Place `json:"end,omitempty"`
	Route   *geo.Route `json:"route,omitempty"`
	Pending bool       `json:"pending"`
	Map     mapState   `json:"map"`
}

type mapState struct {
	Layers   []mapLayer  `json:"layers"`
	Viewport *geo.Bounds `json:"viewport,omitempty"`
	Fits     int         `json:"fits"`
}

type mapLayer struct {
	Handle    string `json:"handle"`
	Provider  string `json:"provider"`
	LayerName string `json:"layer_name"`
	FilterKey string `json:"filter_key,omitempty"`
	// GetMapURL is only set once the surface has a viewport to render.
	GetMapURL string `json:"get_map_url,omitempty"`
}

func newSessionState(s *session.Session, width, height int) sessionState {
	st := s.Controller.State()
	return sessionState{
		ID:      s.ID,
		Start:   st.Start,
		End:     st.End,
		Route:   st.Route,
		Pending: st.Pending,
		Map:     newMapState(s.Surface.Snapshot(), width, height),
	}
}

func newMapState(snap mapsurface.Snapshot, width, height int) mapState {
	out := mapState{Layers: make([]mapLayer, 0, len(snap.Layers)), Viewport: snap.Viewport, Fits: snap.Fits}
	for _, l := range snap.Layers {
		ml := mapLayer{
			Handle:    string(l.Handle),
			Provider:  l.Spec.Provider,
			LayerName: l.Spec.LayerName,
			FilterKey: l.Spec.FilterKey,
		}
		if snap.Viewport != nil {
			if u, err := l.Spec.GetMapURL(*snap.Viewport, width, height); err == nil {
				ml.GetMapURL = u
			}
		}
		out.Layers = append(out.Layers, ml)
	}
	return out
}

func parseImageSize(q url.Values) (int, int, error) {
	width, err := parseSideParam(q.Get("width"), defaultImageWidth)
	if err != nil {
		return 0, 0, errors.New("width: " + err.Error())
	}
	height, err := parseSideParam(q.Get("height"), defaultImageHeight)
	if err != nil {
		return 0, 0, errors.New("height: " + err.Error())
	}
	return width, height, nil
}

func parseSideParam(value string, fallback int) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.New("invalid value")
	}
	if parsed <= 0 {
		return 0, errors.New("must be positive")
	}
	if parsed > maxImageSide {
		parsed = maxImageSide
	}
	return parsed, nil
}
