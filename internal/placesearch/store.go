package placesearch

import (
	"context"
	"iter"
	"strings"

	"routeview/core-go/internal/geo"
	"routeview/core-go/internal/sqlcgen"
)

const DefaultLimit = 10

// Queries is the subset of *sqlcgen.Queries the store needs.
type Queries interface {
	SearchPlacesByPrefix(ctx context.Context, arg sqlcgen.SearchPlacesByPrefixParams) iter.Seq2[sqlcgen.Place, error]
}

// Store answers place searches straight from the PostGIS places table.
type Store struct {
	q     Queries
	limit int32
}

func NewStore(q Queries, limit int) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Store{q: q, limit: int32(limit)}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *Store) SearchPlaces(ctx context.Context, partialName string) iter.Seq2[geo.Place, error] {
	prefix := likeEscaper.Replace(strings.TrimSpace(partialName))
	return func(yield func(geo.Place, error) bool) {
		if prefix == "" {
			return
		}
		for row, err := range s.q.SearchPlacesByPrefix(ctx, sqlcgen.SearchPlacesByPrefixParams{Prefix: prefix, Limit: s.limit}) {
			if err != nil {
				yield(geo.Place{}, err)
				return
			}
			if !yield(placeFromRow(row), nil) {
				return
			}
		}
	}
}

func placeFromRow(row sqlcgen.Place) geo.Place {
	p := geo.Place{ID: row.Gid, Name: row.Name}
	if row.State != nil {
		p.State = *row.State
	}
	if row.Lat != nil {
		p.Lat = *row.Lat
	}
	if row.Lon != nil {
		p.Lon = *row.Lon
	}
	if row.Envelope != nil {
		// Places without usable geometry still autocomplete; they just carry no bounds.
		if b, err := geo.ParseEnvelope(*row.Envelope); err == nil {
			p.Bounds = &b
		}
	}
	return p
}
