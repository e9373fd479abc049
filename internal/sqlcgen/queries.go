package sqlcgen

import (
	"context"
	"iter"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX matches the minimal interface needed from pgxpool.Pool or pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgx.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

const searchPlacesByPrefix = `-- name: SearchPlacesByPrefix :iter
SELECT p.gid::text,
       p.name,
       p.state,
       ST_Y(ST_Centroid(p.geom)),
       ST_X(ST_Centroid(p.geom)),
       ST_AsText(ST_Envelope(p.geom))
FROM places p
WHERE lower(p.name) LIKE lower($1) || '%'
ORDER BY p.name, p.state
LIMIT $2
`

type SearchPlacesByPrefixParams struct {
	Prefix string
	Limit  int32
}

// SearchPlacesByPrefix yields rows while the cursor is open. The query is not
// sent until the sequence is ranged over, and breaking early closes the rows.
func (q *Queries) SearchPlacesByPrefix(ctx context.Context, arg SearchPlacesByPrefixParams) iter.Seq2[Place, error] {
	return func(yield func(Place, error) bool) {
		rows, err := q.db.Query(ctx, searchPlacesByPrefix, arg.Prefix, arg.Limit)
		if err != nil {
			yield(Place{}, err)
			return
		}
		defer rows.Close()
		for rows.Next() {
			var i Place
			if err := rows.Scan(&i.Gid, &i.Name, &i.State, &i.Lat, &i.Lon, &i.Envelope); err != nil {
				yield(Place{}, err)
				return
			}
			if !yield(i, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(Place{}, err)
		}
	}
}
