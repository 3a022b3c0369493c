package spatial

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/sqlpilot/sqlpilot/pkg/logger"
)

// ErrNoGeometryColumns is returned when the database has no spatial columns
var ErrNoGeometryColumns = errors.New("no geometry columns found in database")

// PlaceNotFoundError is returned when no table holds a geometry for the place
type PlaceNotFoundError struct {
	Place string
}

func (e *PlaceNotFoundError) Error() string {
	return fmt.Sprintf("geometry not found for '%s' in any table", e.Place)
}

const geometryColumnsQuery = `
SELECT c.table_schema, c.table_name, c.column_name
FROM information_schema.columns c
WHERE c.table_schema NOT IN ('information_schema', 'pg_catalog')
  AND (
    c.udt_name IN ('geometry', 'geography')
    OR (c.data_type = 'USER-DEFINED' AND c.udt_name ILIKE '%geom%')
  )
ORDER BY c.table_schema, c.table_name`

const textColumnsQuery = `
SELECT column_name
FROM information_schema.columns
WHERE table_schema = $1
  AND table_name = $2
  AND data_type IN ('character varying', 'text', 'character', 'varchar')
ORDER BY ordinal_position`

type geometryColumnRow struct {
	Schema string `db:"table_schema"`
	Table  string `db:"table_name"`
	Column string `db:"column_name"`
}

// GeometryResolver looks a place name up in any PostGIS table that pairs a
// text column with a geometry column.
type GeometryResolver struct {
	db sqlx.QueryerContext
}

// NewGeometryResolver creates a resolver over a PostGIS connection
func NewGeometryResolver(db sqlx.QueryerContext) *GeometryResolver {
	return &GeometryResolver{db: db}
}

// Resolve returns the geometry stored for place. Each text column of each
// geometry table is tried with a direct single-row match first and then a
// union of every matching polygon.
func (r *GeometryResolver) Resolve(ctx context.Context, place string) (Geometry, error) {
	log := logger.G(ctx)
	place = CleanPlace(place)
	normalized := NormalizePlace(place)

	var tables []geometryColumnRow
	if err := sqlx.SelectContext(ctx, r.db, &tables, geometryColumnsQuery); err != nil {
		return nil, errors.Wrap(err, "failed to list geometry columns")
	}
	if len(tables) == 0 {
		return nil, ErrNoGeometryColumns
	}

	args := []any{place, normalized, "%" + place + "%"}
	for _, t := range tables {
		if !IsSafeIdentifier(t.Schema) || !IsSafeIdentifier(t.Table) || !IsSafeIdentifier(t.Column) {
			log.WithField("table", t.Schema+"."+t.Table).Debug("skipping table with unsafe identifier")
			continue
		}

		var textColumns []string
		if err := sqlx.SelectContext(ctx, r.db, &textColumns, textColumnsQuery, t.Schema, t.Table); err != nil {
			log.WithError(err).WithField("table", t.Table).Debug("failed to list text columns")
			continue
		}

		for _, nameCol := range textColumns {
			if !IsSafeIdentifier(nameCol) {
				continue
			}

			geometry, err := r.lookup(ctx, directLookupQuery(t, nameCol), args)
			if err != nil {
				log.WithError(err).WithField("column", nameCol).Debug("direct place lookup failed")
				continue
			}
			if geometry != nil {
				return geometry, nil
			}

			geometry, err = r.lookup(ctx, aggregateLookupQuery(t, nameCol), args)
			if err != nil {
				log.WithError(err).WithField("column", nameCol).Debug("aggregate place lookup failed")
				continue
			}
			if typ := geometry.Type(); geometry != nil && (typ == "Polygon" || typ == "MultiPolygon") {
				return geometry, nil
			}
		}
	}

	return nil, &PlaceNotFoundError{Place: place}
}

func (r *GeometryResolver) lookup(ctx context.Context, query string, args []any) (Geometry, error) {
	var raw sql.NullString
	if err := sqlx.GetContext(ctx, r.db, &raw, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}

	var g Geometry
	if err := json.Unmarshal([]byte(raw.String), &g); err != nil {
		return nil, errors.Wrap(err, "invalid geometry returned by database")
	}
	return g, nil
}

func placeMatch(nameCol string) string {
	return fmt.Sprintf(`LOWER(TRIM(CAST("%[1]s" AS TEXT))) = LOWER(TRIM($1)) `+
		`OR LOWER(REGEXP_REPLACE(TRIM(CAST("%[1]s" AS TEXT)), '[^a-zA-Z0-9]', '', 'g')) = $2 `+
		`OR LOWER(CAST("%[1]s" AS TEXT)) ILIKE $3`, nameCol)
}

func directLookupQuery(t geometryColumnRow, nameCol string) string {
	return fmt.Sprintf(`SELECT ST_AsGeoJSON("%s") FROM "%s"."%s" WHERE %s LIMIT 1`,
		t.Column, t.Schema, t.Table, placeMatch(nameCol))
}

func aggregateLookupQuery(t geometryColumnRow, nameCol string) string {
	return fmt.Sprintf(`SELECT ST_AsGeoJSON(ST_UnaryUnion("%s")) FROM "%s"."%s" WHERE (%s) AND "%s" IS NOT NULL`,
		t.Column, t.Schema, t.Table, placeMatch(nameCol), t.Column)
}
