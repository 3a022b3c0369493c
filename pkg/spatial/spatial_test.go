package spatial

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlpilot/sqlpilot/pkg/schema"
)

func TestExtractPlaceName(t *testing.T) {
	tests := []struct {
		question string
		expected string
	}{
		{"Show all farms in Nashik", "Nashik"},
		{"how many farms are inside Ramesh's farm?", "Ramesh's farm"},
		{"farms within Pimpalgaon Baswant village", "Pimpalgaon Baswant village"},
		{"farms within 10km of this point", ""},
		{"list every farm", ""},
	}

	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractPlaceName(tt.question))
		})
	}
}

func TestCleanPlace(t *testing.T) {
	tests := map[string]string{
		"Nashik?":                    "Nashik",
		"Ramesh's farm":              "Ramesh",
		"Green Valley Farm":          "Green Valley",
		"Pimpalgaon Baswant village": "Pimpalgaon Baswant",
		"  Pune City. ":              "Pune",
	}

	for input, expected := range tests {
		assert.Equal(t, expected, CleanPlace(input), input)
	}
}

func TestNormalizePlace(t *testing.T) {
	assert.Equal(t, "pimpalgaonbaswant", NormalizePlace(" Pimpalgaon-Baswant "))
}

func TestIsSafeIdentifier(t *testing.T) {
	assert.True(t, IsSafeIdentifier("main_farm"))
	assert.True(t, IsSafeIdentifier("_geom2"))
	assert.False(t, IsSafeIdentifier("farm; DROP"))
	assert.False(t, IsSafeIdentifier("2farm"))
	assert.False(t, IsSafeIdentifier(""))
}

func TestDescribeColumns(t *testing.T) {
	cols := []schema.GeometryColumn{{Table: "main_farm", Column: "polygon", Type: "geometry"}}
	assert.Equal(t, "Geometry columns found in the database:\n  - Table: 'main_farm', Column: 'polygon', Type: 'geometry'", DescribeColumns(cols, nil))
	assert.Equal(t, "No geometry columns found in this database.", DescribeColumns(nil, nil))
	assert.Contains(t, DescribeColumns(nil, errors.New("permission denied")), "permission denied")
}

func TestInstructions(t *testing.T) {
	point, err := Instructions(nil, "Point", "No geometry columns found in this database.")
	require.NoError(t, err)
	assert.Contains(t, point, "POINT geometry")
	assert.Contains(t, point, "ST_DWithin")
	assert.Contains(t, point, "'__GEOJSON__'")

	polygon, err := Instructions(nil, "MultiPolygon", "")
	require.NoError(t, err)
	assert.Contains(t, polygon, "The user provided a MultiPolygon geometry.")
	assert.Contains(t, polygon, "ST_Intersects")
}

func TestParseGeometry(t *testing.T) {
	g, err := ParseGeometry([]byte(`{"type":"Point","coordinates":[73.79,19.99]}`))
	require.NoError(t, err)
	assert.Equal(t, "Point", g.Type())

	g, err = ParseGeometry([]byte(`{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[]}}`))
	require.NoError(t, err)
	assert.Equal(t, "Polygon", g.Type())

	_, err = ParseGeometry([]byte(`{"coordinates":[1,2]}`))
	assert.Error(t, err)

	_, err = ParseGeometry([]byte(`not json`))
	assert.Error(t, err)

	encoded, err := Geometry{"type": "Point", "coordinates": []any{1.5, 2.0}}.JSON()
	require.NoError(t, err)
	assert.Equal(t, `{"coordinates":[1.5,2],"type":"Point"}`, encoded)
}

func TestLookupQueries(t *testing.T) {
	row := geometryColumnRow{Schema: "public", Table: "main_farm", Column: "polygon"}

	direct := directLookupQuery(row, "village")
	assert.Contains(t, direct, `SELECT ST_AsGeoJSON("polygon") FROM "public"."main_farm" WHERE`)
	assert.Contains(t, direct, `LOWER(TRIM(CAST("village" AS TEXT))) = LOWER(TRIM($1))`)
	assert.Contains(t, direct, "LIMIT 1")

	aggregate := aggregateLookupQuery(row, "village")
	assert.Contains(t, aggregate, `ST_UnaryUnion("polygon")`)
	assert.Contains(t, aggregate, `AND "polygon" IS NOT NULL`)
}

func TestPlaceNotFoundError(t *testing.T) {
	var err error = &PlaceNotFoundError{Place: "Atlantis"}
	assert.Equal(t, "geometry not found for 'Atlantis' in any table", err.Error())
}
