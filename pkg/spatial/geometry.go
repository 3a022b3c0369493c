// Package spatial handles GeoJSON geometry supplied with a question: the
// prompt instructions for it, geometry column discovery and resolving a
// place name to a stored geometry.
package spatial

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/sqlpilot/sqlpilot/pkg/prompts"
	"github.com/sqlpilot/sqlpilot/pkg/sanitize"
	"github.com/sqlpilot/sqlpilot/pkg/schema"
)

// Geometry is a decoded GeoJSON geometry object
type Geometry map[string]any

// Type returns the GeoJSON type, or "Geometry" when absent
func (g Geometry) Type() string {
	if t, ok := g["type"].(string); ok && t != "" {
		return t
	}
	return "Geometry"
}

// JSON encodes the geometry for embedding into SQL
func (g Geometry) JSON() (string, error) {
	b, err := json.Marshal(map[string]any(g))
	if err != nil {
		return "", errors.Wrap(err, "failed to encode geometry")
	}
	return string(b), nil
}

// ParseGeometry decodes a GeoJSON geometry. A Feature is unwrapped to its geometry.
func ParseGeometry(data []byte) (Geometry, error) {
	var g Geometry
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, errors.Wrap(err, "invalid GeoJSON")
	}
	if g.Type() == "Feature" {
		inner, ok := g["geometry"].(map[string]any)
		if !ok {
			return nil, errors.New("GeoJSON feature has no geometry")
		}
		g = Geometry(inner)
	}
	if _, ok := g["type"].(string); !ok {
		return nil, errors.New("GeoJSON geometry has no type")
	}
	return g, nil
}

// DescribeColumns renders discovered geometry columns for the prompt. A
// discovery error yields a note telling the model to rely on the schema.
func DescribeColumns(columns []schema.GeometryColumn, err error) string {
	if err != nil {
		return fmt.Sprintf("Geometry columns could not be discovered (%s). Identify the geometry column from the table schema.", err)
	}
	if len(columns) == 0 {
		return "No geometry columns found in this database."
	}

	lines := []string{"Geometry columns found in the database:"}
	for _, col := range columns {
		lines = append(lines, fmt.Sprintf("  - Table: '%s', Column: '%s', Type: '%s'", col.Table, col.Column, col.Type))
	}
	return strings.Join(lines, "\n")
}

// Instructions renders the text appended to a spatial question. Points get a
// ST_DWithin radius search, every other type ST_Intersects.
func Instructions(renderer *prompts.Renderer, geometryType, geometryColumns string) (string, error) {
	if renderer == nil {
		renderer = prompts.Default()
	}
	pctx := prompts.NewPromptContext()
	pctx.GeometryType = geometryType
	pctx.GeometryColumns = geometryColumns
	pctx.Placeholder = sanitize.GeometryPlaceholder

	name := prompts.SpatialAreaTemplate
	if geometryType == "Point" {
		name = prompts.SpatialPointTemplate
	}
	return renderer.RenderPrompt(name, pctx)
}

// ColumnLister is the part of schema.Catalog used for discovery
type ColumnLister interface {
	GeometryColumns(ctx context.Context) ([]schema.GeometryColumn, error)
}
