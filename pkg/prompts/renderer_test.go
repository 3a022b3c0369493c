package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderer(t *testing.T) {
	renderer := NewRenderer(TemplateFS)

	t.Run("Template caching", func(t *testing.T) {
		require.NoError(t, renderer.parseErr)
		for _, name := range []string{
			IntentTemplate, TableSelectionTemplate, SQLGenerationTemplate, SQLRepairTemplate,
			CasualTemplate, SarcasticTemplate, SearchSummaryTemplate, SearchQuestionTemplate,
			SpatialPointTemplate, SpatialAreaTemplate,
		} {
			assert.NotNil(t, renderer.templates.Lookup(name), "expected %s to be pre-parsed", name)
		}
	})

	t.Run("Unknown template", func(t *testing.T) {
		_, err := renderer.RenderPrompt("templates/missing.tmpl", NewPromptContext())
		assert.Error(t, err)
	})
}

func TestRenderIntent(t *testing.T) {
	ctx := NewPromptContext()
	ctx.DBDescription = "retail bank"
	ctx.DomainDescription = "A financial services database"
	ctx.ConversationContext = "User: hello"

	prompt, err := Default().RenderPrompt(IntentTemplate, ctx)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(prompt, "You are an Intent Classification Engine for a retail bank."))
	assert.Contains(t, prompt, "DATABASE DESCRIPTION:\nA financial services database")
	assert.True(t, strings.HasSuffix(prompt, "Conversation context: User: hello"))
}

func TestRenderSQLGeneration(t *testing.T) {
	ctx := NewPromptContext()
	ctx.Schema = "\nTable: crm_customer\n  - id: integer"
	ctx.SelectedTables = "crm_customer, tasks"

	prompt, err := Default().RenderPrompt(SQLGenerationTemplate, ctx)
	require.NoError(t, err)

	assert.Contains(t, prompt, "Schema: \nTable: crm_customer\n  - id: integer")
	assert.Contains(t, prompt, "USE ONLY THESE TABLES:\ncrm_customer, tasks")
	assert.Contains(t, prompt, "- SAVEPOINT - Creates savepoints")
	assert.Contains(t, prompt, ReadOnlyRefusal)
	assert.True(t, strings.HasSuffix(prompt, "Return ONLY the SQL query without explanations."))
}

func TestRenderSpatial(t *testing.T) {
	ctx := NewPromptContext()
	ctx.GeometryColumns = "No geometry columns found in this database."
	ctx.Placeholder = "__GEOJSON__"

	t.Run("point", func(t *testing.T) {
		prompt, err := Default().RenderPrompt(SpatialPointTemplate, ctx)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(prompt, "\n\n[SPATIAL CONTEXT - CRITICAL] The user provided a POINT geometry."))
		assert.Contains(t, prompt, "10km = 10000")
		assert.Contains(t, prompt, "ST_DWithin(<geom_col>, ST_SetSRID(ST_GeomFromGeoJSON('__GEOJSON__'), 4326), <radius>);")
	})

	t.Run("polygon", func(t *testing.T) {
		ctx.GeometryType = "Polygon"
		prompt, err := Default().RenderPrompt(SpatialAreaTemplate, ctx)
		require.NoError(t, err)
		assert.Contains(t, prompt, "The user provided a Polygon geometry.")
		assert.Contains(t, prompt, "EPSG:4326")
		assert.NotContains(t, prompt, "ST_DWithin")
	})
}

func TestTemplateOverride(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "casual.tmpl"), []byte("Be brief."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	overrides, err := LoadOverrides(dir)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{CasualTemplate: "Be brief."}, overrides)

	renderer := NewRendererWithTemplateOverride(TemplateFS, overrides)
	prompt, err := renderer.RenderPrompt(CasualTemplate, NewPromptContext())
	require.NoError(t, err)
	assert.Equal(t, "Be brief.", prompt)

	none, err := LoadOverrides("")
	require.NoError(t, err)
	assert.Nil(t, none)
}
