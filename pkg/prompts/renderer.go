package prompts

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"text/template"

	"github.com/pkg/errors"
)

// Renderer renders the pipeline prompts from embedded templates.
type Renderer struct {
	templates *template.Template
	parseErr  error
}

var defaultRenderer = NewRenderer(TemplateFS)

// Default returns the renderer built from the embedded templates.
func Default() *Renderer {
	return defaultRenderer
}

// NewRenderer creates a new template renderer
func NewRenderer(fs fs.FS) *Renderer {
	renderer := &Renderer{}
	renderer.templates, renderer.parseErr = parseTemplates(fs, nil)
	return renderer
}

// NewRendererWithTemplateOverride creates a renderer with custom template overrides.
// Overrides are keyed by template path (e.g., templates/intent.tmpl).
func NewRendererWithTemplateOverride(fs fs.FS, overrides map[string]string) *Renderer {
	renderer := &Renderer{}
	renderer.templates, renderer.parseErr = parseTemplates(fs, overrides)
	return renderer
}

// LoadOverrides reads every *.tmpl file in dir and keys it by its embedded
// template path, so templates/sql_generation.tmpl can be replaced by
// <dir>/sql_generation.tmpl. An empty dir yields no overrides.
func LoadOverrides(dir string) (map[string]string, error) {
	if dir == "" {
		return nil, nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.tmpl"))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list prompt overrides in %s", dir)
	}

	overrides := make(map[string]string, len(matches))
	for _, match := range matches {
		content, err := os.ReadFile(match)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read prompt override %s", match)
		}
		overrides["templates/"+filepath.Base(match)] = string(content)
	}
	return overrides, nil
}

// RenderPrompt renders a named template with the provided context.
// Trailing newlines are dropped; leading whitespace is preserved.
func (r *Renderer) RenderPrompt(name string, ctx *PromptContext) (string, error) {
	if r.parseErr != nil {
		return "", errors.Wrap(r.parseErr, "failed to initialize templates")
	}

	if r.templates.Lookup(name) == nil {
		return "", errors.Errorf("template %s not found", name)
	}

	var buf strings.Builder
	if err := r.templates.ExecuteTemplate(&buf, name, ctx); err != nil {
		return "", errors.Wrapf(err, "failed to execute template %s", name)
	}

	return strings.TrimRight(buf.String(), "\n"), nil
}

func parseTemplates(templateFS fs.FS, overrides map[string]string) (*template.Template, error) {
	templatePaths, err := collectTemplatePaths(templateFS, "templates")
	if err != nil {
		return nil, errors.Wrap(err, "failed to collect template paths")
	}

	templates := template.New("templates")

	for _, path := range templatePaths {
		content := ""
		if override, ok := overrides[path]; ok {
			content = override
		} else {
			bytes, err := fs.ReadFile(templateFS, path)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to read template file %s", path)
			}
			content = string(bytes)
		}

		if _, err := templates.New(path).Parse(content); err != nil {
			return nil, errors.Wrapf(err, "failed to parse template %s", path)
		}
	}

	for path, content := range overrides {
		if slices.Contains(templatePaths, path) {
			continue
		}

		if _, err := templates.New(path).Parse(content); err != nil {
			return nil, errors.Wrapf(err, "failed to parse override template %s", path)
		}
	}

	return templates, nil
}

func collectTemplatePaths(templateFS fs.FS, dir string) ([]string, error) {
	if _, err := fs.Stat(templateFS, dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var paths []string
	err := fs.WalkDir(templateFS, dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".tmpl") {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(paths)
	return paths, nil
}
