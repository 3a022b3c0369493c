// Package websearch answers general-knowledge questions with snippets from
// the DuckDuckGo HTML endpoint.
package websearch

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"

	"github.com/sqlpilot/sqlpilot/pkg/logger"
	"github.com/sqlpilot/sqlpilot/pkg/version"
)

const (
	// DefaultEndpoint is the JavaScript-free DuckDuckGo search page
	DefaultEndpoint   = "https://html.duckduckgo.com/html/"
	defaultMaxResults = 5
	defaultTimeout    = 15 * time.Second
)

// ErrNoResults is returned when the page holds no result snippets
var ErrNoResults = errors.New("no search results")

// Searcher runs a web search and returns the result text
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// Config controls the DuckDuckGo searcher
type Config struct {
	Enabled    bool   `mapstructure:"enabled"`
	Endpoint   string `mapstructure:"endpoint"`
	MaxResults int    `mapstructure:"max_results"`
}

// DuckDuckGo scrapes result snippets from the HTML search page
type DuckDuckGo struct {
	endpoint   string
	maxResults int
	client     *http.Client
	converter  *md.Converter
}

// New creates a DuckDuckGo searcher. A nil client uses a client with a 15s timeout.
func New(config Config, client *http.Client) *DuckDuckGo {
	if config.Endpoint == "" {
		config.Endpoint = DefaultEndpoint
	}
	if config.MaxResults <= 0 {
		config.MaxResults = defaultMaxResults
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &DuckDuckGo{
		endpoint:   config.Endpoint,
		maxResults: config.MaxResults,
		client:     client,
		converter:  md.NewConverter("", true, nil),
	}
}

// Search returns the first snippets for query joined by spaces
func (d *DuckDuckGo) Search(ctx context.Context, query string) (string, error) {
	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.Wrap(err, "failed to build search request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := d.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "search request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errors.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "failed to parse search results")
	}

	var snippets []string
	doc.Find(".result__snippet").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if text := d.snippetText(ctx, s); text != "" {
			snippets = append(snippets, text)
		}
		return len(snippets) < d.maxResults
	})
	if len(snippets) == 0 {
		return "", ErrNoResults
	}

	logger.G(ctx).WithField("results", len(snippets)).Debug("web search completed")
	return strings.Join(snippets, " "), nil
}

func (d *DuckDuckGo) snippetText(ctx context.Context, s *goquery.Selection) string {
	html, err := s.Html()
	if err != nil {
		return strings.TrimSpace(s.Text())
	}
	markdown, err := d.converter.ConvertString(html)
	if err != nil {
		logger.G(ctx).WithError(err).Debug("failed to convert snippet, using plain text")
		return strings.TrimSpace(s.Text())
	}
	return strings.Join(strings.Fields(markdown), " ")
}
