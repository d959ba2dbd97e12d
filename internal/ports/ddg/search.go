// Package ddg adapts DuckDuckGo's HTML search endpoint to the
// ports.WebSearcher contract.
package ddg

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/grogi/agent-server/internal/ports"
)

const defaultEndpoint = "https://html.duckduckgo.com/html/"

// Config holds searcher configuration.
type Config struct {
	Endpoint      string
	DefaultRegion string // e.g. "kr-kr"
	TimeRange     string // e.g. "d" for past day
	MaxResults    int
	Timeout       time.Duration
}

// Searcher queries DuckDuckGo and flattens results into grounding text.
type Searcher struct {
	cfg  Config
	http *http.Client
}

// New creates a searcher with sensible defaults for unset fields.
func New(cfg Config) *Searcher {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.DefaultRegion == "" {
		cfg.DefaultRegion = "kr-kr"
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Searcher{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

var (
	resultLinkRe    = regexp.MustCompile(`(?s)<a[^>]+class="result__a"[^>]+href="([^"]+)"[^>]*>(.*?)</a>`)
	resultSnippetRe = regexp.MustCompile(`(?s)<a[^>]+class="result__snippet"[^>]*>(.*?)</a>`)
	tagRe           = regexp.MustCompile(`<[^>]+>`)
)

// Search implements ports.WebSearcher.
func (s *Searcher) Search(ctx context.Context, query, region string) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", ports.ErrNoResults
	}
	if region == "" {
		region = s.cfg.DefaultRegion
	}

	form := url.Values{}
	form.Set("q", query)
	form.Set("kl", region)
	if s.cfg.TimeRange != "" {
		form.Set("df", s.cfg.TimeRange)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("ddg: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "grogi-agent/1.0")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("ddg: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ddg: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return "", fmt.Errorf("ddg: failed to read response: %w", err)
	}

	results := parseResults(string(body), s.cfg.MaxResults)
	if len(results) == 0 {
		return "", ports.ErrNoResults
	}
	return strings.Join(results, "\n"), nil
}

// parseResults extracts up to max "title — snippet (url)" lines from the
// HTML results page.
func parseResults(page string, max int) []string {
	links := resultLinkRe.FindAllStringSubmatch(page, max)
	snippets := resultSnippetRe.FindAllStringSubmatch(page, max)

	var out []string
	for i, link := range links {
		title := cleanText(link[2])
		href := html.UnescapeString(link[1])
		line := title
		if i < len(snippets) {
			if sn := cleanText(snippets[i][1]); sn != "" {
				line += " — " + sn
			}
		}
		line += " (" + href + ")"
		out = append(out, line)
	}
	return out
}

func cleanText(fragment string) string {
	text := tagRe.ReplaceAllString(fragment, "")
	return strings.TrimSpace(html.UnescapeString(text))
}
