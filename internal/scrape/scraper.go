// Package scrape enriches document links with page content. A hosted
// scraping API is the primary backend; a plain HTML fetcher takes over when
// the primary is unavailable or unconfigured.
package scrape

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/serviceintel-ai/docpipe/internal/config"
	"github.com/serviceintel-ai/docpipe/internal/domain"
	"github.com/serviceintel-ai/docpipe/internal/observability"
)

// Result is the outcome of scraping one URL.
type Result struct {
	URL         string
	Content     string
	ContentHash string
	Title       string
	Backend     string
	Metadata    map[string]interface{}
}

// Scraper fetches page content for link enrichment.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*Result, error)
}

// Service tries the primary backend first and falls over to the fallback.
type Service struct {
	primary  Scraper
	fallback Scraper
	logger   *observability.Logger
}

// NewService wires the configured backends. Without a primary URL only the
// fallback runs.
func NewService(cfg config.ScrapeConfig, logger *observability.Logger) *Service {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var primary Scraper
	if cfg.PrimaryURL != "" {
		primary = &firecrawlBackend{
			baseURL: cfg.PrimaryURL,
			apiKey:  cfg.PrimaryKey,
			http:    &http.Client{Timeout: timeout},
		}
	}
	return &Service{
		primary:  primary,
		fallback: &soupBackend{http: &http.Client{Timeout: timeout}},
		logger:   logger,
	}
}

// Scrape fetches a URL, preferring the primary backend. Transient primary
// failures trigger the fallback; the result records which backend produced
// the content.
func (s *Service) Scrape(ctx context.Context, url string) (*Result, error) {
	if s.primary != nil {
		res, err := s.primary.Scrape(ctx, url)
		if err == nil {
			return res, nil
		}
		if domain.CategoryOf(err) != domain.CategoryTransient {
			return nil, err
		}
		s.logger.Warn().Err(err).Str("url", url).Msg("primary scrape backend failed, using fallback")
	}
	return s.fallback.Scrape(ctx, url)
}

// firecrawlBackend calls a hosted scrape API that returns markdown.
type firecrawlBackend struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

type firecrawlRequest struct {
	URL     string   `json:"url"`
	Formats []string `json:"formats"`
}

type firecrawlResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Markdown string `json:"markdown"`
		Metadata struct {
			Title string `json:"title"`
		} `json:"metadata"`
	} `json:"data"`
	Error string `json:"error,omitempty"`
}

func (b *firecrawlBackend) Scrape(ctx context.Context, url string) (*Result, error) {
	body, err := json.Marshal(firecrawlRequest{URL: url, Formats: []string{"markdown"}})
	if err != nil {
		return nil, fmt.Errorf("marshal scrape request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/scrape", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build scrape request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, domain.Transient("scrape request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, domain.Transient(fmt.Sprintf("scrape service returned %d", resp.StatusCode), nil)
	default:
		return nil, domain.Permanent(fmt.Sprintf("scrape service returned %d", resp.StatusCode), nil)
	}

	var parsed firecrawlResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, domain.Transient("decode scrape response", err)
	}
	if !parsed.Success {
		return nil, domain.Transient("scrape service error: "+parsed.Error, nil)
	}

	return newResult(url, parsed.Data.Markdown, parsed.Data.Metadata.Title, "firecrawl"), nil
}

// soupBackend fetches raw HTML and strips it down to text.
type soupBackend struct {
	http *http.Client
}

var (
	titleRe  = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	dropRe   = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>|<style[^>]*>.*?</style>|<noscript[^>]*>.*?</noscript>|<head[^>]*>.*?</head>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]+>`)
	spacesRe = regexp.MustCompile(`[ \t]+`)
	linesRe  = regexp.MustCompile(`\n{3,}`)
)

func (b *soupBackend) Scrape(ctx context.Context, url string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.Input("build fetch request", err)
	}
	req.Header.Set("User-Agent", "docpipe/1.0")

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, domain.Transient("fetch url", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			return nil, domain.Permanent(fmt.Sprintf("url returned %d", resp.StatusCode), nil)
		}
		return nil, domain.Transient(fmt.Sprintf("url returned %d", resp.StatusCode), nil)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, domain.Transient("read url body", err)
	}

	html := string(raw)
	title := ""
	if m := titleRe.FindStringSubmatch(html); m != nil {
		title = strings.TrimSpace(m[1])
	}

	text := StripHTML(html)
	return newResult(url, text, title, "beautifulsoup"), nil
}

// StripHTML reduces an HTML page to readable text.
func StripHTML(html string) string {
	text := dropRe.ReplaceAllString(html, " ")
	text = strings.NewReplacer("<br>", "\n", "<br/>", "\n", "</p>", "\n\n", "</div>", "\n").Replace(text)
	text = tagRe.ReplaceAllString(text, " ")
	text = strings.NewReplacer("&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'").Replace(text)
	text = spacesRe.ReplaceAllString(text, " ")

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		lines = append(lines, strings.TrimSpace(line))
	}
	text = strings.Join(lines, "\n")
	text = linesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func newResult(url, content, title, backend string) *Result {
	sum := sha256.Sum256([]byte(content))
	return &Result{
		URL:         url,
		Content:     content,
		ContentHash: hex.EncodeToString(sum[:]),
		Title:       title,
		Backend:     backend,
		Metadata: map[string]interface{}{
			"backend": backend,
			"title":   title,
			"length":  len(content),
		},
	}
}

// Mock is a canned scraper for tests.
type Mock struct {
	Result *Result
	Err    error
	Calls  int
}

// Scrape returns the canned result.
func (m *Mock) Scrape(_ context.Context, url string) (*Result, error) {
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Result != nil {
		return m.Result, nil
	}
	return newResult(url, "mock content", "mock title", "mock"), nil
}
