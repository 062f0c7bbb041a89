// -----------------------------------------------------------------------
// Website Fetcher - company site retrieval and markdown conversion
// -----------------------------------------------------------------------

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
)

// ErrUnsupportedContent is returned for non-HTML responses
var ErrUnsupportedContent = errors.New("unsupported content type")

// SiteContent is the grounding material extracted from a company website
type SiteContent struct {
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Markdown    string    `json:"markdown"`
	Links       []string  `json:"links,omitempty"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// FetcherOptions configures website retrieval
type FetcherOptions struct {
	Timeout   time.Duration
	UserAgent string
	MaxBytes  int64 // body bytes read (0 = 2MiB)
	MaxChars  int   // markdown characters kept (0 = unbounded)
}

// WebsiteFetcher downloads a single page and converts its main content to markdown
type WebsiteFetcher struct {
	client *http.Client
	opts   FetcherOptions
	logger arbor.ILogger
}

// NewWebsiteFetcher creates a fetcher with its own HTTP client
func NewWebsiteFetcher(opts FetcherOptions, logger arbor.ILogger) *WebsiteFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 2 * 1024 * 1024
	}
	return &WebsiteFetcher{
		client: &http.Client{Timeout: opts.Timeout},
		opts:   opts,
		logger: logger,
	}
}

// Fetch retrieves rawURL and extracts its title, description, links and markdown body.
// A URL without a scheme is treated as https.
func (f *WebsiteFetcher) Fetch(ctx context.Context, rawURL string) (*SiteContent, error) {
	target, err := normalizeURL(rawURL)
	if err != nil {
		return nil, err
	}

	startTime := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if f.opts.UserAgent != "" {
		req.Header.Set("User-Agent", f.opts.UserAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("failed to fetch %s: status %d", target, resp.StatusCode)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContent, ct)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", target, err)
	}

	content, err := f.process(string(body), resp.Request.URL.String())
	if err != nil {
		return nil, err
	}

	f.logger.Debug().
		Str("url", content.URL).
		Str("title", content.Title).
		Int("body_bytes", len(body)).
		Int("markdown_length", len(content.Markdown)).
		Int("links_found", len(content.Links)).
		Dur("duration", time.Since(startTime)).
		Msg("Website fetched")

	return content, nil
}

// process parses html and builds the SiteContent
func (f *WebsiteFetcher) process(html, sourceURL string) (*SiteContent, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	content := &SiteContent{
		URL:         sourceURL,
		Title:       extractTitle(doc),
		Description: extractDescription(doc),
		Links:       extractLinks(doc, sourceURL),
		FetchedAt:   time.Now().UTC(),
	}

	doc.Find("script, style, noscript, iframe, svg, nav, footer, aside, form").Remove()

	mainContent := doc.Find("main, article, [role='main'], #content, #main, .content").First()
	if mainContent.Length() == 0 {
		mainContent = doc.Find("body")
	}
	mainHTML, err := mainContent.Html()
	if err != nil {
		return nil, fmt.Errorf("failed to render content HTML: %w", err)
	}

	converter := md.NewConverter(sourceURL, true, nil)
	markdown, err := converter.ConvertString(mainHTML)
	if err != nil {
		return nil, fmt.Errorf("failed to convert HTML to markdown: %w", err)
	}

	markdown = cleanMarkdown(markdown)
	if f.opts.MaxChars > 0 && len(markdown) > f.opts.MaxChars {
		markdown = strings.TrimSpace(markdown[:f.opts.MaxChars])
	}
	content.Markdown = markdown

	return content, nil
}

func normalizeURL(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", fmt.Errorf("empty URL")
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid URL %q: unsupported scheme %s", rawURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid URL %q: missing host", rawURL)
	}
	return u.String(), nil
}

// extractTitle extracts the page title from various sources
func extractTitle(doc *goquery.Document) string {
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if ogTitle, exists := doc.Find("meta[property='og:title']").Attr("content"); exists && strings.TrimSpace(ogTitle) != "" {
		return strings.TrimSpace(ogTitle)
	}
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	return ""
}

func extractDescription(doc *goquery.Document) string {
	if description, exists := doc.Find("meta[name='description']").Attr("content"); exists && strings.TrimSpace(description) != "" {
		return strings.TrimSpace(description)
	}
	if ogDescription, exists := doc.Find("meta[property='og:description']").Attr("content"); exists {
		return strings.TrimSpace(ogDescription)
	}
	return ""
}

// extractLinks returns the page's distinct same-host links
func extractLinks(doc *goquery.Document, sourceURL string) []string {
	baseURL, err := url.Parse(sourceURL)
	if err != nil {
		return nil
	}

	var links []string
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return
		}
		resolved, err := baseURL.Parse(href)
		if err != nil || resolved.Host != baseURL.Host {
			return
		}
		resolved.Fragment = ""
		link := resolved.String()
		if !seen[link] {
			seen[link] = true
			links = append(links, link)
		}
	})
	return links
}

var blankLinesRegex = regexp.MustCompile(`\n{3,}`)

func cleanMarkdown(markdown string) string {
	markdown = blankLinesRegex.ReplaceAllString(markdown, "\n\n")
	return strings.TrimSpace(markdown)
}
