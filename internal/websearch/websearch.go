// Package websearch fetches short text snippets from the DuckDuckGo HTML
// endpoint. No API key is needed.
package websearch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	DefaultEndpoint   = "https://html.duckduckgo.com/html/"
	DefaultMaxResults = 3

	// NoResults is the observation returned when the page has no snippets.
	NoResults = "No results found on the web."

	userAgent    = "Mozilla/5.0 (compatible; datalens/1.0)"
	maxPageBytes = 2 << 20
)

// Client queries DuckDuckGo.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint points the client at another results page, e.g. a test server.
func WithEndpoint(u string) Option {
	return func(c *Client) { c.endpoint = u }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a Client whose requests are bounded by timeout.
func New(timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		endpoint:   DefaultEndpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Search returns up to max result snippets for query. max <= 0 means
// DefaultMaxResults. An empty slice with a nil error means the page had no
// results.
func (c *Client) Search(ctx context.Context, query string, max int) ([]string, error) {
	if max <= 0 {
		max = DefaultMaxResults
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty search query")
	}

	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("web search: unexpected status %d", resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("parsing search results: %w", err)
	}

	snippets := Snippets(doc, max)
	slog.Debug("web search", "query", query, "results", len(snippets), "elapsed", time.Since(start))
	return snippets, nil
}

// Text runs Search and joins the snippets into a single observation.
func (c *Client) Text(ctx context.Context, query string, max int) (string, error) {
	snippets, err := c.Search(ctx, query, max)
	if err != nil {
		return "", err
	}
	if len(snippets) == 0 {
		return NoResults, nil
	}
	return strings.Join(snippets, "\n"), nil
}

// Snippets collects the text of up to max elements carrying the
// result__snippet class, in document order.
func Snippets(doc *html.Node, max int) []string {
	var out []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if len(out) >= max {
			return
		}
		if n.Type == html.ElementNode && hasClass(n, "result__snippet") {
			if s := collapse(textOf(n)); s != "" {
				out = append(out, s)
			}
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return out
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(a.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

func textOf(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		b.WriteString(textOf(child))
	}
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
