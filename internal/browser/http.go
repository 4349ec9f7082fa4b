package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
)

const maxPageBytes = 10 << 20

// HTTPFetcher fetches pages with a plain GET. Pages that need JavaScript to
// render their question will come back incomplete; use the rod backend for
// those.
type HTTPFetcher struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPFetcher creates a plain-HTTP fetcher.
func NewHTTPFetcher(logger *zap.Logger) *HTTPFetcher {
	return &HTTPFetcher{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// NewHTTPFetcherWithClient creates a fetcher with a custom HTTP client.
func NewHTTPFetcherWithClient(client *http.Client, logger *zap.Logger) *HTTPFetcher {
	return &HTTPFetcher{httpClient: client, logger: logger}
}

// Fetch GETs url and returns the raw HTML and its visible text.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", fmt.Errorf("create request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("fetch %s: HTTP %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", "", fmt.Errorf("read body: %w", err)
	}

	page := string(data)
	text := ExtractText(page)
	f.logger.Info("page fetched",
		zap.String("url", url),
		zap.Int("html_bytes", len(page)),
		zap.Int("text_bytes", len(text)))
	return page, text, nil
}

// ExtractText returns the visible text of an HTML document: text nodes
// outside script/style/head, whitespace collapsed, block boundaries kept as
// newlines.
func ExtractText(page string) string {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return ""
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "head", "noscript":
				return
			}
		}
		if n.Type == html.TextNode {
			if trimmed := strings.TrimSpace(n.Data); trimmed != "" {
				sb.WriteString(collapseSpaces(trimmed))
				sb.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && isBlock(n.Data) {
			sb.WriteString("\n")
		}
	}
	walk(doc)

	lines := strings.Split(sb.String(), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return strings.Join(out, "\n")
}

func isBlock(tag string) bool {
	switch tag {
	case "p", "div", "br", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6",
		"table", "section", "article", "header", "footer", "pre", "blockquote":
		return true
	}
	return false
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
