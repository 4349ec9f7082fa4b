// Package browser fetches quiz pages. The rod backend drives headless Chrome
// so JavaScript-rendered pages come back complete; the http backend is a
// plain GET with visible-text extraction for environments without Chrome.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"quizagent/internal/config"
)

// RodFetcher renders pages in a shared headless Chrome instance. The browser
// is launched lazily on first fetch and reused across chains; each fetch gets
// its own page.
type RodFetcher struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	mu      sync.Mutex
	browser *rod.Browser
}

// NewRodFetcher creates a rod-backed fetcher.
func NewRodFetcher(cfg config.BrowserConfig, logger *zap.Logger) *RodFetcher {
	return &RodFetcher{cfg: cfg, logger: logger}
}

func (f *RodFetcher) ensureStarted() (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browser != nil {
		if _, err := f.browser.Version(); err == nil {
			return f.browser, nil
		}
		f.logger.Warn("stale browser connection, relaunching")
		_ = f.browser.Close()
		f.browser = nil
	}

	controlURL := f.cfg.DebuggerURL
	if controlURL == "" {
		u, err := launcher.New().Headless(f.cfg.Headless).Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	f.browser = browser
	f.logger.Info("browser connected", zap.Bool("headless", f.cfg.Headless))
	return f.browser, nil
}

// Fetch navigates to url and returns the rendered HTML and the body's
// visible text.
func (f *RodFetcher) Fetch(ctx context.Context, url string) (string, string, error) {
	browser, err := f.ensureStarted()
	if err != nil {
		return "", "", err
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return "", "", fmt.Errorf("open page %s: %w", url, err)
	}
	defer func() { _ = page.Close() }()

	page = page.Context(ctx).Timeout(f.cfg.NavigationTimeout())
	if err := page.WaitLoad(); err != nil {
		return "", "", fmt.Errorf("load page %s: %w", url, err)
	}
	// Give client-side rendering a chance to settle before reading the DOM.
	_ = page.WaitIdle(f.cfg.NavigationTimeout())

	html, err := page.HTML()
	if err != nil {
		return "", "", fmt.Errorf("read html: %w", err)
	}

	text := ""
	if body, err := page.Element("body"); err == nil {
		if t, err := body.Text(); err == nil {
			text = t
		}
	}

	f.logger.Info("page fetched",
		zap.String("url", url),
		zap.Int("html_bytes", len(html)),
		zap.Int("text_bytes", len(text)))
	return html, text, nil
}

// Close shuts the shared browser down.
func (f *RodFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser == nil {
		return nil
	}
	err := f.browser.Close()
	f.browser = nil
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
