package browser

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"quizagent/internal/config"
)

// Fetcher loads a page and returns its HTML and visible text.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (html string, text string, err error)
}

// NewFetcher builds the fetcher named by cfg.Backend.
func NewFetcher(cfg config.BrowserConfig, logger *zap.Logger) (Fetcher, error) {
	switch cfg.Backend {
	case "rod":
		return NewRodFetcher(cfg, logger), nil
	case "http":
		return NewHTTPFetcher(logger), nil
	default:
		return nil, fmt.Errorf("unknown browser backend %q", cfg.Backend)
	}
}
