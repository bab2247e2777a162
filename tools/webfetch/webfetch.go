package webfetch

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"

	"github.com/linkforge/linkforge/config"
)

const (
	defaultTimeout  = 20 * time.Second
	defaultMaxChars = 8000
)

// Fetcher renders a page in headless Chrome and extracts its readable text.
// Agents use the extract as placement or research context.
type Fetcher struct {
	timeout  time.Duration
	maxChars int
}

// New builds a fetcher from config, applying defaults for unset fields.
func New(cfg config.FetchConfig) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}
	return &Fetcher{timeout: timeout, maxChars: maxChars}
}

// FetchText returns the readable text of the page at rawURL, truncated to
// the configured maximum.
func (f *Fetcher) FetchText(ctx context.Context, rawURL string) (string, error) {
	if strings.TrimSpace(rawURL) == "" {
		return "", errors.New("invalid url")
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	html, err := fetchHTML(ctx, rawURL)
	if err != nil {
		return "", err
	}

	article, err := readability.FromReader(strings.NewReader(html), mustParseURL(rawURL))
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(article.TextContent)
	if len(text) > f.maxChars {
		text = text[:f.maxChars]
	}
	return text, nil
}

func fetchHTML(ctx context.Context, rawURL string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent("LinkForgeBot/1.0 (+contact@example.com)"),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}
