package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/contestradar/crawler-http-service/common/config"
	"github.com/rs/zerolog/log"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// maxBodySize caps how much of a page is read, malformed servers aside
const maxBodySize = 10 << 20

// Fetcher retrieves pages over HTTP, optionally through a proxy, with a
// randomized pause between requests so sources are not hammered
type Fetcher struct {
	client    *http.Client
	userAgent string
	jitterMin time.Duration
	jitterMax time.Duration
}

// NewFetcher creates a fetcher from scraper configuration
func NewFetcher(cfg config.ScraperConfig) (*Fetcher, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parsing proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		userAgent: userAgent,
		jitterMin: time.Duration(cfg.JitterMinMs) * time.Millisecond,
		jitterMax: time.Duration(cfg.JitterMaxMs) * time.Millisecond,
	}, nil
}

// FetchHTML retrieves a page and returns its raw body
func (f *Fetcher) FetchHTML(ctx context.Context, pageURL string) ([]byte, error) {
	f.pause(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", pageURL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "it-IT,it;q=0.9,en;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: unexpected status %d", pageURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading body of %s: %w", pageURL, err)
	}

	log.Debug().Str("url", pageURL).Int("bytes", len(body)).Msg("Fetched page")
	return body, nil
}

// FetchDocument retrieves a page and parses it into a goquery document
func (f *Fetcher) FetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	body, err := f.FetchHTML(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", pageURL, err)
	}

	return doc, nil
}

// pause sleeps a random duration inside the configured jitter window
func (f *Fetcher) pause(ctx context.Context) {
	if f.jitterMax <= 0 || f.jitterMax < f.jitterMin {
		return
	}

	span := f.jitterMax - f.jitterMin
	delay := f.jitterMin
	if span > 0 {
		delay += time.Duration(rand.Int63n(int64(span)))
	}

	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}
