package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/contestradar/crawler-http-service/common/config"
)

func newTestFetcher(t *testing.T) *Fetcher {
	t.Helper()
	fetcher, err := NewFetcher(config.ScraperConfig{
		RequestTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	return fetcher
}

func TestFetchDocument(t *testing.T) {
	var gotUserAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserAgent = r.Header.Get("User-Agent")
		w.Write([]byte(`<html><body><h1 class="title">Hello</h1></body></html>`))
	}))
	defer server.Close()

	fetcher := newTestFetcher(t)
	doc, err := fetcher.FetchDocument(context.Background(), server.URL)
	if err != nil {
		t.Fatal(err)
	}

	if got := doc.Find("h1.title").Text(); got != "Hello" {
		t.Errorf("Expected parsed title, got %q", got)
	}
	if gotUserAgent == "" {
		t.Error("Expected User-Agent header to be set")
	}
}

func TestFetchHTMLStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	fetcher := newTestFetcher(t)
	if _, err := fetcher.FetchHTML(context.Background(), server.URL); err == nil {
		t.Error("Expected error for non-200 response")
	}
}

func TestNewFetcherInvalidProxy(t *testing.T) {
	_, err := NewFetcher(config.ScraperConfig{ProxyURL: "://bad"})
	if err == nil {
		t.Error("Expected error for invalid proxy url")
	}
}

func TestPauseRespectsContext(t *testing.T) {
	fetcher, err := NewFetcher(config.ScraperConfig{
		JitterMinMs: 5000,
		JitterMaxMs: 10000,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	fetcher.pause(ctx)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Expected pause to return immediately on cancelled context, took %v", elapsed)
	}
}

func TestPauseDisabledByDefault(t *testing.T) {
	fetcher := newTestFetcher(t)

	start := time.Now()
	fetcher.pause(context.Background())
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Expected no pause with zero jitter, took %v", elapsed)
	}
}
