package rss

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"feedpipe/domain"
)

const maxDocumentSize = 10 << 20

var errTooLarge = errors.New("document too large")

type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
}

func NewHTTPFetcher(timeout time.Duration, userAgent string) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}, userAgent: userAgent, maxBytes: maxDocumentSize}
}

// Fetch downloads feedURL and decodes it into a Record. Every failure is
// reported as a *domain.FetchError.
func (f *HTTPFetcher) Fetch(ctx context.Context, feedURL string) (domain.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, &domain.FetchError{URL: feedURL, Op: "request", Err: err}
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &domain.FetchError{URL: feedURL, Op: "get", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &domain.FetchError{URL: feedURL, Op: "get", Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, &domain.FetchError{URL: feedURL, Op: "read", Err: err}
	}
	if int64(len(body)) > f.maxBytes {
		return nil, &domain.FetchError{URL: feedURL, Op: "read", Err: errTooLarge}
	}

	rec, err := Decode(body)
	if err != nil {
		return nil, &domain.FetchError{URL: feedURL, Op: "decode", Err: err}
	}

	log.WithFields(log.Fields{
		"url":     feedURL,
		"version": rec["version"],
		"bytes":   len(body),
	}).Debug("Fetched feed document")
	return rec, nil
}
