package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxPageSize caps how much of an article page is read. News pages past
// this size are all markup noise anyway.
const maxPageSize = 2 << 20

type PageFetcher struct {
	httpClient *http.Client
	userAgent  string
}

func NewPageFetcher(httpClient *http.Client, userAgent string) *PageFetcher {
	return &PageFetcher{
		httpClient: httpClient,
		userAgent:  userAgent,
	}
}

// FetchHTML downloads an article page. Non-HTML responses are rejected.
func (f *PageFetcher) FetchHTML(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.Contains(strings.ToLower(contentType), "text/html") {
		return nil, fmt.Errorf("content type is not HTML: %s", contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return data, nil
}
