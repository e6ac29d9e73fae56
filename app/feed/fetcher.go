package feed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/mmcdole/gofeed"
)

type Fetcher struct {
	httpClient *http.Client
	parser     *gofeed.Parser
	userAgent  string
}

func NewFetcher(httpClient *http.Client, userAgent string) *Fetcher {
	return &Fetcher{
		httpClient: httpClient,
		parser:     gofeed.NewParser(),
		userAgent:  userAgent,
	}
}

// Fetch downloads and parses a feed, returning entries in feed order
// (newest first for virtually all publishers). Entries without a link
// and without a title are dropped as malformed.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]Entry, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	parsed, err := f.parser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	entries := make([]Entry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item.Link == "" && item.Title == "" {
			continue
		}
		entries = append(entries, normalizeItem(item))
	}

	return entries, nil
}

func normalizeItem(item *gofeed.Item) Entry {
	entry := Entry{
		Title:   item.Title,
		Link:    item.Link,
		Summary: item.Description,
		Content: item.Content,
	}

	if item.PublishedParsed != nil {
		entry.PublishedAt = item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		entry.PublishedAt = item.UpdatedParsed
	}

	entry.Media = extractMediaRefs(item)

	return entry
}

// extractMediaRefs collects image references embedded in the entry itself:
// RSS 2.0 enclosures, Media RSS content/thumbnail extensions, and the
// item image element.
func extractMediaRefs(item *gofeed.Item) []MediaRef {
	var refs []MediaRef

	for _, enc := range item.Enclosures {
		if enc == nil || enc.URL == "" {
			continue
		}
		if !strings.HasPrefix(enc.Type, "image/") {
			continue
		}
		refs = append(refs, MediaRef{URL: enc.URL, Type: enc.Type})
	}

	if media, ok := item.Extensions["media"]; ok {
		for _, name := range []string{"content", "thumbnail"} {
			for _, ext := range media[name] {
				url := ext.Attrs["url"]
				if url == "" {
					continue
				}
				mediaType := ext.Attrs["type"]
				if mediaType != "" && !strings.HasPrefix(mediaType, "image/") && ext.Attrs["medium"] != "image" {
					continue
				}
				refs = append(refs, MediaRef{
					URL:    url,
					Type:   mediaType,
					Width:  parseDimension(ext.Attrs["width"]),
					Height: parseDimension(ext.Attrs["height"]),
				})
			}
		}
	}

	if item.Image != nil && item.Image.URL != "" {
		refs = append(refs, MediaRef{URL: item.Image.URL})
	}

	return refs
}

func parseDimension(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
