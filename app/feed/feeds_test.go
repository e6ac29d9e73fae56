package feed

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFeedsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feeds.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write feeds file: %v", err)
	}
	return path
}

func TestLoadFeeds(t *testing.T) {
	path := writeFeedsFile(t, `feeds:
  - name: maritime-news
    url: https://x.com/maritime/rss
    enabled: true
  - name: tech-news
    url: https://x.com/tech/rss
    enabled: false
`)

	feeds, err := LoadFeeds(path)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(feeds) != 2 {
		t.Fatalf("Expected 2 feeds, got: %d", len(feeds))
	}
	if feeds[0].Name != "maritime-news" || !feeds[0].Enabled {
		t.Errorf("Unexpected first feed: %+v", feeds[0])
	}
	if feeds[1].Enabled {
		t.Error("Expected second feed disabled")
	}
}

func TestLoadFeedsValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty file", ""},
		{"no feeds", "feeds: []\n"},
		{"missing name", "feeds:\n  - url: https://x.com/rss\n"},
		{"missing url", "feeds:\n  - name: some-feed\n"},
		{"duplicate names", "feeds:\n  - name: a\n    url: https://x.com/1\n  - name: a\n    url: https://x.com/2\n"},
		{"invalid yaml", "feeds: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFeedsFile(t, tt.content)
			if _, err := LoadFeeds(path); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestLoadFeedsMissingFile(t *testing.T) {
	if _, err := LoadFeeds(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestEnabledFeeds(t *testing.T) {
	feeds := []Feed{
		{Name: "a", URL: "https://x.com/1", Enabled: true},
		{Name: "b", URL: "https://x.com/2"},
		{Name: "c", URL: "https://x.com/3", Enabled: true},
	}

	enabled := EnabledFeeds(feeds)
	if len(enabled) != 2 {
		t.Fatalf("Expected 2 enabled feeds, got: %d", len(enabled))
	}
	if enabled[0].Name != "a" || enabled[1].Name != "c" {
		t.Errorf("Unexpected enabled feeds: %+v", enabled)
	}
}
