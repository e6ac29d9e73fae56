package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lysyi3m/newswright/app/database"
)

func readyArticles() []database.Article {
	published := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	updated := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)
	return []database.Article{
		{
			Fingerprint:   "fp-1",
			FeedName:      "maritime-news",
			Title:         "Ship docks in harbor",
			Link:          "https://x.com/a1",
			PublishedAt:   &published,
			RewrittenText: "Cargo ship arrives. #shipping",
			ImageURL:      "https://cdn.x.com/ship.jpg",
			State:         database.StateRewritten,
			UpdatedAt:     updated,
		},
		{
			Fingerprint:   "fp-2",
			FeedName:      "maritime-news",
			Title:         "Port expansion announced",
			Link:          "https://x.com/a2",
			RewrittenText: "Port to double capacity. #trade",
			State:         database.StateRewritten,
			UpdatedAt:     updated,
		},
		{
			Fingerprint:   "fp-3",
			FeedName:      "tech-news",
			Title:         "New sonar system",
			Link:          "https://x.com/a3",
			RewrittenText: "Sonar upgrade shipped. #tech",
			State:         database.StateRewritten,
			UpdatedAt:     updated,
		},
	}
}

func TestDeliverSuccess(t *testing.T) {
	var received []Post
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Expected JSON content type, got: %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("Failed to decode batch: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	fallbackDir := t.TempDir()
	dispatcher := NewDispatcher(server.Client(), server.URL, fallbackDir, "test-agent")

	report := dispatcher.Deliver(context.Background(), readyArticles())
	if len(report.Delivered) != 3 {
		t.Errorf("Expected 3 delivered, got: %d", len(report.Delivered))
	}
	if len(report.Failed) != 0 {
		t.Errorf("Expected no failures, got: %v", report.Failed)
	}

	if len(received) != 3 {
		t.Fatalf("Expected 3 posts in webhook body, got: %d", len(received))
	}
	first := received[0]
	if first.ID != "fp-1" || first.Title != "Ship docks in harbor" {
		t.Errorf("Unexpected first post: %+v", first)
	}
	if first.ImageURL == nil || *first.ImageURL != "https://cdn.x.com/ship.jpg" {
		t.Errorf("Expected image URL set, got: %v", first.ImageURL)
	}
	if !first.ReadyForPosting {
		t.Error("Expected ready_for_posting=true")
	}
	if received[1].ImageURL != nil {
		t.Errorf("Expected null image_url for imageless article, got: %v", *received[1].ImageURL)
	}
	if received[1].PublishedDate != "" {
		t.Errorf("Expected empty published_date without timestamp, got: %q", received[1].PublishedDate)
	}

	// Nothing should hit the fallback directory on success.
	entries, err := os.ReadDir(fallbackDir)
	if err != nil {
		t.Fatalf("Failed to read fallback dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected empty fallback dir, found %d entries", len(entries))
	}
}

func TestDeliverWebhookErrorFailsWholeBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	fallbackDir := t.TempDir()
	dispatcher := NewDispatcher(server.Client(), server.URL, fallbackDir, "test-agent")

	report := dispatcher.Deliver(context.Background(), readyArticles())
	if len(report.Delivered) != 0 {
		t.Errorf("Expected no deliveries, got: %v", report.Delivered)
	}
	if len(report.Failed) != 3 {
		t.Fatalf("Expected all 3 articles failed, got: %d", len(report.Failed))
	}
	for fp, reason := range report.Failed {
		if !strings.Contains(reason, "503") {
			t.Errorf("Expected shared 503 reason for %s, got: %q", fp, reason)
		}
	}

	assertFallbackFile(t, fallbackDir, 3)
}

func TestDeliverWithoutWebhookWritesFallback(t *testing.T) {
	fallbackDir := t.TempDir()
	dispatcher := NewDispatcher(http.DefaultClient, "", fallbackDir, "test-agent")

	report := dispatcher.Deliver(context.Background(), readyArticles())
	if len(report.Delivered) != 0 {
		t.Errorf("Expected no deliveries without a webhook, got: %v", report.Delivered)
	}
	if len(report.Failed) != 3 {
		t.Errorf("Expected 3 failures, got: %d", len(report.Failed))
	}

	assertFallbackFile(t, fallbackDir, 3)
}

func TestDeliverEmptyBatch(t *testing.T) {
	dispatcher := NewDispatcher(http.DefaultClient, "", t.TempDir(), "test-agent")

	report := dispatcher.Deliver(context.Background(), nil)
	if len(report.Delivered) != 0 || len(report.Failed) != 0 {
		t.Errorf("Expected empty report for empty batch, got: %+v", report)
	}
}

func assertFallbackFile(t *testing.T, dir string, expectedPosts int) {
	t.Helper()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Failed to read fallback dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected exactly 1 fallback file, found: %d", len(entries))
	}

	name := entries[0].Name()
	if !strings.HasPrefix(name, "ready_posts_") || !strings.HasSuffix(name, ".json") {
		t.Errorf("Unexpected fallback file name: %q", name)
	}

	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("Failed to read fallback file: %v", err)
	}

	var posts []Post
	if err := json.Unmarshal(data, &posts); err != nil {
		t.Fatalf("Fallback file is not valid JSON: %v", err)
	}
	if len(posts) != expectedPosts {
		t.Errorf("Expected %d posts in fallback file, got: %d", expectedPosts, len(posts))
	}
}
