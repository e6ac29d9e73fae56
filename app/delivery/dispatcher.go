package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/lysyi3m/newswright/app/database"
)

// Post is the webhook wire format, one element per ready article.
type Post struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	RewrittenText   string  `json:"rewritten_text"`
	ImageURL        *string `json:"image_url"`
	SourceURL       string  `json:"source_url"`
	FeedName        string  `json:"feed_name"`
	PublishedDate   string  `json:"published_date"`
	ProcessedAt     string  `json:"processed_at"`
	ReadyForPosting bool    `json:"ready_for_posting"`
}

// Report is the all-or-nothing outcome of one batched webhook call.
type Report struct {
	Delivered []string
	Failed    map[string]string
}

// Dispatcher sends finished posts downstream. It is stateless across
// calls; whether a failed batch is retried is decided by the articles'
// persisted state.
type Dispatcher struct {
	httpClient  *http.Client
	webhookURL  string
	fallbackDir string
	userAgent   string
}

func NewDispatcher(httpClient *http.Client, webhookURL, fallbackDir, userAgent string) *Dispatcher {
	return &Dispatcher{
		httpClient:  httpClient,
		webhookURL:  webhookURL,
		fallbackDir: fallbackDir,
		userAgent:   userAgent,
	}
}

// Deliver posts the whole batch as one JSON array. Any non-2xx response or
// network failure fails the batch as a unit: the payload is persisted to a
// timestamped fallback file so no content is lost, and every fingerprint is
// reported failed with the shared reason.
func (d *Dispatcher) Deliver(ctx context.Context, batch []database.Article) Report {
	report := Report{Failed: make(map[string]string)}
	if len(batch) == 0 {
		return report
	}

	posts := make([]Post, 0, len(batch))
	for _, a := range batch {
		posts = append(posts, buildPost(a))
	}

	if err := d.post(ctx, posts); err != nil {
		reason := err.Error()
		if path, saveErr := d.saveFallback(posts); saveErr != nil {
			slog.Error("Failed to write fallback file", "error", saveErr)
			reason = fmt.Sprintf("%s (fallback write failed: %v)", reason, saveErr)
		} else {
			slog.Warn("Webhook delivery failed, batch written to fallback file",
				"count", len(posts), "path", path, "error", err)
		}
		for _, a := range batch {
			report.Failed[a.Fingerprint] = reason
		}
		return report
	}

	for _, a := range batch {
		report.Delivered = append(report.Delivered, a.Fingerprint)
	}

	slog.Info("Batch delivered to webhook", "count", len(batch))
	return report
}

func (d *Dispatcher) post(ctx context.Context, posts []Post) error {
	if d.webhookURL == "" {
		return fmt.Errorf("webhook URL is not configured")
	}

	body, err := json.Marshal(posts)
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}

	return nil
}

func (d *Dispatcher) saveFallback(posts []Post) (string, error) {
	if err := os.MkdirAll(d.fallbackDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create fallback directory: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	path := filepath.Join(d.fallbackDir, fmt.Sprintf("ready_posts_%s.json", timestamp))

	data, err := json.MarshalIndent(posts, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal fallback payload: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write fallback file: %w", err)
	}

	return path, nil
}

func buildPost(a database.Article) Post {
	post := Post{
		ID:              a.Fingerprint,
		Title:           a.Title,
		RewrittenText:   a.RewrittenText,
		SourceURL:       a.Link,
		FeedName:        a.FeedName,
		ProcessedAt:     a.UpdatedAt.Format(time.RFC3339),
		ReadyForPosting: true,
	}
	if a.PublishedAt != nil {
		post.PublishedDate = a.PublishedAt.Format(time.RFC3339)
	}
	if a.ImageURL != "" {
		post.ImageURL = &a.ImageURL
	}
	return post
}
