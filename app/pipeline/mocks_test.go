package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lysyi3m/newswright/app/database"
	"github.com/lysyi3m/newswright/app/delivery"
	"github.com/lysyi3m/newswright/app/feed"
	"github.com/lysyi3m/newswright/app/image"
	"github.com/lysyi3m/newswright/app/rewrite"
)

// memoryStore is an in-memory ArticleRepository with the same conditional
// transition semantics as the SQL implementation.
type memoryStore struct {
	mu       sync.Mutex
	articles map[string]*database.Article
	order    map[string]int
	seq      int
	failOn   string

	// markFailedErr, when set, is returned by MarkFailed to simulate a
	// lost transition race.
	markFailedErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		articles: make(map[string]*database.Article),
		order:    make(map[string]int),
	}
}

func (s *memoryStore) UpsertDiscovered(meta database.DiscoveredArticle) (*database.Article, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failOn == "upsert" {
		return nil, false, fmt.Errorf("store is down")
	}

	if existing, ok := s.articles[meta.Fingerprint]; ok {
		copied := *existing
		return &copied, false, nil
	}

	now := time.Now().UTC()
	a := &database.Article{
		Fingerprint: meta.Fingerprint,
		FeedName:    meta.FeedName,
		Title:       meta.Title,
		Link:        meta.Link,
		PublishedAt: meta.PublishedAt,
		Summary:     meta.Summary,
		State:       database.StateDiscovered,
		FirstSeenAt: now,
		UpdatedAt:   now,
	}
	s.articles[meta.Fingerprint] = a
	s.seq++
	s.order[meta.Fingerprint] = s.seq

	copied := *a
	return &copied, true, nil
}

func (s *memoryStore) Transition(fingerprint string, from, to database.State, payload database.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.articles[fingerprint]
	if !ok {
		return database.ErrNotFound
	}
	if a.State != from {
		return database.ErrInvalidTransition
	}

	a.State = to
	if payload.Content != nil {
		a.Content = *payload.Content
	}
	if payload.ImageURL != nil {
		a.ImageURL = *payload.ImageURL
	}
	if payload.RewrittenText != nil {
		a.RewrittenText = *payload.RewrittenText
	}
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memoryStore) MarkFailed(fingerprint string, from database.State, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.markFailedErr != nil {
		return s.markFailedErr
	}

	a, ok := s.articles[fingerprint]
	if !ok {
		return database.ErrNotFound
	}
	if a.State == database.StateFailed {
		return nil
	}
	a.State = database.StateFailed
	a.FailedFrom = from
	a.FailureReason = reason
	return nil
}

func (s *memoryStore) RecordDeliveryFailure(fingerprint string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.articles[fingerprint]
	if !ok {
		return database.ErrNotFound
	}
	if a.State != database.StateRewritten {
		return database.ErrInvalidTransition
	}
	a.DeliveryAttempts++
	now := time.Now().UTC()
	a.LastAttemptAt = &now
	a.LastDeliveryError = reason
	return nil
}

func (s *memoryStore) ListByState(state database.State, limit int) ([]database.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failOn == "list" {
		return nil, fmt.Errorf("store is down")
	}

	var out []database.Article
	for _, a := range s.articles {
		if a.State == state {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return s.order[out[i].Fingerprint] < s.order[out[j].Fingerprint]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) GetByFingerprint(fingerprint string) (*database.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.articles[fingerprint]
	if !ok {
		return nil, database.ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (s *memoryStore) CountByState() (map[database.State]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[database.State]int)
	for _, a := range s.articles {
		counts[a.State]++
	}
	return counts, nil
}

func (s *memoryStore) get(fingerprint string) database.Article {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.articles[fingerprint]
}

type mockFeedFetcher struct {
	entries map[string][]feed.Entry
	errs    map[string]error
	calls   []string
}

func (m *mockFeedFetcher) Fetch(_ context.Context, url string) ([]feed.Entry, error) {
	m.calls = append(m.calls, url)
	if err := m.errs[url]; err != nil {
		return nil, err
	}
	return m.entries[url], nil
}

type mockPageFetcher struct {
	mu    sync.Mutex
	html  map[string][]byte
	errs  map[string]error
	calls []string
}

func (m *mockPageFetcher) FetchHTML(_ context.Context, url string) ([]byte, error) {
	m.mu.Lock()
	m.calls = append(m.calls, url)
	m.mu.Unlock()
	if err := m.errs[url]; err != nil {
		return nil, err
	}
	return m.html[url], nil
}

type mockTextExtractor struct {
	text string
	err  error
}

func (m *mockTextExtractor) Run([]byte, string) (string, error) {
	return m.text, m.err
}

type mockSelector struct {
	mu        sync.Mutex
	imageURL  string
	feedCands map[string][]image.Candidate
}

func (m *mockSelector) Select(feedCands []image.Candidate, _ []byte, baseURL string) string {
	m.mu.Lock()
	if m.feedCands == nil {
		m.feedCands = make(map[string][]image.Candidate)
	}
	m.feedCands[baseURL] = feedCands
	m.mu.Unlock()
	return m.imageURL
}

type mockRewriter struct {
	mu    sync.Mutex
	text  string
	errs  map[string]error
	calls int
}

func (m *mockRewriter) Rewrite(_ context.Context, a database.Article) (rewrite.Result, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if err := m.errs[a.Fingerprint]; err != nil {
		return rewrite.Result{}, err
	}
	return rewrite.Result{Text: m.text}, nil
}

type mockDispatcher struct {
	fail    bool
	reason  string
	batches [][]database.Article
}

func (m *mockDispatcher) Deliver(_ context.Context, batch []database.Article) delivery.Report {
	m.batches = append(m.batches, batch)
	report := delivery.Report{Failed: make(map[string]string)}
	for _, a := range batch {
		if m.fail {
			report.Failed[a.Fingerprint] = m.reason
		} else {
			report.Delivered = append(report.Delivered, a.Fingerprint)
		}
	}
	return report
}
