package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lysyi3m/newswright/app/database"
	"github.com/lysyi3m/newswright/app/feed"
	"github.com/lysyi3m/newswright/app/image"
	"github.com/lysyi3m/newswright/app/rewrite"
)

// stageLimit bounds how many articles the resolve and rewrite stages pick
// up per cycle. It is deliberately larger than the delivery batch size;
// those stages should drain their backlog.
const stageLimit = 100

type Stats struct {
	Discovered int
	Resolved   int
	Rewritten  int
	Delivered  int
	Failed     int
}

type Options struct {
	WorkerCount         int
	BatchSize           int
	FetchDelay          time.Duration
	MaxDeliveryAttempts int
}

// Orchestrator runs one pipeline cycle: ingest -> resolve -> rewrite ->
// deliver. Each stage drains its whole eligible set before the next stage
// starts, so one collaborator outage stalls at most one stage per cycle.
// The store's conditional transitions are the only concurrency guard; a
// worker losing a transition race simply skips the article.
type Orchestrator struct {
	feeds         []feed.Feed
	fetcher       FeedFetcher
	store         database.ArticleRepository
	pages         PageFetcher
	textExtractor TextExtractor
	selector      ImageSelector
	rewriter      Rewriter
	dispatcher    Dispatcher
	opts          Options

	// Image candidates reported by the feed itself, keyed by fingerprint.
	// Transient by design: they only survive within the cycle that saw the
	// entry, and selection falls back to scraping when they are gone.
	mu         sync.Mutex
	feedImages map[string][]image.Candidate
}

func NewOrchestrator(feeds []feed.Feed, fetcher FeedFetcher, store database.ArticleRepository,
	pages PageFetcher, textExtractor TextExtractor, selector ImageSelector,
	rewriter Rewriter, dispatcher Dispatcher, opts Options) *Orchestrator {
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = 1
	}
	return &Orchestrator{
		feeds:         feeds,
		fetcher:       fetcher,
		store:         store,
		pages:         pages,
		textExtractor: textExtractor,
		selector:      selector,
		rewriter:      rewriter,
		dispatcher:    dispatcher,
		opts:          opts,
		feedImages:    make(map[string][]image.Candidate),
	}
}

// RunCycle executes one full pipeline cycle. A store failure aborts the
// cycle; everything committed so far stays committed and the next cycle
// resumes from persisted state.
func (o *Orchestrator) RunCycle(ctx context.Context) (Stats, error) {
	start := time.Now()
	var stats Stats

	o.mu.Lock()
	o.feedImages = make(map[string][]image.Candidate)
	o.mu.Unlock()

	if err := o.ingest(ctx, &stats); err != nil {
		return stats, err
	}
	if err := o.resolveImages(ctx, &stats); err != nil {
		return stats, err
	}
	if err := o.rewriteArticles(ctx, &stats); err != nil {
		return stats, err
	}
	if err := o.deliverBatch(ctx, &stats); err != nil {
		return stats, err
	}

	slog.Info("Cycle completed",
		"duration", time.Since(start),
		"discovered", stats.Discovered,
		"resolved", stats.Resolved,
		"rewritten", stats.Rewritten,
		"delivered", stats.Delivered,
		"failed", stats.Failed)

	return stats, nil
}

// ingest fetches every enabled feed and upserts each entry. A feed-level
// fetch or parse error skips that feed for the cycle; the others continue.
func (o *Orchestrator) ingest(ctx context.Context, stats *Stats) error {
	enabled := feed.EnabledFeeds(o.feeds)

	for i, f := range enabled {
		if i > 0 && o.opts.FetchDelay > 0 {
			// Politeness toward feed hosts, not a correctness requirement.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(o.opts.FetchDelay):
			}
		}

		entries, err := o.fetcher.Fetch(ctx, f.URL)
		if err != nil {
			slog.Warn("Feed fetch failed, skipping for this cycle", "feed", f.Name, "error", err)
			continue
		}

		newCount := 0
		for _, entry := range entries {
			fingerprint := feed.Fingerprint(entry)

			_, wasNew, err := o.store.UpsertDiscovered(database.DiscoveredArticle{
				Fingerprint: fingerprint,
				FeedName:    f.Name,
				Title:       entry.Title,
				Link:        entry.Link,
				PublishedAt: entry.PublishedAt,
				Summary:     summaryOf(entry),
			})
			if err != nil {
				return fmt.Errorf("store failure during ingest: %w", err)
			}
			if wasNew {
				newCount++
			}

			if len(entry.Media) > 0 {
				o.mu.Lock()
				o.feedImages[fingerprint] = feedCandidates(entry.Media)
				o.mu.Unlock()
			}
		}

		slog.Info("Feed ingested", "feed", f.Name, "total", len(entries), "new", newCount)
		stats.Discovered += newCount
	}

	return nil
}

// resolveImages processes every discovered article: at most one page fetch,
// readable-text extraction for the rewrite prompt, and image selection.
// A missing page or image is not a failure; the article moves on without.
func (o *Orchestrator) resolveImages(ctx context.Context, stats *Stats) error {
	articles, err := o.store.ListByState(database.StateDiscovered, stageLimit)
	if err != nil {
		return fmt.Errorf("store failure listing discovered articles: %w", err)
	}

	return o.forEach(ctx, articles, stats, func(a database.Article) (bool, error) {
		var pageHTML []byte
		if a.Link != "" {
			html, fetchErr := o.pages.FetchHTML(ctx, a.Link)
			if fetchErr != nil {
				slog.Debug("Page fetch failed, proceeding without page",
					"fingerprint", a.Fingerprint, "url", a.Link, "error", fetchErr)
			} else {
				pageHTML = html
			}
		}

		payload := database.Payload{}

		if len(pageHTML) > 0 {
			if text, extractErr := o.textExtractor.Run(pageHTML, a.Link); extractErr == nil {
				payload.Content = &text
			}
		}

		o.mu.Lock()
		feedCands := o.feedImages[a.Fingerprint]
		o.mu.Unlock()

		imageURL := o.selector.Select(feedCands, pageHTML, a.Link)
		payload.ImageURL = &imageURL

		trErr := o.store.Transition(a.Fingerprint, database.StateDiscovered,
			database.StateImageResolved, payload)
		if errors.Is(trErr, database.ErrInvalidTransition) {
			slog.Debug("Lost transition race, skipping", "fingerprint", a.Fingerprint)
			return false, nil
		}
		if trErr != nil {
			return false, fmt.Errorf("store failure resolving image: %w", trErr)
		}

		return true, nil
	}, &stats.Resolved)
}

// rewriteArticles runs the invoker over every image_resolved article.
// Permanent provider errors move the article to failed; transient errors
// that survive the invoker's retry budget leave it in place for the next
// cycle.
func (o *Orchestrator) rewriteArticles(ctx context.Context, stats *Stats) error {
	articles, err := o.store.ListByState(database.StateImageResolved, stageLimit)
	if err != nil {
		return fmt.Errorf("store failure listing resolved articles: %w", err)
	}

	var failed int
	var mu sync.Mutex

	err = o.forEach(ctx, articles, stats, func(a database.Article) (bool, error) {
		result, err := o.rewriter.Rewrite(ctx, a)
		if err != nil {
			if rewrite.IsTransient(err) {
				slog.Warn("Rewrite deferred to next cycle",
					"fingerprint", a.Fingerprint, "error", err)
				return false, nil
			}
			slog.Error("Rewrite failed permanently",
				"fingerprint", a.Fingerprint, "reason", err.Error())
			if markErr := o.store.MarkFailed(a.Fingerprint, database.StateImageResolved, err.Error()); markErr != nil {
				if errors.Is(markErr, database.ErrInvalidTransition) {
					return false, nil
				}
				return false, fmt.Errorf("store failure marking article failed: %w", markErr)
			}
			mu.Lock()
			failed++
			mu.Unlock()
			return false, nil
		}

		err = o.store.Transition(a.Fingerprint, database.StateImageResolved,
			database.StateRewritten, database.Payload{RewrittenText: &result.Text})
		if errors.Is(err, database.ErrInvalidTransition) {
			slog.Debug("Lost transition race, skipping", "fingerprint", a.Fingerprint)
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("store failure storing rewrite: %w", err)
		}

		return true, nil
	}, &stats.Rewritten)

	stats.Failed += failed
	return err
}

// deliverBatch ships a bounded batch of rewritten articles in one webhook
// call. Failed fingerprints stay rewritten and are retried next cycle
// until the attempt cap moves them to failed.
func (o *Orchestrator) deliverBatch(ctx context.Context, stats *Stats) error {
	batch, err := o.store.ListByState(database.StateRewritten, o.opts.BatchSize)
	if err != nil {
		return fmt.Errorf("store failure listing rewritten articles: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}

	report := o.dispatcher.Deliver(ctx, batch)

	for _, fingerprint := range report.Delivered {
		err := o.store.Transition(fingerprint, database.StateRewritten,
			database.StateDelivered, database.Payload{})
		if errors.Is(err, database.ErrInvalidTransition) {
			continue
		}
		if err != nil {
			return fmt.Errorf("store failure marking delivered: %w", err)
		}
		stats.Delivered++
	}

	attempts := make(map[string]int, len(batch))
	for _, a := range batch {
		attempts[a.Fingerprint] = a.DeliveryAttempts
	}

	for fingerprint, reason := range report.Failed {
		if err := o.store.RecordDeliveryFailure(fingerprint, reason); err != nil {
			if errors.Is(err, database.ErrInvalidTransition) {
				continue
			}
			return fmt.Errorf("store failure recording delivery failure: %w", err)
		}

		if attempts[fingerprint]+1 >= o.opts.MaxDeliveryAttempts {
			slog.Error("Delivery attempts exhausted",
				"fingerprint", fingerprint, "attempts", attempts[fingerprint]+1, "reason", reason)
			if err := o.store.MarkFailed(fingerprint, database.StateRewritten, reason); err != nil {
				if errors.Is(err, database.ErrInvalidTransition) {
					continue
				}
				return fmt.Errorf("store failure marking article failed: %w", err)
			}
			stats.Failed++
		}
	}

	return nil
}

// forEach runs fn over articles with bounded per-article concurrency.
// fn reports whether the article advanced; store failures cancel the stage.
func (o *Orchestrator) forEach(ctx context.Context, articles []database.Article,
	stats *Stats, fn func(database.Article) (bool, error), counter *int) error {
	if len(articles) == 0 {
		return nil
	}

	sem := make(chan struct{}, o.opts.WorkerCount)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, a := range articles {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case sem <- struct{}{}:
		}

		mu.Lock()
		stop := firstErr != nil
		mu.Unlock()
		if stop {
			<-sem
			break
		}

		wg.Add(1)
		go func(a database.Article) {
			defer wg.Done()
			defer func() { <-sem }()

			advanced, err := fn(a)

			mu.Lock()
			defer mu.Unlock()
			if err != nil && firstErr == nil {
				firstErr = err
			}
			if advanced {
				*counter++
			}
		}(a)
	}

	wg.Wait()
	return firstErr
}

func summaryOf(entry feed.Entry) string {
	if entry.Content != "" {
		return entry.Content
	}
	return entry.Summary
}

func feedCandidates(media []feed.MediaRef) []image.Candidate {
	candidates := make([]image.Candidate, 0, len(media))
	for _, m := range media {
		candidates = append(candidates, image.Candidate{
			URL:    m.URL,
			Width:  m.Width,
			Height: m.Height,
			Source: image.SourceFeed,
		})
	}
	return candidates
}
