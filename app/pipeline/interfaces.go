package pipeline

import (
	"context"

	"github.com/lysyi3m/newswright/app/database"
	"github.com/lysyi3m/newswright/app/delivery"
	"github.com/lysyi3m/newswright/app/feed"
	"github.com/lysyi3m/newswright/app/image"
	"github.com/lysyi3m/newswright/app/rewrite"
)

// Collaborator interfaces the orchestrator depends on. Errors from these
// never cross the orchestrator boundary raw; they become lifecycle
// transitions or retry decisions.

type FeedFetcher interface {
	Fetch(ctx context.Context, url string) ([]feed.Entry, error)
}

type PageFetcher interface {
	FetchHTML(ctx context.Context, url string) ([]byte, error)
}

type TextExtractor interface {
	Run(data []byte, pageURL string) (string, error)
}

type ImageSelector interface {
	Select(feedCands []image.Candidate, pageHTML []byte, baseURL string) string
}

type Rewriter interface {
	Rewrite(ctx context.Context, article database.Article) (rewrite.Result, error)
}

type Dispatcher interface {
	Deliver(ctx context.Context, batch []database.Article) delivery.Report
}
