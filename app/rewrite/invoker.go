package rewrite

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lysyi3m/newswright/app/database"
)

const systemPrompt = "You are a professional news writer. Output ONLY a single short post. " +
	"No emojis. No multiple options. No headers. Just the post text and hashtags."

// maxContentChars bounds the article text sent to the provider so prompts
// stay well inside token limits.
const maxContentChars = 2000

type Result struct {
	Text     string
	Hashtags []string
}

type Options struct {
	Model         string
	Temperature   float64
	MaxTokens     int
	MaxPostLength int
	PromptExtra   string
	MaxAttempts   int
	BaseDelay     time.Duration
}

// Invoker wraps the language-model client with retry, backoff and output
// validation. It performs no store writes; the caller owns the transition.
type Invoker struct {
	client Client
	opts   Options
}

func NewInvoker(client Client, opts Options) *Invoker {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	return &Invoker{client: client, opts: opts}
}

// Rewrite produces a social post for the article. Exactly one successful
// output is returned; transient provider errors and over-length responses
// are retried within the attempt budget, everything else is permanent.
func (iv *Invoker) Rewrite(ctx context.Context, article database.Article) (Result, error) {
	var lastErr error
	stricter := false

	for attempt := 1; attempt <= iv.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := iv.backoffDelay(attempt)
			select {
			case <-ctx.Done():
				return Result{}, &ProviderError{Message: ctx.Err().Error(), Transient: true}
			case <-time.After(delay):
			}
		}

		text, err := iv.client.Complete(ctx, Request{
			System:      systemPrompt,
			Prompt:      iv.buildPrompt(article, stricter),
			Model:       iv.opts.Model,
			Temperature: iv.opts.Temperature,
			MaxTokens:   iv.opts.MaxTokens,
		})
		if err != nil {
			if !IsTransient(err) {
				return Result{}, err
			}
			slog.Warn("Transient rewrite error, retrying",
				"fingerprint", article.Fingerprint, "attempt", attempt, "error", err)
			lastErr = err
			continue
		}

		text = strings.TrimSpace(text)
		if text == "" {
			lastErr = &ProviderError{Message: "provider returned empty text"}
			stricter = true
			continue
		}

		if utf8.RuneCountInString(text) > iv.opts.MaxPostLength {
			slog.Warn("Rewrite output over length limit, retrying with stricter instruction",
				"fingerprint", article.Fingerprint, "attempt", attempt,
				"length", utf8.RuneCountInString(text), "limit", iv.opts.MaxPostLength)
			lastErr = &ProviderError{Message: fmt.Sprintf(
				"output length %d exceeds limit %d", utf8.RuneCountInString(text), iv.opts.MaxPostLength)}
			stricter = true
			continue
		}

		return Result{Text: text, Hashtags: parseHashtags(text)}, nil
	}

	if lastErr == nil {
		lastErr = &ProviderError{Message: "no attempts were made"}
	}
	if IsTransient(lastErr) {
		return Result{}, lastErr
	}
	// Format violations that survive every correction attempt are permanent.
	return Result{}, &ProviderError{Message: fmt.Sprintf(
		"exhausted %d attempts: %v", iv.opts.MaxAttempts, lastErr)}
}

func (iv *Invoker) buildPrompt(article database.Article, stricter bool) string {
	content := article.Content
	if content == "" {
		content = article.Summary
	}
	if len(content) > maxContentChars {
		cut := maxContentChars
		// Back up to a rune boundary so the clip never splits a character.
		for cut > 0 && !utf8.RuneStart(content[cut]) {
			cut--
		}
		content = content[:cut]
	}

	var b strings.Builder
	if iv.opts.PromptExtra != "" {
		b.WriteString(iv.opts.PromptExtra)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Original Article:\nTitle: %s\nContent: %s\nLink: %s\n\n",
		article.Title, content, article.Link)
	fmt.Fprintf(&b, "Rewrite the above article as a social media post of at most %d characters:",
		iv.opts.MaxPostLength)
	if stricter {
		fmt.Fprintf(&b, "\nIMPORTANT: the post MUST be under %d characters and must not be empty.",
			iv.opts.MaxPostLength)
	}
	return b.String()
}

func (iv *Invoker) backoffDelay(attempt int) time.Duration {
	delay := iv.opts.BaseDelay << uint(attempt-2)
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	return delay
}

func parseHashtags(text string) []string {
	var tags []string
	for _, field := range strings.Fields(text) {
		if strings.HasPrefix(field, "#") && len(field) > 1 {
			tags = append(tags, strings.TrimRight(field, ".,!?;:"))
		}
	}
	return tags
}
