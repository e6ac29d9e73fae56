package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Timestamps are stored as fixed-width UTC strings so that string
// comparison in ORDER BY matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var _ ArticleRepository = (*SQLArticleRepository)(nil)

type SQLArticleRepository struct {
	db *DB
}

func NewArticleRepository(db *DB) *SQLArticleRepository {
	return &SQLArticleRepository{db: db}
}

// UpsertDiscovered inserts a new article in state discovered, or returns
// the existing record untouched. The single INSERT ... ON CONFLICT DO
// NOTHING statement makes the at-most-one-insert guarantee atomic even
// under concurrent calls for the same fingerprint.
func (r *SQLArticleRepository) UpsertDiscovered(meta DiscoveredArticle) (*Article, bool, error) {
	if meta.Fingerprint == "" {
		return nil, false, fmt.Errorf("fingerprint is required")
	}

	now := formatTime(time.Now().UTC())

	res, err := r.db.Exec(`
		INSERT INTO articles (
			fingerprint, feed_name, title, link, published_at, summary,
			state, first_seen_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (fingerprint) DO NOTHING
	`, meta.Fingerprint, meta.FeedName, meta.Title, meta.Link,
		formatTimePtr(meta.PublishedAt), meta.Summary,
		string(StateDiscovered), now, now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert article: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	article, err := r.GetByFingerprint(meta.Fingerprint)
	if err != nil {
		return nil, false, err
	}

	return article, affected > 0, nil
}

// Transition moves an article to its next lifecycle state, merging payload
// fields into the record. The UPDATE is keyed on the expected prior state;
// zero rows affected means either a concurrent transition won the race
// (ErrInvalidTransition) or the article does not exist (ErrNotFound).
func (r *SQLArticleRepository) Transition(fingerprint string, from, to State, payload Payload) error {
	if nextState[from] != to {
		return fmt.Errorf("transition %s -> %s is not allowed: %w", from, to, ErrInvalidTransition)
	}

	set := []string{"state = ?", "updated_at = ?"}
	args := []interface{}{string(to), formatTime(time.Now().UTC())}

	if payload.Content != nil {
		set = append(set, "content = ?")
		args = append(args, *payload.Content)
	}
	if payload.ImageURL != nil {
		set = append(set, "image_url = ?")
		args = append(args, *payload.ImageURL)
	}
	if payload.RewrittenText != nil {
		set = append(set, "rewritten_text = ?")
		args = append(args, *payload.RewrittenText)
	}

	args = append(args, fingerprint, string(from))

	res, err := r.db.Exec(fmt.Sprintf(`
		UPDATE articles SET %s
		WHERE fingerprint = ? AND state = ?
	`, strings.Join(set, ", ")), args...)
	if err != nil {
		return fmt.Errorf("failed to transition article: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return r.classifyMiss(fingerprint, from)
	}

	return nil
}

// MarkFailed records a terminal failure together with the state it failed
// from. Idempotent when the article is already failed.
func (r *SQLArticleRepository) MarkFailed(fingerprint string, from State, reason string) error {
	res, err := r.db.Exec(`
		UPDATE articles
		SET state = ?, failed_from = ?, failure_reason = ?, updated_at = ?
		WHERE fingerprint = ? AND state = ?
	`, string(StateFailed), string(from), reason,
		formatTime(time.Now().UTC()), fingerprint, string(from))
	if err != nil {
		return fmt.Errorf("failed to mark article failed: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		current, err := r.GetByFingerprint(fingerprint)
		if err != nil {
			return err
		}
		if current.State == StateFailed {
			return nil
		}
		return fmt.Errorf("article %s is in state %s, expected %s: %w",
			fingerprint, current.State, from, ErrInvalidTransition)
	}

	return nil
}

// RecordDeliveryFailure bumps the attempt counter for a rewritten article
// without touching its state, so the next cycle picks it up again.
func (r *SQLArticleRepository) RecordDeliveryFailure(fingerprint string, reason string) error {
	now := formatTime(time.Now().UTC())

	res, err := r.db.Exec(`
		UPDATE articles
		SET delivery_attempts = delivery_attempts + 1,
		    last_attempt_at = ?, last_delivery_error = ?, updated_at = ?
		WHERE fingerprint = ? AND state = ?
	`, now, reason, now, fingerprint, string(StateRewritten))
	if err != nil {
		return fmt.Errorf("failed to record delivery failure: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return r.classifyMiss(fingerprint, StateRewritten)
	}

	return nil
}

// ListByState returns articles in the given state ordered oldest first,
// so older items keep making progress while new ones arrive.
func (r *SQLArticleRepository) ListByState(state State, limit int) ([]Article, error) {
	rows, err := r.db.Query(`
		SELECT fingerprint, feed_name, title, link, published_at, summary,
		       content, image_url, rewritten_text, state, failed_from,
		       failure_reason, delivery_attempts, last_attempt_at,
		       last_delivery_error, first_seen_at, updated_at
		FROM articles
		WHERE state = ?
		ORDER BY first_seen_at ASC
		LIMIT ?
	`, string(state), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list articles: %w", err)
	}
	defer rows.Close()

	var articles []Article
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, *article)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating article rows: %w", err)
	}

	return articles, nil
}

func (r *SQLArticleRepository) GetByFingerprint(fingerprint string) (*Article, error) {
	row := r.db.QueryRow(`
		SELECT fingerprint, feed_name, title, link, published_at, summary,
		       content, image_url, rewritten_text, state, failed_from,
		       failure_reason, delivery_attempts, last_attempt_at,
		       last_delivery_error, first_seen_at, updated_at
		FROM articles
		WHERE fingerprint = ?
	`, fingerprint)

	article, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return article, nil
}

func (r *SQLArticleRepository) CountByState() (map[State]int, error) {
	rows, err := r.db.Query(`SELECT state, COUNT(*) FROM articles GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count articles: %w", err)
	}
	defer rows.Close()

	counts := make(map[State]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count row: %w", err)
		}
		counts[State(state)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating count rows: %w", err)
	}

	return counts, nil
}

// classifyMiss distinguishes a lost transition race from a missing record.
func (r *SQLArticleRepository) classifyMiss(fingerprint string, expected State) error {
	current, err := r.GetByFingerprint(fingerprint)
	if err != nil {
		return err
	}
	return fmt.Errorf("article %s is in state %s, expected %s: %w",
		fingerprint, current.State, expected, ErrInvalidTransition)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanArticle(row rowScanner) (*Article, error) {
	var a Article
	var state, failedFrom string
	var publishedAt, lastAttemptAt sql.NullString
	var firstSeenAt, updatedAt string

	err := row.Scan(
		&a.Fingerprint, &a.FeedName, &a.Title, &a.Link, &publishedAt,
		&a.Summary, &a.Content, &a.ImageURL, &a.RewrittenText, &state,
		&failedFrom, &a.FailureReason, &a.DeliveryAttempts, &lastAttemptAt,
		&a.LastDeliveryError, &firstSeenAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan article row: %w", err)
	}

	a.State = State(state)
	a.FailedFrom = State(failedFrom)

	if a.PublishedAt, err = parseTimePtr(publishedAt); err != nil {
		return nil, err
	}
	if a.LastAttemptAt, err = parseTimePtr(lastAttemptAt); err != nil {
		return nil, err
	}
	if a.FirstSeenAt, err = parseTime(firstSeenAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &a, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
