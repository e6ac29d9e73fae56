package database

import (
	"errors"
	"time"
)

// State is an article's lifecycle state. Articles progress strictly
// discovered -> image_resolved -> rewritten -> delivered; failed is a
// parallel terminal state reachable from any non-terminal state.
type State string

const (
	StateDiscovered    State = "discovered"
	StateImageResolved State = "image_resolved"
	StateRewritten     State = "rewritten"
	StateDelivered     State = "delivered"
	StateFailed        State = "failed"
)

// nextState maps each state to its only legal successor.
var nextState = map[State]State{
	StateDiscovered:    StateImageResolved,
	StateImageResolved: StateRewritten,
	StateRewritten:     StateDelivered,
}

var (
	// ErrInvalidTransition is returned when the stored state does not match
	// the expected prior state. Callers racing on the same fingerprint treat
	// this as "someone else got there first" and skip the article.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrNotFound is returned when no article exists for a fingerprint.
	ErrNotFound = errors.New("article not found")
)

type Article struct {
	Fingerprint       string
	FeedName          string
	Title             string
	Link              string
	PublishedAt       *time.Time
	Summary           string
	Content           string
	ImageURL          string
	RewrittenText     string
	State             State
	FailedFrom        State
	FailureReason     string
	DeliveryAttempts  int
	LastAttemptAt     *time.Time
	LastDeliveryError string
	FirstSeenAt       time.Time
	UpdatedAt         time.Time
}

// DiscoveredArticle carries the feed-entry metadata stored on first sighting.
type DiscoveredArticle struct {
	Fingerprint string
	FeedName    string
	Title       string
	Link        string
	PublishedAt *time.Time
	Summary     string
}

// Payload holds the content fields a transition merges into the record.
// Nil fields are left untouched.
type Payload struct {
	Content       *string
	ImageURL      *string
	RewrittenText *string
}
