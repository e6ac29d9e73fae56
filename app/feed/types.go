package feed

import (
	"time"
)

// Configuration types

type Feed struct {
	Name    string `yaml:"name"`
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

type feedsFile struct {
	Feeds []Feed `yaml:"feeds"`
}

// Fetched entry types

type MediaRef struct {
	URL    string
	Type   string
	Width  int
	Height int
}

type Entry struct {
	Title       string
	Link        string
	Summary     string
	Content     string
	PublishedAt *time.Time
	Media       []MediaRef
}
