package feed

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Fingerprint derives the stable per-article identity. The feed's reported
// link is authoritative; entries without a link fall back to a hash of
// title and published timestamp. The fingerprint never changes for a given
// entry, so re-fetching a feed maps repeated sightings to the same record.
func Fingerprint(e Entry) string {
	if e.Link != "" {
		return hash(e.Link)
	}

	published := ""
	if e.PublishedAt != nil {
		published = e.PublishedAt.UTC().Format(time.RFC3339)
	}

	return hash(fmt.Sprintf("%s|%s", e.Title, published))
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
