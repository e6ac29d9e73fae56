package image

import (
	"bytes"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	SourceFeed    = "feed-embedded"
	SourceScraped = "scraped"

	DefaultMinWidth  = 200
	DefaultMinHeight = 200
)

// Candidate is a transient image reference collected while resolving a
// single article; discarded after selection.
type Candidate struct {
	URL    string
	Width  int
	Height int
	Source string
}

// skipKeywords marks URLs that are almost certainly not article imagery.
var skipKeywords = []string{"logo", "icon", "avatar", "button", "banner", "sponsor", "pixel"}

type Selector struct {
	minWidth  int
	minHeight int
}

func NewSelector(minWidth, minHeight int) *Selector {
	return &Selector{
		minWidth:  minWidth,
		minHeight: minHeight,
	}
}

// Select picks the single best representative image, or "" for none.
// Feed-embedded candidates are authoritative and cost no network fetch, so
// they are consulted first. Otherwise candidates come from the page HTML
// through an ordered list of strategies; the first strategy yielding any
// result wins outright, so a low-confidence match never overrides a
// high-confidence one. The dimension filter drops logos, icons and
// tracking pixels wherever intrinsic dimensions are known.
func (s *Selector) Select(feedCands []Candidate, pageHTML []byte, baseURL string) string {
	if picked := s.firstSurvivor(feedCands, baseURL); picked != "" {
		return picked
	}

	if len(pageHTML) == 0 {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(pageHTML))
	if err != nil {
		slog.Debug("Failed to parse page HTML for image selection", "url", baseURL, "error", err)
		return ""
	}

	strategies := []func(*goquery.Document) []Candidate{
		metaImageCandidates,
		containerImageCandidates,
		anyImageCandidates,
	}

	for _, strategy := range strategies {
		candidates := strategy(doc)
		if len(candidates) == 0 {
			continue
		}
		return s.firstSurvivor(candidates, baseURL)
	}

	return ""
}

// firstSurvivor applies the dimension filter and returns the first passing
// candidate resolved against baseURL. Candidates without known dimensions
// pass the filter.
func (s *Selector) firstSurvivor(candidates []Candidate, baseURL string) string {
	for _, c := range candidates {
		if c.URL == "" {
			continue
		}
		if c.Width > 0 && c.Height > 0 && (c.Width < s.minWidth || c.Height < s.minHeight) {
			continue
		}
		return resolveURL(baseURL, c.URL)
	}
	return ""
}

// metaImageCandidates reads Open Graph and Twitter Card image metas, the
// highest-confidence source a page offers.
func metaImageCandidates(doc *goquery.Document) []Candidate {
	var candidates []Candidate

	selectors := []string{
		`meta[property="og:image"]`,
		`meta[name="twitter:image"]`,
	}

	for _, sel := range selectors {
		doc.Find(sel).Each(func(_ int, m *goquery.Selection) {
			content := strings.TrimSpace(m.AttrOr("content", ""))
			if content != "" {
				candidates = append(candidates, Candidate{URL: content, Source: SourceScraped})
			}
		})
	}

	return candidates
}

// containerImageCandidates collects images inside article/content
// containers, in document order.
func containerImageCandidates(doc *goquery.Document) []Candidate {
	var candidates []Candidate

	selectors := []string{
		"article img",
		".article-content img, .post-content img, .entry-content img",
		"main img",
	}

	for _, sel := range selectors {
		doc.Find(sel).Each(func(_ int, img *goquery.Selection) {
			if c, ok := imgCandidate(img); ok {
				candidates = append(candidates, c)
			}
		})
		if len(candidates) > 0 {
			break
		}
	}

	return candidates
}

// anyImageCandidates is the last resort: every img on the page, minus URLs
// that look like chrome rather than content.
func anyImageCandidates(doc *goquery.Document) []Candidate {
	var candidates []Candidate

	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		c, ok := imgCandidate(img)
		if !ok {
			return
		}
		lower := strings.ToLower(c.URL)
		for _, keyword := range skipKeywords {
			if strings.Contains(lower, keyword) {
				return
			}
		}
		candidates = append(candidates, c)
	})

	return candidates
}

func imgCandidate(img *goquery.Selection) (Candidate, bool) {
	src := strings.TrimSpace(img.AttrOr("src", ""))
	if src == "" {
		// Lazy-loaded images keep the real URL in data attributes.
		src = strings.TrimSpace(img.AttrOr("data-src", ""))
	}
	if src == "" {
		src = strings.TrimSpace(img.AttrOr("data-lazy-src", ""))
	}
	if src == "" {
		return Candidate{}, false
	}

	return Candidate{
		URL:    src,
		Width:  parseDimension(img.AttrOr("width", "")),
		Height: parseDimension(img.AttrOr("height", "")),
		Source: SourceScraped,
	}, true
}

func parseDimension(s string) int {
	s = strings.TrimSuffix(strings.TrimSpace(s), "px")
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func resolveURL(baseURL, ref string) string {
	base, err := url.Parse(baseURL)
	if err != nil || baseURL == "" {
		return ref
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(parsed).String()
}
