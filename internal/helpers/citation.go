package helpers

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Source is one entry in a report's numbered Sources list.
type Source struct {
	Number int
	Title  string
	URL    string
}

// SourceIndex assigns stable citation numbers to URLs. Numbers are handed out
// in first-seen order and deduplicated on the canonical URL, so the same page
// cited from two subtopics gets one entry.
type SourceIndex struct {
	order   []string
	entries map[string]*Source
}

// NewSourceIndex returns an empty index.
func NewSourceIndex() *SourceIndex {
	return &SourceIndex{entries: make(map[string]*Source)}
}

// Add registers a URL and returns its citation number. Re-adding a URL keeps
// the original number; a non-empty title fills in a previously empty one.
func (x *SourceIndex) Add(rawURL, title string) int {
	key := NormalizeURL(rawURL)
	if e, ok := x.entries[key]; ok {
		if e.Title == "" && title != "" {
			e.Title = title
		}
		return e.Number
	}
	e := &Source{Number: len(x.order) + 1, Title: title, URL: key}
	x.entries[key] = e
	x.order = append(x.order, key)
	return e.Number
}

// Number returns the citation number for a URL, or 0 when unknown.
func (x *SourceIndex) Number(rawURL string) int {
	if e, ok := x.entries[NormalizeURL(rawURL)]; ok {
		return e.Number
	}
	return 0
}

// Len reports how many distinct sources are indexed.
func (x *SourceIndex) Len() int { return len(x.order) }

// Sources returns all entries in citation order.
func (x *SourceIndex) Sources() []Source {
	out := make([]Source, 0, len(x.order))
	for _, key := range x.order {
		out = append(out, *x.entries[key])
	}
	return out
}

// FormatSource renders one Sources-list line: `1. Title — example.com <url>`.
func FormatSource(s Source) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d.", s.Number)
	if title := strings.TrimSpace(s.Title); title != "" {
		b.WriteString(" " + title)
	}
	if domain := extractDomain(s.URL); domain != "" {
		b.WriteString(" (" + domain + ")")
	}
	if link := strings.TrimSpace(s.URL); link != "" {
		b.WriteString(" <" + link + ">")
	}
	return b.String()
}

var citationRefPattern = regexp.MustCompile(`\[(\d+)\]`)

// CitationRefs extracts the distinct [n] reference numbers appearing in a
// Markdown body, sorted ascending.
func CitationRefs(body string) []int {
	seen := make(map[int]struct{})
	for _, m := range citationRefPattern.FindAllStringSubmatch(body, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		seen[n] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// ValidateCitations checks a report body against a source index. It returns
// the referenced numbers with no index entry (broken refs, a hard error for
// the caller) and the indexed numbers never referenced in the body (flagged
// but non-fatal).
func ValidateCitations(body string, x *SourceIndex) (missing, unreferenced []int) {
	refs := CitationRefs(body)
	referenced := make(map[int]struct{}, len(refs))
	for _, n := range refs {
		referenced[n] = struct{}{}
		if n < 1 || n > x.Len() {
			missing = append(missing, n)
		}
	}
	for i := 1; i <= x.Len(); i++ {
		if _, ok := referenced[i]; !ok {
			unreferenced = append(unreferenced, i)
		}
	}
	return missing, unreferenced
}

func extractDomain(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Host)
	host = strings.TrimSuffix(host, ":80")
	host = strings.TrimSuffix(host, ":443")
	return host
}
