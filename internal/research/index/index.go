// Package index maintains a per-run full-text index over scraped pages.
// When the budget forces cached mode, search queries run against this index
// instead of the network, so late subtopics can still draw on everything
// already fetched.
package index

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/blevesearch/bleve"
	_ "github.com/blevesearch/bleve/search/highlight/highlighter/ansi"
	"github.com/blevesearch/bleve/search/query"
)

// Document is one indexed page.
type Document struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	SubtopicID string `json:"subtopic_id"`
}

// Hit is a scored match from the local index.
type Hit struct {
	URL      string
	Title    string
	Score    float64
	Fragment string
}

// Index wraps a bleve index keyed by canonical URL.
type Index struct {
	idx bleve.Index
}

// Open opens or creates the on-disk index under the run directory. Pages
// indexed before a crash stay searchable after resume.
func Open(runDir string) (*Index, error) {
	path := filepath.Join(runDir, "index.bleve")
	idx, err := bleve.Open(path)
	if err == nil {
		return &Index{idx: idx}, nil
	}
	if err != bleve.ErrorIndexPathDoesNotExist {
		// A half-written index is useless; rebuild from scratch. The pages
		// themselves live in checkpoints, not here.
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return nil, fmt.Errorf("open index: %w", err)
		}
	}
	idx, err = bleve.New(path, bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	return &Index{idx: idx}, nil
}

// OpenMemory creates an in-memory index, for tests and one-shot runs.
func OpenMemory() (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &Index{idx: idx}, nil
}

// Add indexes one page, replacing any previous document for the same URL.
func (x *Index) Add(doc Document) error {
	if doc.URL == "" {
		return fmt.Errorf("index document without URL")
	}
	return x.idx.Index(doc.URL, doc)
}

// Search matches the query against indexed pages and returns up to max hits
// in descending score order.
func (x *Index) Search(q string, max int) ([]Hit, error) {
	if max <= 0 {
		max = 10
	}
	req := bleve.NewSearchRequestOptions(matchQuery(q), max, 0, false)
	req.Fields = []string{"url", "title"}
	req.Highlight = bleve.NewHighlightWithStyle("ansi")
	req.Highlight.AddField("content")

	res, err := x.idx.Search(req)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := Hit{URL: h.ID, Score: h.Score}
		if t, ok := h.Fields["title"].(string); ok {
			hit.Title = t
		}
		if frags, ok := h.Fragments["content"]; ok && len(frags) > 0 {
			hit.Fragment = frags[0]
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// DocCount reports how many pages are indexed.
func (x *Index) DocCount() (uint64, error) {
	return x.idx.DocCount()
}

// Close flushes and releases the index.
func (x *Index) Close() error {
	return x.idx.Close()
}

func matchQuery(q string) query.Query {
	mq := bleve.NewMatchQuery(q)
	mq.SetField("content")
	tq := bleve.NewMatchQuery(q)
	tq.SetField("title")
	return bleve.NewDisjunctionQuery(mq, tq)
}
