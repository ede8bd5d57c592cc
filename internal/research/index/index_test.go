package index

import (
	"testing"
)

func addSample(t *testing.T, x *Index) {
	t.Helper()
	docs := []Document{
		{
			URL:        "https://example.com/goroutines",
			Title:      "Understanding Goroutines",
			Content:    "Goroutines are lightweight threads managed by the Go runtime. The scheduler multiplexes goroutines onto OS threads.",
			SubtopicID: "st-1",
		},
		{
			URL:        "https://example.com/channels",
			Title:      "Channel Patterns",
			Content:    "Channels provide communication between goroutines. Buffered channels decouple senders from receivers.",
			SubtopicID: "st-1",
		},
		{
			URL:        "https://example.com/gc",
			Title:      "Garbage Collection",
			Content:    "The collector runs concurrently with the program, using a tri-color mark and sweep algorithm.",
			SubtopicID: "st-2",
		},
	}
	for _, d := range docs {
		if err := x.Add(d); err != nil {
			t.Fatalf("Add(%s): %v", d.URL, err)
		}
	}
}

func TestSearchRanksMatches(t *testing.T) {
	t.Parallel()
	x, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer x.Close()
	addSample(t, x)

	hits, err := x.Search("goroutines scheduler", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("no hits for indexed term")
	}
	if hits[0].URL != "https://example.com/goroutines" {
		t.Fatalf("top hit = %s", hits[0].URL)
	}
}

func TestSearchMaxCap(t *testing.T) {
	t.Parallel()
	x, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer x.Close()
	addSample(t, x)

	hits, err := x.Search("goroutines channels collector", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) > 1 {
		t.Fatalf("got %d hits, want <= 1", len(hits))
	}
}

func TestAddReplacesSameURL(t *testing.T) {
	t.Parallel()
	x, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer x.Close()

	doc := Document{URL: "https://example.com/page", Title: "v1", Content: "first version"}
	if err := x.Add(doc); err != nil {
		t.Fatalf("Add: %v", err)
	}
	doc.Title = "v2"
	doc.Content = "second version"
	if err := x.Add(doc); err != nil {
		t.Fatalf("Add (replace): %v", err)
	}
	n, err := x.DocCount()
	if err != nil {
		t.Fatalf("DocCount: %v", err)
	}
	if n != 1 {
		t.Fatalf("doc count = %d, want 1", n)
	}
}

func TestAddRequiresURL(t *testing.T) {
	t.Parallel()
	x, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer x.Close()
	if err := x.Add(Document{Title: "no url"}); err == nil {
		t.Fatal("expected error for document without URL")
	}
}

func TestOpenPersistsAcrossReopen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	x, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	addSample(t, x)
	if err := x.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	x2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer x2.Close()
	n, err := x2.DocCount()
	if err != nil {
		t.Fatalf("DocCount: %v", err)
	}
	if n != 3 {
		t.Fatalf("doc count after reopen = %d, want 3", n)
	}
}
