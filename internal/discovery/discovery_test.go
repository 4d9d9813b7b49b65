package discovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/saorsa-labs/fae/internal/embedding"
	"github.com/saorsa-labs/fae/internal/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger("discovery-test", os.Stderr)
}

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	dir := t.TempDir()
	idx, err := Open(filepath.Join(dir, "discovery.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func vecFor(t *testing.T, text string) []float32 {
	t.Helper()
	eng := embedding.NewHashEngine()
	vec, err := eng.Embed(text)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	return vec
}

func TestIndexSkillThenSearchFindsIt(t *testing.T) {
	idx := openTestIndex(t)
	vec := vecFor(t, "send emails via sendgrid")
	if err := idx.IndexSkill("send-emails-via-sendgrid", "Send Emails", "Sends transactional email via SendGrid.", SourcePython, vec, 1000); err != nil {
		t.Fatalf("index: %v", err)
	}

	results, err := idx.Search(vec, 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].SkillID != "send-emails-via-sendgrid" {
		t.Fatalf("unexpected results: %+v", results)
	}
	if results[0].Score < 0.99 {
		t.Fatalf("want near-1.0 score for identical vector, got %v", results[0].Score)
	}
}

func TestSearchRejectsWrongDimension(t *testing.T) {
	idx := openTestIndex(t)
	if _, err := idx.Search([]float32{1, 2, 3}, 5); err == nil {
		t.Fatal("want error for wrong-dimension query vector")
	}
}

func TestIndexSkillRejectsWrongDimension(t *testing.T) {
	idx := openTestIndex(t)
	if err := idx.IndexSkill("bad", "Bad", "desc", SourcePython, []float32{1, 2}, 1000); err == nil {
		t.Fatal("want error for wrong-dimension embedding")
	}
}

func TestRemoveSkillDropsFromSearch(t *testing.T) {
	idx := openTestIndex(t)
	vec := vecFor(t, "canvas widgets")
	idx.IndexSkill("canvas", "Canvas", "draws widgets", SourceBuiltin, vec, 1000)
	if err := idx.RemoveSkill("canvas"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	results, err := idx.Search(vec, 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("want no results after removal, got %+v", results)
	}
}

func TestIndexSkillUpsertReplacesMetadata(t *testing.T) {
	idx := openTestIndex(t)
	vec := vecFor(t, "weather forecast")
	idx.IndexSkill("weather", "Weather v1", "old description", SourcePython, vec, 1000)
	idx.IndexSkill("weather", "Weather v2", "new description", SourcePython, vec, 2000)

	n, err := idx.IndexedCount()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("want 1 indexed skill after upsert, got %d", n)
	}
	results, err := idx.Search(vec, 1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if results[0].Name != "Weather v2" {
		t.Fatalf("want upserted name, got %q", results[0].Name)
	}
}

func TestSearchResultsAreMonotonicallyNonIncreasingInScore(t *testing.T) {
	idx := openTestIndex(t)
	for _, text := range []string{"send emails", "draw a chart", "open calendar", "fetch weather", "take a note"} {
		idx.IndexSkill(text, text, text, SourcePython, vecFor(t, text), 1000)
	}
	query := vecFor(t, "send transactional emails")
	results, err := idx.Search(query, 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Fatalf("scores not non-increasing: %+v", results)
		}
	}
}

func TestExtractFirstParagraphStopsAtBlankLine(t *testing.T) {
	body := "\n# Heading\n\nThis is the first paragraph.\nIt spans two lines.\n\nThis is a second paragraph that should not be included."
	got := extractFirstParagraph(body)
	want := "This is the first paragraph. It spans two lines."
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestExtractMarkdownSkillText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.md")
	os.WriteFile(path, []byte("# Notes\n\nTakes quick notes and files them by topic.\n"), 0o644)
	name, desc, ok := extractMarkdownSkillText(path)
	if !ok || name != "notes" || desc != "Takes quick notes and files them by topic." {
		t.Fatalf("got name=%q desc=%q ok=%v", name, desc, ok)
	}
}

func TestRebuildIndexesBuiltinCatalog(t *testing.T) {
	idx := openTestIndex(t)
	eng := embedding.NewHashEngine()
	dir := t.TempDir()
	if err := idx.Rebuild(eng, filepath.Join(dir, "skills"), filepath.Join(dir, "python-skills"), 1000, testLogger()); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	n, err := idx.IndexedCount()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != len(builtinCatalog) {
		t.Fatalf("want %d builtin skills indexed, got %d", len(builtinCatalog), n)
	}
}
