package lexical

import (
	"testing"

	"github.com/seanblong/curricache/pkg/models"
)

func TestSearchOnEmptyIndexDegrades(t *testing.T) {
	li := Open("")
	ids, err := li.Search("loops", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected empty results from an unbuilt index, got %v", ids)
	}
}

func TestRebuildThenSearch(t *testing.T) {
	li := Open("")
	defer li.Close()

	chunks := []models.Chunk{
		{ChunkID: "c1", Title: "Loops", Text: "for and while loops in Go"},
		{ChunkID: "c2", Title: "Databases", Text: "relational schema design with Postgres"},
	}
	if err := li.Rebuild(chunks); err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}

	ids, err := li.Search("loops", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) == 0 || ids[0] != "c1" {
		t.Fatalf("expected c1 to match 'loops', got %v", ids)
	}
}

func TestRebuildReplacesPreviousContents(t *testing.T) {
	li := Open("")
	defer li.Close()

	if err := li.Rebuild([]models.Chunk{{ChunkID: "old", Title: "Old", Text: "stale content"}}); err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	if err := li.Rebuild([]models.Chunk{{ChunkID: "new", Title: "New", Text: "fresh content"}}); err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}

	ids, err := li.Search("stale", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected old content to be gone after rebuild, got %v", ids)
	}
}
