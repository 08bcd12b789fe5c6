package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/seanblong/curricache/pkg/models"
)

func TestBatchChunks(t *testing.T) {
	chunks := make([]models.Chunk, 10)
	for i := range chunks {
		chunks[i] = models.Chunk{ChunkID: string(rune('a' + i))}
	}
	batches := batchChunks(chunks, 4)
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	if len(batches[0]) != 4 || len(batches[1]) != 4 || len(batches[2]) != 2 {
		t.Fatalf("unexpected batch sizes: %v %v %v", len(batches[0]), len(batches[1]), len(batches[2]))
	}
}

func TestReadChunkFileAndDiscover(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	content := `{"chunk_id":"C1-T1","chunk_type":"topic","title":"Topic 1","text":"about topic 1"}
{"chunk_id":"C1-T2","chunk_type":"topic","title":"Topic 2","text":"about topic 2"}
`
	path := filepath.Join(sub, "topics.jsonl")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644); err != nil {
		t.Fatal(err)
	}

	files, err := discoverChunkFiles(dir)
	if err != nil {
		t.Fatalf("discoverChunkFiles: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 jsonl file, got %v", files)
	}

	chunks, err := readChunkFile(files[0])
	if err != nil {
		t.Fatalf("readChunkFile: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].ChunkID != "C1-T1" || chunks[0].ChunkType != models.ChunkTopic {
		t.Errorf("unexpected chunk: %+v", chunks[0])
	}
}
