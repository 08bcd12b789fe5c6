// Package ingest implements the Ingestion CLI's worker pool: it discovers
// line-delimited JSON chunk files under a root directory, embeds them in
// batches, and upserts them into the RelationalStore/DenseIndex (spec.md §6
// "Ingestion CLI").
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"

	"github.com/seanblong/curricache/internal/embedder"
	"github.com/seanblong/curricache/internal/store"
	"github.com/seanblong/curricache/pkg/models"
)

// DefaultBatchSize is the number of chunks embedded per EmbedBatch call.
const DefaultBatchSize = 8

// maxWorkers caps concurrency the same way the teacher's indexer caps
// summarization workers, to avoid overwhelming a remote embedding API.
const maxWorkers = 8

// Ingester discovers chunk records and embeds+upserts them.
type Ingester struct {
	Store     store.RelationalStore
	Embed     embedder.Embedder
	Root      string
	BatchSize int
}

func New(s store.RelationalStore, embed embedder.Embedder, root string) *Ingester {
	return &Ingester{Store: s, Embed: embed, Root: root, BatchSize: DefaultBatchSize}
}

// Run walks Root for *.jsonl files, decodes each line as a models.Chunk,
// batches them for embedding, and upserts every chunk with its vector.
func (ig *Ingester) Run(ctx context.Context) error {
	batchSize := ig.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	files, err := discoverChunkFiles(ig.Root)
	if err != nil {
		return fmt.Errorf("ingest: discover files: %w", err)
	}

	chunks, err := readAllChunks(files)
	if err != nil {
		return fmt.Errorf("ingest: read chunks: %w", err)
	}
	log.Info().Int("chunks", len(chunks)).Int("files", len(files)).Msg("discovered curriculum chunks")

	batches := batchChunks(chunks, batchSize)

	numWorkers := runtime.NumCPU()
	if numWorkers > maxWorkers {
		numWorkers = maxWorkers
	}
	if numWorkers > len(batches) && len(batches) > 0 {
		numWorkers = len(batches)
	}
	log.Info().Int("workers", numWorkers).Int("batches", len(batches)).Msg("starting concurrent ingestion")

	workChan := make(chan []models.Chunk, numWorkers*2)
	errCh := make(chan error, 1)

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for batch := range workChan {
				if err := ig.processBatch(ctx, batch); err != nil {
					select {
					case errCh <- err:
					default:
						log.Error().Err(err).Int("worker", workerID).Msg("ingestion batch failed")
					}
				}
			}
		}(i)
	}

	for _, b := range batches {
		select {
		case workChan <- b:
		case <-ctx.Done():
			close(workChan)
			wg.Wait()
			return ctx.Err()
		}
	}
	close(workChan)
	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

func (ig *Ingester) processBatch(ctx context.Context, batch []models.Chunk) error {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Title + "\n" + c.Text
	}
	vecs, err := ig.Embed.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed batch: %w", err)
	}
	for i, c := range batch {
		if err := ig.Store.UpsertChunk(ctx, c, vecs[i]); err != nil {
			log.Error().Err(err).Str("chunk_id", c.ChunkID).Msg("upsert failed")
			continue
		}
		log.Info().Str("chunk_id", c.ChunkID).Str("chunk_type", string(c.ChunkType)).Msg("ingested chunk")
	}
	return nil
}

func batchChunks(chunks []models.Chunk, size int) [][]models.Chunk {
	var out [][]models.Chunk
	for i := 0; i < len(chunks); i += size {
		end := i + size
		if end > len(chunks) {
			end = len(chunks)
		}
		out = append(out, chunks[i:end])
	}
	return out
}

func discoverChunkFiles(root string) ([]string, error) {
	var files []string
	err := godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de != nil && de.IsDir() {
				return nil
			}
			if strings.HasSuffix(strings.ToLower(path), ".jsonl") {
				files = append(files, path)
			}
			return nil
		},
	})
	return files, err
}

func readAllChunks(files []string) ([]models.Chunk, error) {
	var out []models.Chunk
	for _, path := range files {
		chunks, err := readChunkFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, chunks...)
	}
	return out, nil
}

func readChunkFile(path string) ([]models.Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []models.Chunk
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var c models.Chunk
		if err := json.Unmarshal([]byte(line), &c); err != nil {
			return nil, fmt.Errorf("decode line: %w", err)
		}
		out = append(out, c)
	}
	return out, scanner.Err()
}
