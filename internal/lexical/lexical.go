// Package lexical implements LexicalIndex, a BM25 search over an
// in-process Bleve inverted index built from title/text fields.
package lexical

import (
	"fmt"
	"os"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/curricache/pkg/models"
)

// Index is the LexicalIndex implementation (spec.md §4.3): rebuild
// atomically replaces the index, search returns BM25-ranked chunk ids, and
// an empty or unopenable index degrades silently to an empty result.
type Index struct {
	mu   sync.RWMutex
	path string
	idx  bleve.Index
}

// Open opens the on-disk index at path if present; otherwise the index is
// left unset until the first Rebuild builds one (on disk at path, or in
// memory when path is empty). A missing
// index is a valid, degraded state per spec.md §4.3 — search still works,
// it just returns nothing until Rebuild runs.
func Open(path string) *Index {
	li := &Index{path: path}
	if path == "" {
		return li
	}
	if _, err := os.Stat(path); err != nil {
		return li
	}
	idx, err := bleve.Open(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("lexical index unopenable, degrading to dense-only")
		return li
	}
	li.idx = idx
	return li
}

func chunkMapping() *mapping.IndexMappingImpl {
	m := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = "en"

	doc.AddFieldMappingsAt("title", textField)
	doc.AddFieldMappingsAt("text", textField)
	m.AddDocumentMapping("chunk", doc)
	m.DefaultMapping = doc
	return m
}

type indexable struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Rebuild atomically replaces the index contents with the given chunks.
// It builds a fresh index (on disk if a path was configured, otherwise
// in memory) and swaps it in only after the build succeeds.
func (li *Index) Rebuild(chunks []models.Chunk) error {
	var fresh bleve.Index
	var err error
	if li.path != "" {
		tmp := li.path + ".rebuild"
		_ = os.RemoveAll(tmp)
		fresh, err = bleve.New(tmp, chunkMapping())
	} else {
		fresh, err = bleve.NewMemOnly(chunkMapping())
	}
	if err != nil {
		return fmt.Errorf("lexical rebuild: open fresh index: %w", err)
	}

	batch := fresh.NewBatch()
	for _, c := range chunks {
		doc := indexable{Title: c.Title, Text: c.Text}
		if err := batch.Index(c.ChunkID, doc); err != nil {
			return fmt.Errorf("lexical rebuild: batch index %s: %w", c.ChunkID, err)
		}
		if batch.Size() >= 500 {
			if err := fresh.Batch(batch); err != nil {
				return fmt.Errorf("lexical rebuild: flush batch: %w", err)
			}
			batch = fresh.NewBatch()
		}
	}
	if batch.Size() > 0 {
		if err := fresh.Batch(batch); err != nil {
			return fmt.Errorf("lexical rebuild: flush final batch: %w", err)
		}
	}

	li.mu.Lock()
	old := li.idx
	li.idx = fresh
	li.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	if li.path != "" {
		final := li.path
		_ = os.RemoveAll(final)
		_ = os.Rename(li.path+".rebuild", final)
	}
	return nil
}

// Search returns BM25-ranked chunk ids for queryText. Special query syntax
// is escaped — end users never see an operator surface. An empty/missing
// index returns an empty sequence rather than an error.
func (li *Index) Search(queryText string, topK int) ([]string, error) {
	li.mu.RLock()
	idx := li.idx
	li.mu.RUnlock()
	if idx == nil {
		return []string{}, nil
	}

	mq := bleve.NewMatchQuery(queryText)
	mq.SetField("title")
	mq2 := bleve.NewMatchQuery(queryText)
	mq2.SetField("text")
	dq := bleve.NewDisjunctionQuery(mq, mq2)

	req := bleve.NewSearchRequestOptions(dq, topK, 0, false)
	res, err := idx.Search(req)
	if err != nil {
		return []string{}, nil
	}

	out := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		out = append(out, hit.ID)
	}
	return out, nil
}

func (li *Index) Close() error {
	li.mu.RLock()
	defer li.mu.RUnlock()
	if li.idx == nil {
		return nil
	}
	return li.idx.Close()
}
