// Package chromem implements the long-term memory port on an embedded
// chromem-go vector store.
package chromem

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	chromemgo "github.com/philippgille/chromem-go"

	"github.com/cordonlabs/sentra/internal/port/memory"
)

const collectionName = "sentra-memory"

// Store is a chromem-backed long-term memory store.
type Store struct {
	db  *chromemgo.DB
	col *chromemgo.Collection
}

// New creates a store. An empty path keeps everything in memory; otherwise
// the store persists under path. embed may be nil, in which case chromem's
// default embedding backend is used (requires OPENAI_API_KEY).
func New(path string, embed chromemgo.EmbeddingFunc) (*Store, error) {
	var (
		db  *chromemgo.DB
		err error
	)
	if path == "" {
		db = chromemgo.NewDB()
	} else {
		db, err = chromemgo.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db: %w", err)
		}
	}

	if embed == nil {
		embed = chromemgo.NewEmbeddingFuncDefault()
	}
	col, err := db.GetOrCreateCollection(collectionName, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("open collection: %w", err)
	}
	return &Store{db: db, col: col}, nil
}

// Add embeds and stores documents. Documents without an ID get one.
func (s *Store) Add(ctx context.Context, docs []memory.Document) error {
	if len(docs) == 0 {
		return nil
	}
	out := make([]chromemgo.Document, len(docs))
	for i, d := range docs {
		id := d.ID
		if id == "" {
			id = uuid.NewString()
		}
		out[i] = chromemgo.Document{ID: id, Content: d.Content}
	}
	if err := s.col.AddDocuments(ctx, out, 1); err != nil {
		return fmt.Errorf("add documents: %w", err)
	}
	return nil
}

// Query returns up to limit documents similar to text, best first. An empty
// collection returns no results, not an error.
func (s *Store) Query(ctx context.Context, text string, limit int) ([]memory.Document, error) {
	n := s.col.Count()
	if n == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > n {
		limit = n
	}

	results, err := s.col.Query(ctx, text, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	docs := make([]memory.Document, len(results))
	for i, r := range results {
		docs[i] = memory.Document{ID: r.ID, Content: r.Content, Score: r.Similarity}
	}
	return docs, nil
}
