package vectorsync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/iammorganparry/clive/apps/projmem/internal/models"
)

// EmbedFunc computes the embedding for one text.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// EmbeddedFactory returns a BackendFactory that keeps each project's index
// in-process with chromem-go, persisted under the project data dir.
func EmbeddedFactory(embed EmbedFunc) BackendFactory {
	return func(project models.Project) (Backend, error) {
		if embed == nil {
			return nil, errors.New("embedded backend requires an embedding function")
		}
		return &EmbeddedBackend{
			dir:   filepath.Join(project.DataDir, VectorDirName),
			embed: chromem.EmbeddingFunc(embed),
		}, nil
	}
}

// EmbeddedBackend stores vectors in a chromem-go persistent DB. Distances
// are reported as 1 - cosine similarity.
type EmbeddedBackend struct {
	dir   string
	embed chromem.EmbeddingFunc

	mu sync.Mutex
	db *chromem.DB
}

func (b *EmbeddedBackend) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db != nil {
		return nil
	}
	db, err := chromem.NewPersistentDB(b.dir, false)
	if err != nil {
		return fmt.Errorf("open vector db %s: %w", b.dir, err)
	}
	b.db = db
	return nil
}

func (b *EmbeddedBackend) EnsureCollection(ctx context.Context, name string) error {
	db, err := b.handle()
	if err != nil {
		return err
	}
	if _, err := db.GetOrCreateCollection(name, nil, b.embed); err != nil {
		return fmt.Errorf("get or create collection %s: %w", name, err)
	}
	return nil
}

func (b *EmbeddedBackend) Add(ctx context.Context, collection string, docs []Document) error {
	col, err := b.collection(collection)
	if err != nil {
		return err
	}

	cdocs := make([]chromem.Document, len(docs))
	for i, d := range docs {
		meta := make(map[string]string, len(d.Metadata))
		for k := range d.Metadata {
			meta[k] = metaString(d.Metadata, k)
		}
		cdocs[i] = chromem.Document{ID: d.ID, Content: d.Text, Metadata: meta}
	}

	if err := col.AddDocuments(ctx, cdocs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("add documents: %w", err)
	}
	return nil
}

func (b *EmbeddedBackend) Query(ctx context.Context, collection, text string, n int, where map[string]string) ([]Match, error) {
	col, err := b.collection(collection)
	if err != nil {
		return nil, err
	}

	// chromem rejects n larger than the collection.
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	n = min(n, count)

	results, err := col.Query(ctx, text, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		meta := make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			meta[k] = v
		}
		dist := 1 - float64(r.Similarity)
		dist = max(0, min(2, dist))
		matches = append(matches, Match{ID: r.ID, Text: r.Content, Metadata: meta, Distance: dist})
	}
	return matches, nil
}

func (b *EmbeddedBackend) Close() error {
	b.mu.Lock()
	b.db = nil
	b.mu.Unlock()
	return nil
}

func (b *EmbeddedBackend) handle() (*chromem.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil, errors.New("embedded backend not connected")
	}
	return b.db, nil
}

func (b *EmbeddedBackend) collection(name string) (*chromem.Collection, error) {
	db, err := b.handle()
	if err != nil {
		return nil, err
	}
	col := db.GetCollection(name, b.embed)
	if col == nil {
		return nil, fmt.Errorf("collection %s does not exist", name)
	}
	return col, nil
}
