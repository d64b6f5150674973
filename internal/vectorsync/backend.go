// Package vectorsync keeps a per-project vector index in step with the
// structured store. A Client owns at most one Backend connection, which for
// the chroma backend is one MCP subprocess.
package vectorsync

import (
	"context"
	"errors"

	"github.com/iammorganparry/clive/apps/projmem/internal/models"
)

// Backend is the transport to one project's vector index.
type Backend interface {
	// Connect establishes the session, spawning the subprocess if needed.
	Connect(ctx context.Context) error
	// EnsureCollection looks up the collection and creates it if absent.
	EnsureCollection(ctx context.Context, name string) error
	// Add indexes one batch of documents.
	Add(ctx context.Context, collection string, docs []Document) error
	// Query returns up to n nearest documents, closest first.
	Query(ctx context.Context, collection, text string, n int, where map[string]string) ([]Match, error)
	// Close releases the connection. It must be safe to call more than once.
	Close() error
}

// BackendFactory builds an unconnected Backend for a project.
type BackendFactory func(project models.Project) (Backend, error)

// Match is one query hit. Distance is cosine distance in [0, 2].
type Match struct {
	ID       string
	Text     string
	Metadata map[string]any
	Distance float64
}

// ErrNoBackend is returned by the factory used when vector search is
// switched off.
var ErrNoBackend = errors.New("vector backend disabled")

// NoBackend is the factory for VECTOR_BACKEND=none.
func NoBackend(models.Project) (Backend, error) {
	return nil, ErrNoBackend
}

// CollectionName derives the collection for a project id.
func CollectionName(projectID string) string {
	return "pm_" + projectID
}
