package vectorsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iammorganparry/clive/apps/projmem/internal/memerr"
	"github.com/iammorganparry/clive/apps/projmem/internal/models"
)

// State is the connection state of a Client.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ErrClosed is returned for calls on a closed Client.
var ErrClosed = errors.New("vector client closed")

// Options tunes a Client. Zero values take the defaults.
type Options struct {
	CallTimeout time.Duration
	BatchSize   int
	ChunkSize   int
	Logger      *slog.Logger
}

// Client owns one project's vector backend. Operations are serialized; any
// backend error drops the connection so the next call reconnects.
type Client struct {
	project    models.Project
	collection string
	factory    BackendFactory
	opts       Options
	logger     *slog.Logger

	mu              sync.Mutex
	backend         Backend
	collectionReady bool
	closed          bool

	state atomic.Int32
}

// New returns a disconnected client. Nothing is spawned until the first
// operation.
func New(project models.Project, factory BackendFactory, opts Options) *Client {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if factory == nil {
		factory = NoBackend
	}
	return &Client{
		project:    project,
		collection: CollectionName(project.ID),
		factory:    factory,
		opts:       opts,
		logger:     logger.With("component", "vectorsync", "project_id", project.ID),
	}
}

// Project returns the identity this client serves.
func (c *Client) Project() models.Project {
	return c.project
}

// Collection returns the collection name.
func (c *Client) Collection() string {
	return c.collection
}

// State returns the current connection state without blocking.
func (c *Client) State() State {
	return State(c.state.Load())
}

// EnsureConnection connects the backend if it is not connected.
func (c *Client) EnsureConnection(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

// EnsureCollection connects if needed and makes sure the project's
// collection exists.
func (c *Client) EnsureCollection(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collectionLocked(ctx)
}

// Upsert chunks and indexes docs in batches. A failed batch aborts the
// remaining ones.
func (c *Client) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	var chunks []Document
	for _, d := range docs {
		chunks = append(chunks, ChunkDocument(d, c.opts.ChunkSize)...)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.collectionLocked(ctx); err != nil {
		return err
	}

	for i, batch := range Batches(chunks, c.opts.BatchSize) {
		err := c.call(ctx, func(ctx context.Context) error {
			return c.backend.Add(ctx, c.collection, batch)
		})
		if err != nil {
			return c.failLocked("vector upsert", fmt.Errorf("batch %d: %w", i, err))
		}
	}

	c.logger.Debug("documents indexed", "documents", len(docs), "chunks", len(chunks))
	return nil
}

// Search returns up to limit nearest matches for query.
func (c *Client) Search(ctx context.Context, query string, limit int, where map[string]string) ([]Match, error) {
	if limit <= 0 {
		limit = 10
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.collectionLocked(ctx); err != nil {
		return nil, err
	}

	var matches []Match
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		matches, err = c.backend.Query(ctx, c.collection, query, limit, where)
		return err
	})
	if err != nil {
		return nil, c.failLocked("vector search", err)
	}
	return matches, nil
}

// Close terminates the backend. It is safe to call more than once; later
// operations fail with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var err error
	if c.backend != nil {
		err = c.backend.Close()
		c.backend = nil
	}
	c.collectionReady = false
	c.state.Store(int32(Disconnected))
	c.logger.Debug("vector client closed")
	return err
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.closed {
		return memerr.Unavailable("vector connect", ErrClosed)
	}
	if c.backend != nil && c.State() == Connected {
		return nil
	}

	c.state.Store(int32(Connecting))
	b, err := c.factory(c.project)
	if err != nil {
		c.state.Store(int32(Disconnected))
		return memerr.Unavailable("vector connect", err)
	}

	err = c.call(ctx, b.Connect)
	if err != nil {
		b.Close()
		c.state.Store(int32(Disconnected))
		return classify("vector connect", err)
	}

	c.backend = b
	c.collectionReady = false
	c.state.Store(int32(Connected))
	c.logger.Info("vector backend connected", "collection", c.collection)
	return nil
}

func (c *Client) collectionLocked(ctx context.Context) error {
	if err := c.connectLocked(ctx); err != nil {
		return err
	}
	if c.collectionReady {
		return nil
	}

	err := c.call(ctx, func(ctx context.Context) error {
		return c.backend.EnsureCollection(ctx, c.collection)
	})
	if err != nil {
		return c.failLocked("vector ensure collection", err)
	}
	c.collectionReady = true
	return nil
}

// call runs fn under the per-call timeout.
func (c *Client) call(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()
	return fn(ctx)
}

// failLocked drops the connection after a backend error. The old backend
// is closed in the background since a wedged subprocess may be slow to die.
func (c *Client) failLocked(op string, err error) error {
	if b := c.backend; b != nil {
		go func() {
			if cerr := b.Close(); cerr != nil {
				c.logger.Debug("close failed backend", "error", cerr)
			}
		}()
	}
	c.backend = nil
	c.collectionReady = false
	c.state.Store(int32(Disconnected))
	c.logger.Warn("vector backend disconnected", "op", op, "error", err)
	return classify(op, err)
}

// classify maps timeouts to TransientIO and everything else to Unavailable.
func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return memerr.New(memerr.KindTransientIO, op, err)
	}
	return memerr.Unavailable(op, err)
}
