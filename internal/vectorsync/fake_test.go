package vectorsync

import (
	"context"
	"errors"
	"sync"

	"github.com/iammorganparry/clive/apps/projmem/internal/models"
)

// fakeBackend records calls and can be told to fail or hang.
type fakeBackend struct {
	mu          sync.Mutex
	connects    int
	collections map[string]bool
	batches     [][]Document
	queries     int
	closed      int
	matches     []Match

	failConnect error
	failAdd     error
	failQuery   error
	hangQuery   bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{collections: make(map[string]bool)}
}

func (f *fakeBackend) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.failConnect
}

func (f *fakeBackend) EnsureCollection(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[name] = true
	return nil
}

func (f *fakeBackend) Add(ctx context.Context, collection string, docs []Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAdd != nil {
		return f.failAdd
	}
	f.batches = append(f.batches, docs)
	return nil
}

func (f *fakeBackend) Query(ctx context.Context, collection, text string, n int, where map[string]string) ([]Match, error) {
	f.mu.Lock()
	f.queries++
	hang, fail, matches := f.hangQuery, f.failQuery, f.matches
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if fail != nil {
		return nil, fail
	}
	if len(matches) > n {
		matches = matches[:n]
	}
	return matches, nil
}

func (f *fakeBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

// factoryOf always hands out the same fake so tests can inspect it.
func factoryOf(f *fakeBackend, built *int) BackendFactory {
	return func(models.Project) (Backend, error) {
		if built != nil {
			*built++
		}
		return f, nil
	}
}

var errBoom = errors.New("boom")
