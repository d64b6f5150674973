package memory

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammorganparry/clive/apps/projmem/internal/cache"
	"github.com/iammorganparry/clive/apps/projmem/internal/models"
	"github.com/iammorganparry/clive/apps/projmem/internal/vectorsync"
)

// gatedLeaser blocks every lease until release is closed, then fails.
type gatedLeaser struct {
	started chan struct{}
	release chan struct{}
	panics  bool
}

func (g *gatedLeaser) Vector(models.Project) (*cache.Lease[*vectorsync.Client], error) {
	if g.started != nil {
		g.started <- struct{}{}
	}
	if g.release != nil {
		<-g.release
	}
	if g.panics {
		panic("leaser exploded")
	}
	return nil, errors.New("no vector client")
}

var syncProject = models.Project{ID: "p1", Name: "alpha"}

func doc(id string) vectorsync.Document {
	return vectorsync.Document{ID: id, Text: "text"}
}

func TestSyncerDropsWhenFull(t *testing.T) {
	g := &gatedLeaser{started: make(chan struct{}, 4), release: make(chan struct{})}
	s := NewSyncer(g, SyncerOptions{Workers: 1, QueueSize: 1})

	require.True(t, s.Enqueue(syncProject, doc("a")))
	<-g.started // worker holds job a
	require.True(t, s.Enqueue(syncProject, doc("b")))
	assert.False(t, s.Enqueue(syncProject, doc("c")))
	assert.Equal(t, 1, s.Pending())
	assert.Equal(t, int64(1), s.Dropped())

	close(g.release)
	s.Close()
	assert.Equal(t, int64(2), s.Failed())
	assert.Equal(t, int64(0), s.Completed())
}

func TestSyncerRecoversPanics(t *testing.T) {
	g := &gatedLeaser{panics: true}
	s := NewSyncer(g, SyncerOptions{Workers: 1})

	assert.True(t, s.Enqueue(syncProject, doc("a")))
	assert.True(t, s.Enqueue(syncProject, doc("b")))
	s.Close()
	assert.Equal(t, int64(2), s.Failed(), "worker survives the first panic")
}

func TestSyncerAfterClose(t *testing.T) {
	s := NewSyncer(&gatedLeaser{}, SyncerOptions{})
	s.Close()
	s.Close()

	assert.False(t, s.Enqueue(syncProject, doc("a")))
	assert.Equal(t, int64(1), s.Dropped())
	assert.True(t, s.Enqueue(syncProject), "empty jobs are accepted and ignored")
}
