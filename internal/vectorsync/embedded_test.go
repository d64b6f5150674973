package vectorsync

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammorganparry/clive/apps/projmem/internal/models"
)

// hashEmbed builds a deterministic unit vector from the words of text, so
// texts sharing words land close together.
func hashEmbed(ctx context.Context, text string) ([]float32, error) {
	const dims = 64
	vec := make([]float32, dims)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		h.Write([]byte(w))
		vec[h.Sum64()%dims] += 1
	}
	var sum float64
	for _, v := range vec {
		sum += float64(v * v)
	}
	norm := float32(math.Sqrt(sum))
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	for i := range vec {
		vec[i] /= norm
	}
	return vec, nil
}

func TestEmbeddedBackendRoundTrip(t *testing.T) {
	project := models.Project{ID: "emb", DataDir: t.TempDir()}
	c := New(project, EmbeddedFactory(hashEmbed), Options{})
	defer c.Close()
	ctx := context.Background()

	docs := []Document{
		{ID: "prompt_1", Text: "sqlite full text search index", Metadata: map[string]any{MetaDocType: "prompt", MetaSQLiteID: "1"}},
		{ID: "prompt_2", Text: "kubernetes helm chart values", Metadata: map[string]any{MetaDocType: "prompt", MetaSQLiteID: "2"}},
	}
	require.NoError(t, c.Upsert(ctx, docs))

	// More candidates than documents must not fail.
	matches, err := c.Search(ctx, "sqlite full text search index", 10, nil)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "prompt_1", matches[0].ID)
	assert.InDelta(t, 0, matches[0].Distance, 1e-4)
	assert.Greater(t, matches[1].Distance, matches[0].Distance)
	assert.Equal(t, "1", matches[0].Metadata[MetaSQLiteID])

	filtered, err := c.Search(ctx, "helm", 1, map[string]string{MetaSQLiteID: "2"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "prompt_2", filtered[0].ID)
}

func TestEmbeddedBackendEmptyCollection(t *testing.T) {
	project := models.Project{ID: "empty", DataDir: t.TempDir()}
	c := New(project, EmbeddedFactory(hashEmbed), Options{})
	defer c.Close()

	matches, err := c.Search(context.Background(), "anything", 5, nil)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestEmbeddedBackendPersists(t *testing.T) {
	project := models.Project{ID: "persist", DataDir: t.TempDir()}
	ctx := context.Background()

	c := New(project, EmbeddedFactory(hashEmbed), Options{})
	require.NoError(t, c.Upsert(ctx, []Document{{ID: "summary_9", Text: "release checklist", Metadata: map[string]any{MetaDocType: "summary"}}}))
	require.NoError(t, c.Close())

	c2 := New(project, EmbeddedFactory(hashEmbed), Options{})
	defer c2.Close()
	matches, err := c2.Search(ctx, "release checklist", 1, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "summary_9", matches[0].ID)
}
