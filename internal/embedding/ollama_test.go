package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammorganparry/clive/apps/projmem/internal/memerr"
)

func TestOllamaEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		assert.Equal(t, "hello", req.Input)
		w.Write([]byte(`{"embeddings":[[0.1,0.2,0.3]]}`))
	}))
	defer srv.Close()

	vec, err := NewOllamaClient(srv.URL+"/", "nomic-embed-text").Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestOllamaEmbedErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{"model missing", http.StatusNotFound, `{"error":"model \"nomic-embed-text\" not found, try pulling it first"}`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrModelMissing)
		}},
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`, func(t *testing.T, err error) {
			assert.Equal(t, memerr.KindUnavailable, memerr.KindOf(err))
		}},
		{"empty embedding", http.StatusOK, `{"embeddings":[]}`, func(t *testing.T, err error) {
			assert.Equal(t, memerr.KindCorrupt, memerr.KindOf(err))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewOllamaClient(srv.URL, "nomic-embed-text").Embed(context.Background(), "x")
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestOllamaUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewOllamaClient(url, "m").Embed(context.Background(), "x")
	assert.Equal(t, memerr.KindUnavailable, memerr.KindOf(err))
	assert.Equal(t, memerr.KindUnavailable, memerr.KindOf(NewOllamaClient(url, "m").HealthCheck(context.Background())))
}

func TestOllamaHealthCheckRequiresModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.Write([]byte(`{"models":[{"name":"nomic-embed-text:latest"},{"name":"qwen2.5:1.5b"}]}`))
	}))
	defer srv.Close()

	assert.NoError(t, NewOllamaClient(srv.URL, "nomic-embed-text").HealthCheck(context.Background()))
	assert.NoError(t, NewOllamaClient(srv.URL, "qwen2.5:1.5b").HealthCheck(context.Background()))

	err := NewOllamaClient(srv.URL, "mxbai-embed-large").HealthCheck(context.Background())
	assert.True(t, errors.Is(err, ErrModelMissing))
	assert.Contains(t, err.Error(), "ollama pull mxbai-embed-large")
}

type countingEmbedder struct {
	calls atomic.Int32
}

func (e *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	return []float32{float32(len(text))}, nil
}

func TestCachedEmbedderSkipsRepeats(t *testing.T) {
	next := &countingEmbedder{}
	embed := NewCachedEmbedder(next, 2).Func()

	for _, text := range []string{"a", "a", "bb", "a"} {
		_, err := embed(context.Background(), text)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), next.calls.Load())

	// "a" was used last, so "ccc" evicts "bb".
	_, _ = embed(context.Background(), "ccc")
	_, _ = embed(context.Background(), "a")
	assert.Equal(t, int32(3), next.calls.Load())
	_, _ = embed(context.Background(), "bb")
	assert.Equal(t, int32(4), next.calls.Load())
}
