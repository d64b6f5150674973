package memory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammorganparry/clive/apps/projmem/internal/cache"
	"github.com/iammorganparry/clive/apps/projmem/internal/memerr"
	"github.com/iammorganparry/clive/apps/projmem/internal/models"
	"github.com/iammorganparry/clive/apps/projmem/internal/registry"
	"github.com/iammorganparry/clive/apps/projmem/internal/search"
	"github.com/iammorganparry/clive/apps/projmem/internal/sessions"
	"github.com/iammorganparry/clive/apps/projmem/internal/vectorsync"
)

// recorder is a vector backend that keeps every indexed document.
type recorder struct {
	mu   sync.Mutex
	docs map[string]vectorsync.Document
}

func newRecorder() *recorder {
	return &recorder{docs: make(map[string]vectorsync.Document)}
}

func (r *recorder) factory(models.Project) (vectorsync.Backend, error) { return r, nil }

func (r *recorder) Connect(context.Context) error                  { return nil }
func (r *recorder) EnsureCollection(context.Context, string) error { return nil }
func (r *recorder) Close() error                                   { return nil }

func (r *recorder) Add(_ context.Context, _ string, docs []vectorsync.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range docs {
		r.docs[d.ID] = d
	}
	return nil
}

func (r *recorder) Query(_ context.Context, _, text string, n int, _ map[string]string) ([]vectorsync.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []vectorsync.Match
	for _, d := range r.docs {
		if strings.Contains(d.Text, text) {
			out = append(out, vectorsync.Match{ID: d.ID, Text: d.Text, Metadata: d.Metadata, Distance: 0.1})
		}
	}
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (r *recorder) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.docs))
	for id := range r.docs {
		ids = append(ids, id)
	}
	return ids
}

type env struct {
	svc      *Service
	reg      *registry.Registry
	manager  *cache.Manager
	syncer   *Syncer
	recorder *recorder
	deps     Deps
}

func newEnv(t *testing.T, backend vectorsync.BackendFactory, summarizer *sessions.Summarizer) *env {
	t.Helper()
	root := t.TempDir()
	reg, err := registry.Open(filepath.Join(root, "projects.json"), root, registry.Options{})
	require.NoError(t, err)

	rec := newRecorder()
	if backend == nil {
		backend = rec.factory
	}
	manager := cache.NewManager(cache.ManagerConfig{Backend: backend})
	syncer := NewSyncer(manager, SyncerOptions{Workers: 2})
	t.Cleanup(func() {
		syncer.Close()
		manager.Close()
		reg.Close()
	})

	deps := Deps{
		Projects:      reg,
		Resources:     manager,
		Searcher:      search.NewOrchestrator(reg, manager, search.Config{}),
		Syncer:        syncer,
		Summarizer:    summarizer,
		VectorBackend: "test",
	}
	return &env{svc: NewService(deps), reg: reg, manager: manager, syncer: syncer, recorder: rec, deps: deps}
}

func TestCreateSessionIsIdempotent(t *testing.T) {
	e := newEnv(t, nil, nil)
	ctx := context.Background()

	first, err := e.svc.CreateSession(ctx, &models.CreateSessionRequest{SessionID: "s1", ProjectPath: "/work/alpha"})
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, models.SessionActive, first.Session.Status)

	again, err := e.svc.CreateSession(ctx, &models.CreateSessionRequest{SessionID: "s1", ProjectPath: "/work/alpha/"})
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, first.Session.ID, again.Session.ID)
	assert.Equal(t, 1, e.reg.Len())

	_, err = e.svc.CreateSession(ctx, &models.CreateSessionRequest{SessionID: "s2"})
	assert.True(t, errors.Is(err, memerr.ErrInvalid))
}

func TestInsertRequiresKnownSession(t *testing.T) {
	e := newEnv(t, nil, nil)
	_, err := e.svc.InsertPrompt(context.Background(), &models.PromptRequest{SessionID: "ghost", Content: "hi"})
	assert.True(t, errors.Is(err, memerr.ErrNotFound))

	_, err = e.svc.InsertPrompt(context.Background(), &models.PromptRequest{Content: "hi"})
	assert.True(t, errors.Is(err, memerr.ErrInvalid))
}

func TestInsertWithProjectPathCreatesSession(t *testing.T) {
	e := newEnv(t, nil, nil)
	ctx := context.Background()

	p, err := e.svc.InsertPrompt(ctx, &models.PromptRequest{SessionID: "s1", ProjectPath: "/work/alpha", Content: "add retries"})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)

	detail, err := e.svc.GetSession(ctx, "s1", "")
	require.NoError(t, err)
	assert.Equal(t, "/work/alpha", detail.Session.ProjectPath)
	require.Len(t, detail.Records, 1)
	assert.Equal(t, "add retries", detail.Records[0].Content)
	assert.Nil(t, detail.Summary)
}

func TestSessionLocatedByScan(t *testing.T) {
	e := newEnv(t, nil, nil)
	ctx := context.Background()
	_, err := e.svc.CreateSession(ctx, &models.CreateSessionRequest{SessionID: "s1", ProjectPath: "/work/alpha"})
	require.NoError(t, err)
	_, err = e.svc.CreateSession(ctx, &models.CreateSessionRequest{SessionID: "s2", ProjectPath: "/work/beta"})
	require.NoError(t, err)

	// A fresh service has an empty session index.
	fresh := NewService(e.deps)
	r, err := fresh.InsertResponse(ctx, &models.ResponseRequest{SessionID: "s2", Content: "done"})
	require.NoError(t, err)
	assert.Equal(t, "s2", r.SessionID)

	detail, err := fresh.GetSession(ctx, "s2", "")
	require.NoError(t, err)
	assert.Equal(t, "beta", detail.Project.Name)
}

func TestWritesAreIndexedInBackground(t *testing.T) {
	e := newEnv(t, nil, nil)
	ctx := context.Background()

	p, err := e.svc.InsertPrompt(ctx, &models.PromptRequest{SessionID: "s1", ProjectPath: "/work/alpha", Content: "cache eviction"})
	require.NoError(t, err)
	o, err := e.svc.InsertObservation(ctx, &models.ObservationRequest{SessionID: "s1", ToolName: "Bash", ToolInput: "go test ./..."})
	require.NoError(t, err)

	e.syncer.Close()
	assert.ElementsMatch(t, []string{"prompt_" + p.ID, "observation_" + o.ID}, e.recorder.ids())
	assert.Equal(t, int64(2), e.syncer.Completed())

	doc := e.recorder.docs["observation_"+o.ID]
	assert.Equal(t, "Bash", doc.Metadata[vectorsync.MetaToolName])
	assert.Equal(t, "s1", doc.Metadata[vectorsync.MetaSessionID])
}

func TestSyncFailureDoesNotFailWrite(t *testing.T) {
	e := newEnv(t, vectorsync.NoBackend, nil)
	ctx := context.Background()

	_, err := e.svc.InsertPrompt(ctx, &models.PromptRequest{SessionID: "s1", ProjectPath: "/work/alpha", Content: "still stored"})
	require.NoError(t, err)

	e.syncer.Close()
	assert.Equal(t, int64(1), e.syncer.Failed())

	resp, err := e.svc.Search(ctx, models.SearchRequest{Query: "stored", ProjectPath: "/work/alpha"})
	require.NoError(t, err)
	assert.Equal(t, models.SearchKeyword, resp.Method)
	require.Len(t, resp.Results, 1)
}

func TestHybridSearchAfterSync(t *testing.T) {
	e := newEnv(t, nil, nil)
	ctx := context.Background()

	p, err := e.svc.InsertPrompt(ctx, &models.PromptRequest{SessionID: "s1", ProjectPath: "/work/alpha", Content: "flaky integration test"})
	require.NoError(t, err)
	e.syncer.Close()

	resp, err := e.svc.Search(ctx, models.SearchRequest{Query: "flaky", ProjectPath: "/work/alpha"})
	require.NoError(t, err)
	assert.Equal(t, models.SearchHybrid, resp.Method)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, p.ID, resp.Results[0].ID)
	assert.Equal(t, models.SourceHybrid, resp.Results[0].Source)
	assert.InDelta(t, 0.95, resp.Results[0].Similarity, 1e-9)
}

func TestStopSession(t *testing.T) {
	e := newEnv(t, nil, nil)
	ctx := context.Background()
	_, err := e.svc.CreateSession(ctx, &models.CreateSessionRequest{SessionID: "s1", ProjectPath: "/work/alpha"})
	require.NoError(t, err)

	sess, err := e.svc.StopSession(ctx, &models.StopSessionRequest{SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, sess.Status)
	assert.NotNil(t, sess.EndedAt)

	_, err = e.svc.StopSession(ctx, &models.StopSessionRequest{SessionID: "nope"})
	assert.True(t, errors.Is(err, memerr.ErrNotFound))
}

func TestUpsertSummaryReplaces(t *testing.T) {
	e := newEnv(t, nil, nil)
	ctx := context.Background()

	first, err := e.svc.UpsertSummary(ctx, &models.SummaryRequest{SessionID: "s1", ProjectPath: "/work/alpha", StatsSummary: "1 prompts"})
	require.NoError(t, err)
	second, err := e.svc.UpsertSummary(ctx, &models.SummaryRequest{SessionID: "s1", StatsSummary: "2 prompts", AISummary: "refactored the cache"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "2 prompts", second.StatsSummary)

	stats, err := e.svc.ProjectStats(ctx, e.reg.List()[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ByType[models.RecordSummary])
}

func TestSummarizeSession(t *testing.T) {
	t.Run("stats only when disabled", func(t *testing.T) {
		e := newEnv(t, nil, sessions.NewSummarizer("http://unused", "m", false, nil))
		ctx := context.Background()
		seed(t, e.svc)

		sum, err := e.svc.SummarizeSession(ctx, "s1", "")
		require.NoError(t, err)
		assert.Equal(t, "1 prompts, 1 responses, 1 tool uses", sum.StatsSummary)
		assert.Empty(t, sum.AISummary)
	})

	t.Run("ai summary from ollama", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"response": "INVESTIGATION: retries", "done": true})
		}))
		defer srv.Close()

		e := newEnv(t, nil, sessions.NewSummarizer(srv.URL, "m", true, nil))
		seed(t, e.svc)

		sum, err := e.svc.SummarizeSession(context.Background(), "s1", "/work/alpha")
		require.NoError(t, err)
		assert.Equal(t, "INVESTIGATION: retries", sum.AISummary)
		assert.Contains(t, sum.Content, "1 prompts")
	})

	t.Run("ollama failure keeps stats", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer srv.Close()

		e := newEnv(t, nil, sessions.NewSummarizer(srv.URL, "m", true, nil))
		seed(t, e.svc)

		sum, err := e.svc.SummarizeSession(context.Background(), "s1", "")
		require.NoError(t, err)
		assert.Empty(t, sum.AISummary)
		assert.NotEmpty(t, sum.StatsSummary)
	})
}

func TestRecentAndStatus(t *testing.T) {
	e := newEnv(t, nil, nil)
	ctx := context.Background()
	seed(t, e.svc)
	time.Sleep(5 * time.Millisecond)
	_, err := e.svc.InsertPrompt(ctx, &models.PromptRequest{SessionID: "b1", ProjectPath: "/work/beta", Content: "other project"})
	require.NoError(t, err)

	recent, err := e.svc.Recent(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "other project", recent[0].Content)

	only, err := e.svc.Recent(ctx, "/work/beta", 10)
	require.NoError(t, err)
	assert.Len(t, only, 1)

	status, err := e.svc.Status(ctx)
	require.NoError(t, err)
	require.Len(t, status, 2)
	total := 0
	for _, st := range status {
		total += st.Total
		assert.NotEmpty(t, st.VectorState)
	}
	assert.Equal(t, 4, total)

	_, err = e.svc.ProjectStats(ctx, "0000000000000000")
	assert.True(t, errors.Is(err, memerr.ErrNotFound))
}

type downChecker struct{}

func (downChecker) HealthCheck(context.Context) error { return errors.New("connection refused") }

func TestHealth(t *testing.T) {
	e := newEnv(t, nil, nil)
	seed(t, e.svc)

	h := e.svc.Health(context.Background())
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, 1, h.Projects)
	assert.Equal(t, 1, h.CachedStores)
	assert.Equal(t, "skipped", h.Ollama.Status)

	deps := e.deps
	deps.Ollama = downChecker{}
	h = NewService(deps).Health(context.Background())
	assert.Equal(t, "degraded", h.Status)
	assert.Equal(t, "error", h.Ollama.Status)
}

func seed(t *testing.T, svc *Service) {
	t.Helper()
	ctx := context.Background()
	_, err := svc.InsertPrompt(ctx, &models.PromptRequest{SessionID: "s1", ProjectPath: "/work/alpha", Content: "add retries to the client"})
	require.NoError(t, err)
	_, err = svc.InsertObservation(ctx, &models.ObservationRequest{SessionID: "s1", ToolName: "Edit", ToolInput: "client.go"})
	require.NoError(t, err)
	_, err = svc.InsertResponse(ctx, &models.ResponseRequest{SessionID: "s1", Content: "retries added"})
	require.NoError(t, err)
}
