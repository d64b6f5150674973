package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammorganparry/clive/apps/projmem/internal/cache"
	"github.com/iammorganparry/clive/apps/projmem/internal/memory"
	"github.com/iammorganparry/clive/apps/projmem/internal/models"
	"github.com/iammorganparry/clive/apps/projmem/internal/registry"
	"github.com/iammorganparry/clive/apps/projmem/internal/vectorsync"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestServer(t *testing.T, apiKey string) *httptest.Server {
	t.Helper()
	root := t.TempDir()
	reg, err := registry.Open(filepath.Join(root, "projects.json"), root, registry.Options{Logger: quietLogger})
	require.NoError(t, err)
	manager := cache.NewManager(cache.ManagerConfig{Backend: vectorsync.NoBackend, Logger: quietLogger})
	syncer := memory.NewSyncer(manager, memory.SyncerOptions{Workers: 1, Logger: quietLogger})

	svc := memory.NewService(memory.Deps{
		Projects:      reg,
		Resources:     manager,
		Syncer:        syncer,
		VectorBackend: "none",
		Logger:        quietLogger,
	})
	srv := httptest.NewServer(NewRouter(svc, apiKey, quietLogger))
	t.Cleanup(func() {
		srv.Close()
		syncer.Close()
		manager.Close()
		reg.Close()
	})
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path string, body any, out any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rd = bytes.NewBufferString(b)
		default:
			data, err := json.Marshal(b)
			require.NoError(t, err)
			rd = bytes.NewReader(data)
		}
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, "secret")

	var h models.HealthResponse
	resp := do(t, srv, http.MethodGet, "/health", nil, &h)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "none", h.VectorBackend)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestBearerAuth(t *testing.T) {
	srv := newTestServer(t, "secret")

	resp := do(t, srv, http.MethodGet, "/projects", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/projects", nil)
	req.Header.Set("Authorization", "Bearer secret")
	ok, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	ok.Body.Close()
	assert.Equal(t, http.StatusOK, ok.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, "")
	resp := do(t, srv, http.MethodOptions, "/search", nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestSessionLifecycle(t *testing.T) {
	srv := newTestServer(t, "")
	create := models.CreateSessionRequest{SessionID: "s1", ProjectPath: "/work/alpha"}

	var created models.CreateSessionResponse
	resp := do(t, srv, http.MethodPost, "/sessions", create, &created)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, created.Created)

	resp = do(t, srv, http.MethodPost, "/sessions", create, &created)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, created.Created)

	var prompt models.Prompt
	resp = do(t, srv, http.MethodPost, "/prompts", models.PromptRequest{SessionID: "s1", Content: "migrate the schema"}, &prompt)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "s1", prompt.SessionID)

	resp = do(t, srv, http.MethodPost, "/observations", models.ObservationRequest{SessionID: "s1", ToolName: "Bash", ToolInput: "make migrate"}, nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var sum models.Summary
	resp = do(t, srv, http.MethodPut, "/summaries", models.SummaryRequest{SessionID: "s1", StatsSummary: "1 prompts"}, &sum)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1 prompts", sum.StatsSummary)

	var detail models.SessionDetail
	resp = do(t, srv, http.MethodGet, "/sessions/s1", nil, &detail)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, detail.Records, 3)
	require.NotNil(t, detail.Summary)

	var listed struct {
		Sessions []models.Session `json:"sessions"`
	}
	resp = do(t, srv, http.MethodGet, "/sessions?projectPath=/work/alpha", nil, &listed)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, listed.Sessions, 1)

	var stopped struct {
		Session models.Session `json:"session"`
	}
	resp = do(t, srv, http.MethodPost, "/sessions/s1/stop", nil, &stopped)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.SessionCompleted, stopped.Session.Status)

	var summarized models.Summary
	resp = do(t, srv, http.MethodPost, "/sessions/s1/summarize", nil, &summarized)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1 prompts, 0 responses, 1 tool uses", summarized.StatsSummary)
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t, "")

	var e errorResponse
	resp := do(t, srv, http.MethodPost, "/prompts", models.PromptRequest{SessionID: "ghost", Content: "x"}, &e)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", e.Kind)

	resp = do(t, srv, http.MethodPost, "/search", models.SearchRequest{Query: "   "}, &e)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid", e.Kind)

	resp = do(t, srv, http.MethodPost, "/search", "{not json", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, srv, http.MethodPost, "/observations", models.ObservationRequest{SessionID: "s1"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/projects/doesnotexist/stats", nil, &e)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/sessions", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSearchDegradesToKeyword(t *testing.T) {
	srv := newTestServer(t, "")
	do(t, srv, http.MethodPost, "/prompts", models.PromptRequest{SessionID: "s1", ProjectPath: "/work/alpha", Content: "rotate the signing keys"}, nil)

	var out models.SearchResponse
	resp := do(t, srv, http.MethodPost, "/search", models.SearchRequest{Query: "signing keys"}, &out)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.SearchKeyword, out.Method)
	assert.Equal(t, 1, out.Total)
	assert.Equal(t, "signing keys", out.Query)

	resp = do(t, srv, http.MethodPost, "/search", models.SearchRequest{Query: "signing", Method: models.SearchSemantic}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var empty models.SearchResponse
	do(t, srv, http.MethodPost, "/search", models.SearchRequest{Query: "nothing matches this"}, &empty)
	assert.NotNil(t, empty.Results)
	assert.Empty(t, empty.Results)
}

func TestProjectsAndStats(t *testing.T) {
	srv := newTestServer(t, "")
	do(t, srv, http.MethodPost, "/prompts", models.PromptRequest{SessionID: "s1", ProjectPath: "/work/alpha", Content: "a"}, nil)
	do(t, srv, http.MethodPost, "/responses", models.ResponseRequest{SessionID: "s1", Content: "b"}, nil)

	var list struct {
		Projects []models.Project `json:"projects"`
	}
	do(t, srv, http.MethodGet, "/projects", nil, &list)
	require.Len(t, list.Projects, 1)
	assert.Equal(t, "alpha", list.Projects[0].Name)

	var stats models.ProjectStats
	resp := do(t, srv, http.MethodGet, "/projects/"+list.Projects[0].ID+"/stats", nil, &stats)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Sessions)
	assert.Equal(t, 1, stats.ByType[models.RecordResponse])

	var recent struct {
		Records []models.Entry `json:"records"`
	}
	do(t, srv, http.MethodGet, "/records/recent?limit=1", nil, &recent)
	assert.Len(t, recent.Records, 1)
}

func TestRecoveryMiddleware(t *testing.T) {
	h := Recovery(quietLogger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
