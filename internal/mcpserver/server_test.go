package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammorganparry/clive/apps/projmem/internal/memerr"
	"github.com/iammorganparry/clive/apps/projmem/internal/models"
)

type fakeMemory struct {
	lastSearch models.SearchRequest
	lastPath   string
	lastLimit  int
	resp       *models.SearchResponse
	entries    []models.Entry
	err        error
}

func (f *fakeMemory) Search(_ context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
	f.lastSearch = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeMemory) Recent(_ context.Context, projectPath string, limit int) ([]models.Entry, error) {
	f.lastPath, f.lastLimit = projectPath, limit
	if f.err != nil {
		return nil, f.err
	}
	return f.entries, nil
}

func call(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return text.Text
}

func TestSearchTool(t *testing.T) {
	ts := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	mem := &fakeMemory{resp: &models.SearchResponse{
		Query:  "signing keys",
		Method: models.SearchHybrid,
		Total:  1,
		Results: []models.SearchResult{{
			Type: models.RecordPrompt, ID: "p1", SessionID: "s1", ProjectID: "abcd1234",
			ProjectName: "alpha", Content: "rotate the signing keys", Similarity: 0.9,
			Source: models.SourceHybrid, Timestamp: ts,
		}},
	}}
	tools := &Tools{mem: mem}

	res, err := tools.Search(context.Background(), call("memory_search", map[string]any{
		"query":        "  signing keys ",
		"limit":        float64(500),
		"type":         "prompt",
		"method":       "hybrid",
		"project_path": "/work/alpha",
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	assert.Equal(t, "signing keys", mem.lastSearch.Query)
	assert.Equal(t, maxLimit, mem.lastSearch.Limit)
	assert.Equal(t, models.RecordPrompt, mem.lastSearch.Type)
	assert.Equal(t, models.SearchHybrid, mem.lastSearch.Method)
	assert.Equal(t, "/work/alpha", mem.lastSearch.ProjectPath)

	text := resultText(t, res)
	assert.Contains(t, text, "[90.0%]")
	assert.Contains(t, text, "project alpha")
	assert.Contains(t, text, "rotate the signing keys")
}

func TestSearchToolDefaults(t *testing.T) {
	mem := &fakeMemory{resp: &models.SearchResponse{Query: "x", Method: models.SearchKeyword}}
	tools := &Tools{mem: mem}

	res, err := tools.Search(context.Background(), call("memory_search", map[string]any{"query": "x"}))
	require.NoError(t, err)
	assert.Equal(t, defaultSearchLimit, mem.lastSearch.Limit)
	assert.Empty(t, mem.lastSearch.ProjectPath)
	assert.Contains(t, resultText(t, res), "No results")
}

func TestSearchToolErrors(t *testing.T) {
	tools := &Tools{mem: &fakeMemory{}}
	res, err := tools.Search(context.Background(), call("memory_search", map[string]any{"query": "  "}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	tools = &Tools{mem: &fakeMemory{err: memerr.Unavailable("search", errors.New("vector down"))}}
	res, err = tools.Search(context.Background(), call("memory_search", map[string]any{"query": "q", "method": "semantic"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "temporarily unavailable")

	tools = &Tools{mem: &fakeMemory{err: memerr.Invalid("search", "unknown method %q", "fuzzy")}}
	res, _ = tools.Search(context.Background(), call("memory_search", map[string]any{"query": "q", "method": "fuzzy"}))
	assert.Contains(t, resultText(t, res), "invalid request")
}

func TestRecentTool(t *testing.T) {
	mem := &fakeMemory{entries: []models.Entry{
		{Type: models.RecordObservation, ID: "o1", SessionID: "s1", Content: "go test ./...", ToolName: "Bash", Timestamp: time.Now()},
		{Type: models.RecordPrompt, ID: "p1", SessionID: "s1", Content: strings.Repeat("a", previewChars+20), Timestamp: time.Now()},
	}}
	tools := &Tools{mem: mem}

	res, err := tools.Recent(context.Background(), call("memory_recent", map[string]any{"project_path": "/work/alpha"}))
	require.NoError(t, err)
	assert.Equal(t, "/work/alpha", mem.lastPath)
	assert.Equal(t, defaultRecentLimit, mem.lastLimit)

	text := resultText(t, res)
	assert.Contains(t, text, "[observation Bash]")
	assert.Contains(t, text, strings.Repeat("a", previewChars)+"...")

	mem.entries = nil
	res, _ = tools.Recent(context.Background(), call("memory_recent", nil))
	assert.Equal(t, "No records yet.\n", resultText(t, res))
}

func TestNewRegistersTools(t *testing.T) {
	s := New(&fakeMemory{}, "test")
	msg := s.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"memory_search"`)
	assert.Contains(t, string(data), `"memory_recent"`)
}
