package vectorsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/iammorganparry/clive/apps/projmem/internal/models"
)

// DataDirPlaceholder in the subprocess arguments is replaced by the
// project's vector directory.
const DataDirPlaceholder = "{data_dir}"

// VectorDirName is the vector index directory inside a project data dir.
const VectorDirName = "vector-db"

// ChromaConfig describes how to launch the chroma-mcp subprocess.
type ChromaConfig struct {
	Command string
	Args    []string
	Env     []string
}

// ChromaFactory returns a BackendFactory that spawns one chroma-mcp
// subprocess per project.
func ChromaFactory(cfg ChromaConfig) BackendFactory {
	return func(project models.Project) (Backend, error) {
		if cfg.Command == "" {
			return nil, errors.New("chroma command not configured")
		}
		dir := filepath.Join(project.DataDir, VectorDirName)
		args := make([]string, len(cfg.Args))
		for i, a := range cfg.Args {
			args[i] = strings.ReplaceAll(a, DataDirPlaceholder, dir)
		}
		return &ChromaBackend{command: cfg.Command, args: args, env: cfg.Env, dataDir: dir}, nil
	}
}

// ChromaBackend speaks MCP over stdio to a chroma-mcp subprocess.
type ChromaBackend struct {
	command string
	args    []string
	env     []string
	dataDir string

	mu sync.Mutex
	c  *client.Client
}

func (b *ChromaBackend) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.c != nil {
		return nil
	}

	if err := os.MkdirAll(b.dataDir, 0o755); err != nil {
		return fmt.Errorf("create vector dir: %w", err)
	}

	c, err := client.NewStdioMCPClient(b.command, b.env, b.args...)
	if err != nil {
		return fmt.Errorf("spawn %s: %w", b.command, err)
	}

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: "projmem", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, req); err != nil {
		c.Close()
		return fmt.Errorf("initialize chroma-mcp: %w", err)
	}

	b.c = c
	return nil
}

func (b *ChromaBackend) EnsureCollection(ctx context.Context, name string) error {
	if _, err := b.callTool(ctx, "chroma_get_collection_info", map[string]any{
		"collection_name": name,
	}); err == nil {
		return nil
	}

	_, err := b.callTool(ctx, "chroma_create_collection", map[string]any{
		"collection_name": name,
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	return nil
}

// Add writes docs. chroma ignores ids it already holds, so summaries, which
// are replaced in place, are deleted first.
func (b *ChromaBackend) Add(ctx context.Context, collection string, docs []Document) error {
	ids := make([]string, len(docs))
	texts := make([]string, len(docs))
	metas := make([]map[string]any, len(docs))
	var replaced []string
	for i, d := range docs {
		ids[i] = d.ID
		texts[i] = d.Text
		metas[i] = d.Metadata
		if metaString(d.Metadata, MetaDocType) == string(models.RecordSummary) {
			replaced = append(replaced, d.ID)
		}
	}

	if len(replaced) > 0 {
		if _, err := b.callTool(ctx, "chroma_delete_documents", map[string]any{
			"collection_name": collection,
			"ids":             replaced,
		}); err != nil {
			return fmt.Errorf("delete replaced documents: %w", err)
		}
	}

	_, err := b.callTool(ctx, "chroma_add_documents", map[string]any{
		"collection_name": collection,
		"documents":       texts,
		"ids":             ids,
		"metadatas":       metas,
	})
	return err
}

// queryResponse is the JSON body chroma-mcp returns from a query.
type queryResponse struct {
	IDs       [][]string         `json:"ids"`
	Documents [][]string         `json:"documents"`
	Metadatas [][]map[string]any `json:"metadatas"`
	Distances [][]float64        `json:"distances"`
}

func (b *ChromaBackend) Query(ctx context.Context, collection, text string, n int, where map[string]string) ([]Match, error) {
	args := map[string]any{
		"collection_name": collection,
		"query_texts":     []string{text},
		"n_results":       n,
	}
	if len(where) > 0 {
		args["where"] = where
	}

	body, err := b.callTool(ctx, "chroma_query_documents", args)
	if err != nil {
		return nil, err
	}
	return parseQueryResponse(body)
}

func parseQueryResponse(body string) ([]Match, error) {
	var resp queryResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}
	if len(resp.IDs) == 0 {
		return nil, nil
	}

	ids := resp.IDs[0]
	matches := make([]Match, 0, len(ids))
	for i, id := range ids {
		m := Match{ID: id}
		if len(resp.Documents) > 0 && i < len(resp.Documents[0]) {
			m.Text = resp.Documents[0][i]
		}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) {
			m.Metadata = resp.Metadatas[0][i]
		}
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			m.Distance = resp.Distances[0][i]
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func (b *ChromaBackend) Close() error {
	b.mu.Lock()
	c := b.c
	b.c = nil
	b.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}

// callTool invokes an MCP tool and returns its concatenated text content.
func (b *ChromaBackend) callTool(ctx context.Context, name string, args map[string]any) (string, error) {
	b.mu.Lock()
	c := b.c
	b.mu.Unlock()
	if c == nil {
		return "", errors.New("chroma backend not connected")
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := c.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}

	text := toolText(result)
	if result.IsError {
		return "", fmt.Errorf("%s: %s", name, text)
	}
	return text, nil
}

func toolText(result *mcp.CallToolResult) string {
	var parts []string
	for _, content := range result.Content {
		switch c := content.(type) {
		case mcp.TextContent:
			parts = append(parts, c.Text)
		case *mcp.TextContent:
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}
