// Package mcpserver exposes project memory to the host tool as MCP tools
// served over stdio.
package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/iammorganparry/clive/apps/projmem/internal/memerr"
	"github.com/iammorganparry/clive/apps/projmem/internal/models"
)

const (
	serverName = "projmem"

	defaultSearchLimit = 10
	defaultRecentLimit = 20
	maxLimit           = 100

	// Content longer than this is cut in tool output.
	previewChars = 500
)

// Memory is the subset of the memory service the tools call.
type Memory interface {
	Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error)
	Recent(ctx context.Context, projectPath string, limit int) ([]models.Entry, error)
}

// Tools holds the tool handlers bound to a Memory.
type Tools struct {
	mem Memory
}

// New builds an MCP server with the memory tools registered.
func New(mem Memory, version string) *server.MCPServer {
	s := server.NewMCPServer(serverName, version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	t := &Tools{mem: mem}
	s.AddTool(searchTool(), t.Search)
	s.AddTool(recentTool(), t.Recent)
	return s
}

// Serve runs the server over stdin/stdout until stdin closes.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func searchTool() mcp.Tool {
	return mcp.NewTool("memory_search",
		mcp.WithDescription("Search past prompts, responses, tool observations and session summaries. "+
			"Hybrid search combines keyword and semantic matching and falls back to keyword when vectors are unavailable."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results (default 10, max 100)"),
		),
		mcp.WithString("type",
			mcp.Description("Only return records of this type"),
			mcp.Enum(string(models.RecordPrompt), string(models.RecordResponse), string(models.RecordObservation), string(models.RecordSummary)),
		),
		mcp.WithString("method",
			mcp.Description("Search method (default hybrid)"),
			mcp.Enum(string(models.SearchKeyword), string(models.SearchSemantic), string(models.SearchHybrid)),
		),
		mcp.WithString("project_path",
			mcp.Description("Restrict to one project; omit to search all projects"),
		),
	)
}

func recentTool() mcp.Tool {
	return mcp.NewTool("memory_recent",
		mcp.WithDescription("List the most recent records, newest first."),
		mcp.WithString("project_path",
			mcp.Description("Restrict to one project; omit for all projects"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of records (default 20, max 100)"),
		),
	)
}

// Search handles the memory_search tool.
func (t *Tools) Search(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := strings.TrimSpace(req.GetString("query", ""))
	if query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}

	resp, err := t.mem.Search(ctx, models.SearchRequest{
		Query:       query,
		Limit:       clampLimit(req.GetInt("limit", defaultSearchLimit), defaultSearchLimit),
		Type:        models.RecordType(req.GetString("type", "")),
		Method:      models.SearchMethod(req.GetString("method", "")),
		ProjectPath: req.GetString("project_path", ""),
	})
	if err != nil {
		return toolError("search", err), nil
	}
	return mcp.NewToolResultText(formatSearch(resp)), nil
}

// Recent handles the memory_recent tool.
func (t *Tools) Recent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := t.mem.Recent(ctx,
		req.GetString("project_path", ""),
		clampLimit(req.GetInt("limit", defaultRecentLimit), defaultRecentLimit),
	)
	if err != nil {
		return toolError("recent", err), nil
	}
	return mcp.NewToolResultText(formatRecent(entries)), nil
}

func clampLimit(n, def int) int {
	if n <= 0 {
		return def
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}

func toolError(op string, err error) *mcp.CallToolResult {
	switch memerr.KindOf(err) {
	case memerr.KindNotFound:
		return mcp.NewToolResultError(fmt.Sprintf("%s: not found: %v", op, err))
	case memerr.KindInvalid:
		return mcp.NewToolResultError(fmt.Sprintf("%s: invalid request: %v", op, err))
	case memerr.KindUnavailable, memerr.KindTransientIO:
		return mcp.NewToolResultError(fmt.Sprintf("%s: temporarily unavailable, retry later: %v", op, err))
	default:
		return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", op, err))
	}
}

func formatSearch(resp *models.SearchResponse) string {
	var b strings.Builder
	if len(resp.Results) == 0 {
		fmt.Fprintf(&b, "No results for %q (method: %s).\n", resp.Query, resp.Method)
		return b.String()
	}
	fmt.Fprintf(&b, "%d results for %q (method: %s)\n", resp.Total, resp.Query, resp.Method)
	for i, r := range resp.Results {
		project := r.ProjectName
		if project == "" {
			project = r.ProjectID
		}
		fmt.Fprintf(&b, "\n%d. [%.1f%%] %s %s | project %s | session %s | %s\n",
			i+1, r.Similarity*100, r.Type, r.Source, project, r.SessionID, r.Timestamp.Format("2006-01-02 15:04"))
		b.WriteString(preview(r.Content))
		b.WriteByte('\n')
	}
	return b.String()
}

func formatRecent(entries []models.Entry) string {
	if len(entries) == 0 {
		return "No records yet.\n"
	}
	var b strings.Builder
	for _, e := range entries {
		label := string(e.Type)
		if e.ToolName != "" {
			label += " " + e.ToolName
		}
		fmt.Fprintf(&b, "- %s [%s] session %s\n  %s\n",
			e.Timestamp.Format("2006-01-02 15:04"), label, e.SessionID, preview(e.Content))
	}
	return b.String()
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= previewChars {
		return s
	}
	return string(r[:previewChars]) + "..."
}
