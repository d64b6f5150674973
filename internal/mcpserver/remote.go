package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/iammorganparry/clive/apps/projmem/internal/memerr"
	"github.com/iammorganparry/clive/apps/projmem/internal/models"
)

// Remote implements Memory against a running projmem HTTP server, so the
// MCP process does not open project stores itself.
type Remote struct {
	serverURL string
	apiKey    string
	client    *http.Client
}

// NewRemote creates a Remote for serverURL. apiKey may be empty.
func NewRemote(serverURL, apiKey string) *Remote {
	return &Remote{
		serverURL: strings.TrimRight(serverURL, "/"),
		apiKey:    apiKey,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (r *Remote) Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
	var out models.SearchResponse
	if err := r.do(ctx, http.MethodPost, "/search", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Remote) Recent(ctx context.Context, projectPath string, limit int) ([]models.Entry, error) {
	q := url.Values{}
	if projectPath != "" {
		q.Set("projectPath", projectPath)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/records/recent"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out struct {
		Records []models.Entry `json:"records"`
	}
	if err := r.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

// --- HTTP helpers ---

func (r *Remote) do(ctx context.Context, method, path string, body, out any) error {
	op := "remote " + strings.TrimPrefix(strings.SplitN(path, "?", 2)[0], "/")

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.serverURL+path, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return memerr.Unavailable(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return statusError(op, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// statusError turns an error response back into a kinded error.
func statusError(op string, resp *http.Response) error {
	var e struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &e) != nil || e.Error == "" {
		e.Error = strings.TrimSpace(string(data))
	}
	if e.Error == "" {
		e.Error = resp.Status
	}
	cause := errors.New(e.Error)

	switch resp.StatusCode {
	case http.StatusNotFound:
		return memerr.New(memerr.KindNotFound, op, cause)
	case http.StatusBadRequest:
		return memerr.New(memerr.KindInvalid, op, cause)
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return memerr.Unavailable(op, cause)
	default:
		return memerr.New(memerr.KindUnknown, op, fmt.Errorf("status %d: %w", resp.StatusCode, cause))
	}
}
