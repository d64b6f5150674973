// Package embedding computes text embeddings for the embedded vector
// backend through a local Ollama server.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/iammorganparry/clive/apps/projmem/internal/memerr"
)

// ErrModelMissing is returned when Ollama does not have the configured
// embedding model pulled.
var ErrModelMissing = errors.New("embedding model not pulled")

// OllamaClient embeds records and queries via POST /api/embed.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewOllamaClient(baseURL, model string) *OllamaClient {
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Model returns the embedding model name.
func (c *OllamaClient) Model() string {
	return c.model
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns the vector for text. An unreachable server is reported as
// Unavailable so callers degrade the same way they do for a dead vector
// subprocess.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	var result embedResponse
	if err := c.call(ctx, http.MethodPost, "/api/embed", embedRequest{Model: c.model, Input: text}, &result); err != nil {
		return nil, err
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0]) == 0 {
		return nil, memerr.New(memerr.KindCorrupt, "ollama embed", errors.New("empty embedding"))
	}
	return result.Embeddings[0], nil
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// HealthCheck verifies Ollama is reachable and has the embedding model.
func (c *OllamaClient) HealthCheck(ctx context.Context) error {
	var tags tagsResponse
	if err := c.call(ctx, http.MethodGet, "/api/tags", nil, &tags); err != nil {
		return err
	}
	for _, m := range tags.Models {
		if sameModel(m.Name, c.model) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s (run `ollama pull %s`)", ErrModelMissing, c.model, c.model)
}

// sameModel treats "name" and "name:latest" as equal.
func sameModel(have, want string) bool {
	if have == want {
		return true
	}
	return strings.TrimSuffix(have, ":latest") == strings.TrimSuffix(want, ":latest")
}

func (c *OllamaClient) call(ctx context.Context, method, path string, in, out any) error {
	op := "ollama " + strings.TrimPrefix(path, "/api/")

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return memerr.Unavailable(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return memerr.New(memerr.KindTransientIO, op, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound && strings.Contains(string(data), "not found"):
		return fmt.Errorf("%s: %w: %s", op, ErrModelMissing, c.model)
	case resp.StatusCode >= 500:
		return memerr.Unavailable(op, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}
