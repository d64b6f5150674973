// Package sessions turns a session's records into summaries.
package sessions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/iammorganparry/clive/apps/projmem/internal/models"
)

// ErrDisabled is returned by Summarize when summarization is turned off.
var ErrDisabled = errors.New("summarization disabled")

const (
	maxTranscript  = 32000
	transcriptHead = 8000
)

// Summarizer generates AI-compressed session summaries using Ollama.
type Summarizer struct {
	ollamaURL string
	model     string
	enabled   bool
	logger    *slog.Logger
	client    *http.Client
}

// NewSummarizer creates a new session summarizer.
func NewSummarizer(ollamaURL, model string, enabled bool, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{
		ollamaURL: strings.TrimRight(ollamaURL, "/"),
		model:     model,
		enabled:   enabled,
		logger:    logger.With("component", "summarizer"),
		client: &http.Client{
			Timeout: 120 * time.Second, // LLM generation can be slow
		},
	}
}

// IsEnabled returns whether summarization is active.
func (s *Summarizer) IsEnabled() bool {
	return s != nil && s.enabled
}

const summaryPrompt = `You are a session summarizer for a developer AI assistant. Analyze the transcript and produce a structured summary.

## Instructions
- Extract the key investigation path, decisions made, lessons learned, and next steps
- Be concise but specific. Include file names, error messages, and tool names
- Focus on what would help a FUTURE session continue this work
- Output as plain text with clear section headers

## Format
INVESTIGATION: What was explored and why
DECISIONS: Key choices made and their reasoning
LESSONS: What worked, what didn't, gotchas discovered
NEXT STEPS: What remains to be done
FILES: Key files that were modified or relevant

## Transcript
%s`

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Summarize generates a structured summary from a session transcript.
func (s *Summarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	if !s.IsEnabled() {
		return "", ErrDisabled
	}
	if strings.TrimSpace(transcript) == "" {
		return "", fmt.Errorf("empty transcript")
	}

	// Keep the opening and the most recent part of long sessions.
	if len(transcript) > maxTranscript {
		tail := maxTranscript - transcriptHead
		transcript = transcript[:transcriptHead] + "\n\n[... middle truncated ...]\n\n" + transcript[len(transcript)-tail:]
	}

	body, err := json.Marshal(generateRequest{
		Model:  s.model,
		Prompt: fmt.Sprintf(summaryPrompt, transcript),
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.ollamaURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama returned %d: %s", resp.StatusCode, string(respBody))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	if strings.TrimSpace(out.Response) == "" {
		return "", fmt.Errorf("empty response from ollama")
	}

	s.logger.Debug("session summarized", "model", s.model, "transcript_chars", len(transcript))
	return strings.TrimSpace(out.Response), nil
}

// Transcript renders session records in chronological order. Summaries are
// skipped so a re-summarize does not feed on its own output.
func Transcript(entries []models.Entry) string {
	var b strings.Builder
	for _, e := range entries {
		switch e.Type {
		case models.RecordPrompt:
			fmt.Fprintf(&b, "USER: %s\n\n", e.Content)
		case models.RecordResponse:
			fmt.Fprintf(&b, "ASSISTANT: %s\n\n", e.Content)
		case models.RecordObservation:
			fmt.Fprintf(&b, "TOOL: %s\n\n", e.Content)
		}
	}
	return strings.TrimSpace(b.String())
}

// Stats renders the statistics-derived summary line.
func Stats(entries []models.Entry) string {
	var prompts, responses, tools int
	for _, e := range entries {
		switch e.Type {
		case models.RecordPrompt:
			prompts++
		case models.RecordResponse:
			responses++
		case models.RecordObservation:
			tools++
		}
	}
	return fmt.Sprintf("%d prompts, %d responses, %d tool uses", prompts, responses, tools)
}
