package models

import (
	"strings"
	"time"
)

// RecordType tags the variant of a memory record.
type RecordType string

const (
	RecordPrompt      RecordType = "prompt"
	RecordResponse    RecordType = "response"
	RecordObservation RecordType = "observation"
	RecordSummary     RecordType = "summary"
)

// RecordTypes lists every variant in indexing order.
var RecordTypes = []RecordType{RecordPrompt, RecordResponse, RecordObservation, RecordSummary}

func (t RecordType) IsValid() bool {
	switch t {
	case RecordPrompt, RecordResponse, RecordObservation, RecordSummary:
		return true
	}
	return false
}

// SessionStatus is the lifecycle state of a session row.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// Session is one conversation of the host tool inside a project.
type Session struct {
	ID          int64         `json:"id"`
	SessionID   string        `json:"sessionId"`
	ProjectPath string        `json:"projectPath"`
	StartedAt   time.Time     `json:"startedAt"`
	EndedAt     *time.Time    `json:"endedAt,omitempty"`
	Status      SessionStatus `json:"status"`
}

// RecordBase holds the fields common to every record variant.
type RecordBase struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Metadata  string    `json:"metadata,omitempty"`
}

type Prompt struct {
	RecordBase
}

type Response struct {
	RecordBase
	PromptID string `json:"promptId,omitempty"`
}

// Observation is a tool use captured by the host tool.
type Observation struct {
	RecordBase
	ToolName   string `json:"toolName"`
	ToolInput  string `json:"toolInput,omitempty"`
	ToolOutput string `json:"toolOutput,omitempty"`
}

// Summary is the rolling per-session summary. StatsSummary is derived from
// record counts; AISummary is the optional machine-generated long form.
type Summary struct {
	RecordBase
	StatsSummary string    `json:"statsSummary"`
	AISummary    string    `json:"aiSummary,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// SummaryContent joins the non-empty summary fields into indexable text.
func SummaryContent(stats, ai string) string {
	parts := make([]string, 0, 2)
	if s := strings.TrimSpace(stats); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimSpace(ai); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n\n")
}

// Entry is a flattened, read-only view of any record variant.
type Entry struct {
	Type      RecordType `json:"type"`
	ID        string     `json:"id"`
	SessionID string     `json:"sessionId"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
	Metadata  string     `json:"metadata,omitempty"`
	ToolName  string     `json:"toolName,omitempty"`
}
