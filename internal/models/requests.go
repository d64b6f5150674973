package models

// CreateSessionRequest is the payload for POST /sessions.
type CreateSessionRequest struct {
	SessionID   string `json:"sessionId"`
	ProjectPath string `json:"projectPath"`
}

// CreateSessionResponse reports whether the session row was new.
type CreateSessionResponse struct {
	Session *Session `json:"session"`
	Created bool     `json:"created"`
}

// StopSessionRequest is the payload for POST /sessions/{id}/stop.
type StopSessionRequest struct {
	SessionID   string `json:"sessionId"`
	ProjectPath string `json:"projectPath,omitempty"`
}

// PromptRequest is the payload for POST /prompts.
type PromptRequest struct {
	SessionID   string `json:"sessionId"`
	ProjectPath string `json:"projectPath,omitempty"`
	Content     string `json:"content"`
	Metadata    string `json:"metadata,omitempty"`
}

// ResponseRequest is the payload for POST /responses.
type ResponseRequest struct {
	SessionID   string `json:"sessionId"`
	ProjectPath string `json:"projectPath,omitempty"`
	PromptID    string `json:"promptId,omitempty"`
	Content     string `json:"content"`
	Metadata    string `json:"metadata,omitempty"`
}

// ObservationRequest is the payload for POST /observations.
type ObservationRequest struct {
	SessionID   string `json:"sessionId"`
	ProjectPath string `json:"projectPath,omitempty"`
	ToolName    string `json:"toolName"`
	ToolInput   string `json:"toolInput,omitempty"`
	ToolOutput  string `json:"toolOutput,omitempty"`
	Metadata    string `json:"metadata,omitempty"`
}

// SummaryRequest is the payload for PUT /summaries.
type SummaryRequest struct {
	SessionID    string `json:"sessionId"`
	ProjectPath  string `json:"projectPath,omitempty"`
	StatsSummary string `json:"statsSummary"`
	AISummary    string `json:"aiSummary,omitempty"`
	Metadata     string `json:"metadata,omitempty"`
}

// SessionDetail is returned from GET /sessions/{id}.
type SessionDetail struct {
	Session *Session `json:"session"`
	Project Project  `json:"project"`
	Records []Entry  `json:"records"`
	Summary *Summary `json:"summary,omitempty"`
}
