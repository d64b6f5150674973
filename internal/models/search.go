package models

import "time"

// SearchMethod selects which sub-searches run.
type SearchMethod string

const (
	SearchKeyword  SearchMethod = "keyword"
	SearchSemantic SearchMethod = "semantic"
	SearchHybrid   SearchMethod = "hybrid"
)

func (m SearchMethod) IsValid() bool {
	return m == SearchKeyword || m == SearchSemantic || m == SearchHybrid
}

// ResultSource records which sub-search produced a result. SourceHybrid means
// both methods found the record.
type ResultSource string

const (
	SourceKeyword  ResultSource = "keyword"
	SourceSemantic ResultSource = "semantic"
	SourceHybrid   ResultSource = "hybrid"
)

// SearchRequest is the payload for POST /search. An empty ProjectPath
// searches every known project.
type SearchRequest struct {
	Query       string       `json:"query"`
	Limit       int          `json:"limit"`
	Type        RecordType   `json:"type,omitempty"`
	Method      SearchMethod `json:"method,omitempty"`
	ProjectPath string       `json:"projectPath,omitempty"`
}

type SearchResult struct {
	Type        RecordType   `json:"type"`
	ID          string       `json:"id"`
	SessionID   string       `json:"sessionId,omitempty"`
	ProjectID   string       `json:"projectId"`
	ProjectName string       `json:"projectName,omitempty"`
	Content     string       `json:"content"`
	Similarity  float64      `json:"similarity"`
	Source      ResultSource `json:"source"`
	Timestamp   time.Time    `json:"timestamp"`
}

// SearchResponse carries the method actually used, which is SearchKeyword
// when a hybrid request ran without a reachable vector subsystem.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Total   int            `json:"total"`
	Query   string         `json:"query"`
	Method  SearchMethod   `json:"method"`
}
