package models

import "time"

// Project is the stable identity of a filesystem project path. All records,
// stores and vector indices are partitioned by Project.ID.
type Project struct {
	ID             string    `json:"id"`
	Path           string    `json:"path"`
	Name           string    `json:"name"`
	DataDir        string    `json:"dataDir"`
	CreatedAt      time.Time `json:"createdAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
}

// ProjectStats is returned from GET /projects/{id}/stats.
type ProjectStats struct {
	Project  Project            `json:"project"`
	Sessions int                `json:"sessions"`
	Total    int                `json:"total"`
	ByType   map[RecordType]int `json:"byType"`
	// VectorState is the state of the project's cached vector client.
	VectorState string `json:"vectorState"`
	// KeywordIndexDirty is set when a keyword query failed and the index
	// awaits a rebuild.
	KeywordIndexDirty bool `json:"keywordIndexDirty"`
}

// HealthResponse is returned from GET /health.
type HealthResponse struct {
	Status        string       `json:"status"`
	Ollama        ServiceCheck `json:"ollama"`
	Projects      int          `json:"projects"`
	CachedStores  int          `json:"cachedStores"`
	CachedVectors int          `json:"cachedVectors"`
	VectorBackend string       `json:"vectorBackend"`
	PendingSyncs  int          `json:"pendingSyncs"`
	DroppedSyncs  int64        `json:"droppedSyncs"`
}

type ServiceCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
