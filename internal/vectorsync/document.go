package vectorsync

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/iammorganparry/clive/apps/projmem/internal/models"
)

// Metadata keys written alongside every document.
const (
	MetaSQLiteID    = "sqlite_id"
	MetaDocType     = "doc_type"
	MetaSessionID   = "session_id"
	MetaProjectID   = "project_id"
	MetaCreatedAt   = "created_at"
	MetaToolName    = "tool_name"
	MetaChunkIndex  = "chunk_index"
	MetaTotalChunks = "total_chunks"
)

// Document is the vector-side copy of a record, or of one chunk of it.
type Document struct {
	ID       string
	Text     string
	Metadata map[string]any
}

// DocumentID renders "<kind>_<recordId>", with "_<chunk>" appended for
// chunks of a split record.
func DocumentID(kind models.RecordType, recordID string, chunk int) string {
	if chunk < 0 {
		return fmt.Sprintf("%s_%s", kind, recordID)
	}
	return fmt.Sprintf("%s_%s_%d", kind, recordID, chunk)
}

// FromEntry builds the unchunked document for a stored record.
func FromEntry(projectID string, e models.Entry) Document {
	meta := map[string]any{
		MetaSQLiteID:  e.ID,
		MetaDocType:   string(e.Type),
		MetaSessionID: e.SessionID,
		MetaProjectID: projectID,
		MetaCreatedAt: e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if e.ToolName != "" {
		meta[MetaToolName] = e.ToolName
	}
	return Document{
		ID:       DocumentID(e.Type, e.ID, -1),
		Text:     e.Content,
		Metadata: meta,
	}
}

// RecordRef identifies the stored record a document or chunk came from.
type RecordRef struct {
	Type      models.RecordType
	ID        string
	SessionID string
	CreatedAt time.Time
}

// RefOf recovers the record reference from a match's metadata, falling back
// to parsing the document id.
func RefOf(m Match) (RecordRef, bool) {
	ref := RecordRef{
		Type:      models.RecordType(metaString(m.Metadata, MetaDocType)),
		ID:        metaString(m.Metadata, MetaSQLiteID),
		SessionID: metaString(m.Metadata, MetaSessionID),
	}
	if ts := metaString(m.Metadata, MetaCreatedAt); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			ref.CreatedAt = t
		}
	}
	if ref.Type == "" || ref.ID == "" {
		typ, id, ok := parseDocumentID(m.ID)
		if !ok {
			return RecordRef{}, false
		}
		if ref.Type == "" {
			ref.Type = typ
		}
		if ref.ID == "" {
			ref.ID = id
		}
	}
	if !ref.Type.IsValid() {
		return RecordRef{}, false
	}
	return ref, true
}

func parseDocumentID(id string) (models.RecordType, string, bool) {
	kind, rest, ok := strings.Cut(id, "_")
	if !ok || rest == "" {
		return "", "", false
	}
	// Strip a trailing chunk index. Record ids are UUIDs, which never end in
	// "_<digits>".
	if i := strings.LastIndexByte(rest, '_'); i > 0 {
		if _, err := strconv.Atoi(rest[i+1:]); err == nil {
			rest = rest[:i]
		}
	}
	return models.RecordType(kind), rest, true
}

func metaString(meta map[string]any, key string) string {
	v, ok := meta[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
