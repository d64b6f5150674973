package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/iammorganparry/clive/apps/projmem/internal/memerr"
	"github.com/iammorganparry/clive/apps/projmem/internal/models"
	"github.com/iammorganparry/clive/apps/projmem/internal/privacy"
)

// Tool input and output are stored truncated; the full payloads live in the
// host tool's transcript.
const (
	maxToolInput  = 2000
	maxToolOutput = 1000
)

// InsertPrompt stores a user prompt.
func (db *DB) InsertPrompt(sessionID, content, metadata string) (*models.Prompt, error) {
	base, err := db.insertContent("prompts", sessionID, content, metadata)
	if err != nil {
		return nil, err
	}
	return &models.Prompt{RecordBase: base}, nil
}

// InsertResponse stores a generated response, optionally linked to the
// prompt it answers.
func (db *DB) InsertResponse(sessionID, promptID, content, metadata string) (*models.Response, error) {
	content = privacy.StripPrivateTags(content)
	if err := requireRecord("insert response", sessionID, content); err != nil {
		return nil, err
	}
	base := newBase(sessionID, content, metadata)

	_, err := db.Exec(`
		INSERT INTO responses (id, session_id, prompt_id, content, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, base.ID, sessionID, nullable(promptID), content, nullable(metadata), base.Timestamp.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("insert response: %w", err)
	}
	return &models.Response{RecordBase: base, PromptID: promptID}, nil
}

// InsertObservation stores a tool use. Input and output have private blocks
// stripped and credentials redacted, then are truncated.
func (db *DB) InsertObservation(sessionID, toolName, toolInput, toolOutput, metadata string) (*models.Observation, error) {
	if sessionID == "" {
		return nil, memerr.Invalid("insert observation", "session id is required")
	}
	if toolName == "" {
		return nil, memerr.Invalid("insert observation", "tool name is required")
	}

	input := truncateStr(privacy.Clean(toolInput), maxToolInput)
	output := truncateStr(privacy.Clean(toolOutput), maxToolOutput)
	content := ObservationContent(toolName, input, output)
	base := newBase(sessionID, content, metadata)

	_, err := db.Exec(`
		INSERT INTO observations (id, session_id, tool_name, tool_input, tool_output, content, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, base.ID, sessionID, toolName, input, output, content, nullable(metadata), base.Timestamp.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("insert observation: %w", err)
	}

	return &models.Observation{
		RecordBase: base,
		ToolName:   toolName,
		ToolInput:  input,
		ToolOutput: output,
	}, nil
}

// ObservationContent renders the searchable text of a tool use.
func ObservationContent(toolName, input, output string) string {
	var b strings.Builder
	b.WriteString(toolName)
	if input != "" {
		b.WriteString("\ninput: ")
		b.WriteString(input)
	}
	if output != "" {
		b.WriteString("\noutput: ")
		b.WriteString(output)
	}
	return b.String()
}

// UpsertSummary writes the session summary, replacing any previous row for
// the same session while keeping its id and creation time.
func (db *DB) UpsertSummary(sessionID, statsSummary, aiSummary, metadata string) (*models.Summary, error) {
	if sessionID == "" {
		return nil, memerr.Invalid("upsert summary", "session id is required")
	}
	content := models.SummaryContent(statsSummary, aiSummary)
	if content == "" {
		return nil, memerr.Invalid("upsert summary", "summary is empty")
	}

	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO summaries (id, session_id, stats_summary, ai_summary, content, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			stats_summary = excluded.stats_summary,
			ai_summary = excluded.ai_summary,
			content = excluded.content,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`, uuid.New().String(), sessionID, statsSummary, nullable(aiSummary), content, nullable(metadata), now, now)
	if err != nil {
		return nil, fmt.Errorf("upsert summary: %w", err)
	}

	sum, err := db.GetSummary(sessionID)
	if err != nil {
		return nil, err
	}
	if sum == nil {
		return nil, fmt.Errorf("summary for %s vanished after upsert", sessionID)
	}
	return sum, nil
}

// GetSummary returns the session summary, or nil, nil when none exists.
func (db *DB) GetSummary(sessionID string) (*models.Summary, error) {
	var s models.Summary
	var ai, metadata sql.NullString
	var createdAt, updatedAt int64

	err := db.QueryRow(`
		SELECT id, session_id, stats_summary, ai_summary, content, metadata, created_at, updated_at
		FROM summaries WHERE session_id = ?
	`, sessionID).Scan(&s.ID, &s.SessionID, &s.StatsSummary, &ai, &s.Content, &metadata, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get summary: %w", err)
	}
	s.AISummary = ai.String
	s.Metadata = metadata.String
	s.Timestamp = time.UnixMilli(createdAt)
	s.UpdatedAt = time.UnixMilli(updatedAt)
	return &s, nil
}

// entryUnion flattens every record table into the Entry shape.
const entryUnion = `
	SELECT 'prompt' AS type, id, session_id, content, metadata, created_at, '' AS tool_name FROM prompts
	UNION ALL
	SELECT 'response', id, session_id, content, metadata, created_at, '' FROM responses
	UNION ALL
	SELECT 'observation', id, session_id, content, metadata, created_at, tool_name FROM observations
	UNION ALL
	SELECT 'summary', id, session_id, content, metadata, updated_at, '' FROM summaries
`

// FindBySession returns a session's records in chronological order.
func (db *DB) FindBySession(sessionID string, limit int) ([]models.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(fmt.Sprintf(`
		SELECT type, id, session_id, content, metadata, created_at, tool_name
		FROM (%s)
		WHERE session_id = ?
		ORDER BY created_at ASC
		LIMIT ?
	`, entryUnion), sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("find by session: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// FindAll returns the most recent records across all sessions.
func (db *DB) FindAll(limit int) ([]models.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(fmt.Sprintf(`
		SELECT type, id, session_id, content, metadata, created_at, tool_name
		FROM (%s)
		ORDER BY created_at DESC
		LIMIT ?
	`, entryUnion), limit)
	if err != nil {
		return nil, fmt.Errorf("find all: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Count returns the total number of records of every type.
func (db *DB) Count() (int, error) {
	byType, err := db.CountByType()
	if err != nil {
		return 0, err
	}
	total := 0
	for _, n := range byType {
		total += n
	}
	return total, nil
}

// CountByType returns per-type record counts. Every type is present.
func (db *DB) CountByType() (map[models.RecordType]int, error) {
	counts := make(map[models.RecordType]int, len(indexedTables))
	for _, t := range indexedTables {
		var n int
		if err := db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %s`, t.name)).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", t.name, err)
		}
		counts[t.typ] = n
	}
	return counts, nil
}

func (db *DB) insertContent(table, sessionID, content, metadata string) (models.RecordBase, error) {
	content = privacy.StripPrivateTags(content)
	if err := requireRecord("insert "+strings.TrimSuffix(table, "s"), sessionID, content); err != nil {
		return models.RecordBase{}, err
	}
	base := newBase(sessionID, content, metadata)

	_, err := db.Exec(fmt.Sprintf(`
		INSERT INTO %s (id, session_id, content, metadata, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, table), base.ID, sessionID, content, nullable(metadata), base.Timestamp.UnixMilli())
	if err != nil {
		return models.RecordBase{}, fmt.Errorf("insert into %s: %w", table, err)
	}
	return base, nil
}

func requireRecord(op, sessionID, content string) error {
	if sessionID == "" {
		return memerr.Invalid(op, "session id is required")
	}
	if strings.TrimSpace(content) == "" {
		return memerr.Invalid(op, "content is required")
	}
	return nil
}

func newBase(sessionID, content, metadata string) models.RecordBase {
	return models.RecordBase{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Content:   content,
		Timestamp: time.UnixMilli(time.Now().UnixMilli()),
		Metadata:  metadata,
	}
}

func scanEntries(rows *sql.Rows) ([]models.Entry, error) {
	var entries []models.Entry
	for rows.Next() {
		var e models.Entry
		var typ string
		var metadata sql.NullString
		var createdAt int64
		if err := rows.Scan(&typ, &e.ID, &e.SessionID, &e.Content, &metadata, &createdAt, &e.ToolName); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Type = models.RecordType(typ)
		e.Metadata = metadata.String
		e.Timestamp = time.UnixMilli(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// truncateStr cuts s to at most max bytes without splitting a rune.
func truncateStr(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
