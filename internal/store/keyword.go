package store

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/iammorganparry/clive/apps/projmem/internal/memerr"
	"github.com/iammorganparry/clive/apps/projmem/internal/models"
)

const metaKeywordDirty = "keyword_index_dirty"

// indexedTable describes one record table mirrored by an FTS5 index.
type indexedTable struct {
	name    string
	typ     models.RecordType
	columns []string
	// toolExpr selects the tool name column, or an empty literal.
	toolExpr string
}

var indexedTables = []indexedTable{
	{name: "prompts", typ: models.RecordPrompt, columns: []string{"content"}, toolExpr: "''"},
	{name: "responses", typ: models.RecordResponse, columns: []string{"content"}, toolExpr: "''"},
	{name: "observations", typ: models.RecordObservation, columns: []string{"content", "tool_name"}, toolExpr: "t.tool_name"},
	{name: "summaries", typ: models.RecordSummary, columns: []string{"content"}, toolExpr: "''"},
}

func tablesFor(recordType models.RecordType) []indexedTable {
	if recordType == "" {
		return indexedTables
	}
	for _, t := range indexedTables {
		if t.typ == recordType {
			return []indexedTable{t}
		}
	}
	return nil
}

// KeywordHit is a keyword search match. Score is the negated bm25 rank, or
// zero for substring matches.
type KeywordHit struct {
	models.Entry
	Score float64
}

// createKeywordIndex creates the FTS5 external-content tables and the
// triggers that keep them in sync. Tables created for the first time are
// rebuilt from existing rows.
func createKeywordIndex(db *sql.DB) error {
	for _, t := range indexedTables {
		fts := t.name + "_fts"
		existed, err := tableExists(db, fts)
		if err != nil {
			return fmt.Errorf("check %s: %w", fts, err)
		}

		cols := strings.Join(t.columns, ", ")
		create := fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS %s USING fts5(
  %s,
  content='%s', content_rowid='rowid'
);`, fts, cols, t.name)
		if _, err := db.Exec(create); err != nil {
			return fmt.Errorf("create fts table %s: %w", fts, err)
		}

		newCols := prefixed("NEW.", t.columns)
		oldCols := prefixed("OLD.", t.columns)
		triggers := []string{
			fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %[1]s_ai AFTER INSERT ON %[1]s BEGIN
  INSERT INTO %[2]s(rowid, %[3]s) VALUES (NEW.rowid, %[4]s);
END;`, t.name, fts, cols, newCols),
			fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %[1]s_ad AFTER DELETE ON %[1]s BEGIN
  INSERT INTO %[2]s(%[2]s, rowid, %[3]s) VALUES ('delete', OLD.rowid, %[4]s);
END;`, t.name, fts, cols, oldCols),
			fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %[1]s_au AFTER UPDATE ON %[1]s BEGIN
  INSERT INTO %[2]s(%[2]s, rowid, %[3]s) VALUES ('delete', OLD.rowid, %[4]s);
  INSERT INTO %[2]s(rowid, %[3]s) VALUES (NEW.rowid, %[5]s);
END;`, t.name, fts, cols, oldCols, newCols),
		}
		for _, trig := range triggers {
			if _, err := db.Exec(trig); err != nil {
				return fmt.Errorf("create trigger on %s: %w", t.name, err)
			}
		}

		if !existed {
			if _, err := db.Exec(fmt.Sprintf(`INSERT INTO %[1]s(%[1]s) VALUES ('rebuild')`, fts)); err != nil {
				return fmt.Errorf("populate %s: %w", fts, err)
			}
		}
	}
	return nil
}

func prefixed(prefix string, cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = prefix + c
	}
	return strings.Join(out, ", ")
}

func tableExists(db *sql.DB, name string) (bool, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = ?`, name).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// sanitizeFTS quotes every word so user input is never parsed as FTS5
// query syntax. Words are implicitly AND-ed.
func sanitizeFTS(query string) string {
	words := strings.Fields(query)
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ReplaceAll(w, `"`, "")
		if w == "" {
			continue
		}
		quoted = append(quoted, `"`+w+`"`)
	}
	return strings.Join(quoted, " ")
}

// KeywordSearch ranks records of recordType (all types when empty) that
// match query. A failing index query marks the index dirty and the search
// is answered by a substring scan instead.
func (db *DB) KeywordSearch(query string, limit int, recordType models.RecordType) ([]KeywordHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, memerr.Invalid("keyword search", "empty query")
	}
	if limit <= 0 {
		limit = 10
	}
	tables := tablesFor(recordType)
	if len(tables) == 0 {
		return nil, memerr.Invalid("keyword search", "unknown record type %q", recordType)
	}

	if db.fts {
		if match := sanitizeFTS(query); match != "" {
			hits, err := db.ftsSearch(match, limit, tables)
			if err == nil {
				return hits, nil
			}
			db.logger.Warn("keyword index query failed, falling back to substring scan", "error", err)
			if err := db.setMeta(metaKeywordDirty, "1"); err != nil {
				db.logger.Warn("flag keyword index dirty", "error", err)
			}
		}
	}

	return db.substringSearch(query, limit, tables)
}

func (db *DB) ftsSearch(match string, limit int, tables []indexedTable) ([]KeywordHit, error) {
	var hits []KeywordHit
	for _, t := range tables {
		fts := t.name + "_fts"
		// bm25() returns negative values where more negative = better match,
		// so we negate to get positive scores where higher = better.
		q := fmt.Sprintf(`
			SELECT t.id, t.session_id, t.content, t.metadata, t.created_at, %[3]s, -bm25(%[2]s) AS score
			FROM %[2]s
			JOIN %[1]s t ON t.rowid = %[2]s.rowid
			WHERE %[2]s MATCH ?
			ORDER BY score DESC
			LIMIT ?
		`, t.name, fts, t.toolExpr)

		found, err := db.queryHits(t.typ, q, match, limit)
		if err != nil {
			return nil, fmt.Errorf("fts search %s: %w", t.name, err)
		}
		hits = append(hits, found...)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// substringSearch is the index-free path. It matches the whole query as a
// case-insensitive substring, newest first.
func (db *DB) substringSearch(query string, limit int, tables []indexedTable) ([]KeywordHit, error) {
	pattern := "%" + escapeLike(query) + "%"

	var hits []KeywordHit
	for _, t := range tables {
		q := fmt.Sprintf(`
			SELECT t.id, t.session_id, t.content, t.metadata, t.created_at, %[2]s, 0.0
			FROM %[1]s t
			WHERE t.content LIKE ? ESCAPE '\'
			ORDER BY t.created_at DESC
			LIMIT ?
		`, t.name, t.toolExpr)

		found, err := db.queryHits(t.typ, q, pattern, limit)
		if err != nil {
			return nil, fmt.Errorf("substring search %s: %w", t.name, err)
		}
		hits = append(hits, found...)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Timestamp.After(hits[j].Timestamp)
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (db *DB) queryHits(typ models.RecordType, q string, arg any, limit int) ([]KeywordHit, error) {
	rows, err := db.Query(q, arg, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []KeywordHit
	for rows.Next() {
		var h KeywordHit
		var metadata sql.NullString
		var createdAt int64
		if err := rows.Scan(&h.ID, &h.SessionID, &h.Content, &metadata, &createdAt, &h.ToolName, &h.Score); err != nil {
			return nil, fmt.Errorf("scan keyword hit: %w", err)
		}
		h.Type = typ
		h.Metadata = metadata.String
		h.Timestamp = time.UnixMilli(createdAt)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// KeywordIndexDirty reports whether a failed index query flagged the
// keyword index for rebuild.
func (db *DB) KeywordIndexDirty() (bool, error) {
	v, err := db.getMeta(metaKeywordDirty)
	if err != nil {
		return false, err
	}
	return v == "1", nil
}

// RebuildKeywordIndex recreates any missing FTS5 tables, rebuilds every
// index from its base table and clears the dirty flag. Without FTS5 only
// the flag is cleared.
func (db *DB) RebuildKeywordIndex() error {
	if !db.fts {
		return db.setMeta(metaKeywordDirty, "0")
	}
	if err := createKeywordIndex(db.DB); err != nil {
		return memerr.New(memerr.KindCorrupt, "rebuild keyword index", err)
	}
	for _, t := range indexedTables {
		fts := t.name + "_fts"
		if _, err := db.Exec(fmt.Sprintf(`INSERT INTO %[1]s(%[1]s) VALUES ('rebuild')`, fts)); err != nil {
			return memerr.New(memerr.KindCorrupt, "rebuild keyword index", fmt.Errorf("%s: %w", fts, err))
		}
	}
	if err := db.setMeta(metaKeywordDirty, "0"); err != nil {
		return err
	}
	db.logger.Info("keyword index rebuilt")
	return nil
}
