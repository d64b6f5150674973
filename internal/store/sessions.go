package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/iammorganparry/clive/apps/projmem/internal/memerr"
	"github.com/iammorganparry/clive/apps/projmem/internal/models"
)

const sessionColumns = `id, session_id, project_path, started_at, ended_at, status`

// CreateSession inserts a session row unless one already exists for
// sessionID. created reports whether the row is new.
func (db *DB) CreateSession(sessionID, projectPath string) (sess *models.Session, created bool, err error) {
	if sessionID == "" {
		return nil, false, memerr.Invalid("create session", "session id is required")
	}

	res, err := db.Exec(`
		INSERT INTO sessions (session_id, project_path, started_at, status)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO NOTHING
	`, sessionID, projectPath, time.Now().UnixMilli(), string(models.SessionActive))
	if err != nil {
		return nil, false, fmt.Errorf("insert session: %w", err)
	}
	n, _ := res.RowsAffected()

	sess, err = db.GetSession(sessionID)
	if err != nil {
		return nil, false, err
	}
	if sess == nil {
		return nil, false, fmt.Errorf("session %s vanished after insert", sessionID)
	}
	return sess, n > 0, nil
}

// StopSession marks a session completed.
func (db *DB) StopSession(sessionID string) (*models.Session, error) {
	res, err := db.Exec(`
		UPDATE sessions SET status = ?, ended_at = ?
		WHERE session_id = ?
	`, string(models.SessionCompleted), time.Now().UnixMilli(), sessionID)
	if err != nil {
		return nil, fmt.Errorf("stop session: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, memerr.NotFound("stop session", "session %s", sessionID)
	}
	return db.GetSession(sessionID)
}

// GetSession fetches a session by its external id. It returns nil, nil
// when the session does not exist.
func (db *DB) GetSession(sessionID string) (*models.Session, error) {
	sess, err := scanSession(db.QueryRow(
		fmt.Sprintf(`SELECT %s FROM sessions WHERE session_id = ?`, sessionColumns), sessionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns the most recently started sessions.
func (db *DB) ListSessions(limit int) ([]*models.Session, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := db.Query(
		fmt.Sprintf(`SELECT %s FROM sessions ORDER BY started_at DESC, id DESC LIMIT ?`, sessionColumns), limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// SessionCount returns the number of sessions in the store.
func (db *DB) SessionCount() (int, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var sess models.Session
	var startedAt int64
	var endedAt sql.NullInt64
	var status string

	if err := row.Scan(&sess.ID, &sess.SessionID, &sess.ProjectPath, &startedAt, &endedAt, &status); err != nil {
		return nil, err
	}
	sess.StartedAt = time.UnixMilli(startedAt)
	sess.Status = models.SessionStatus(status)
	if endedAt.Valid {
		t := time.UnixMilli(endedAt.Int64)
		sess.EndedAt = &t
	}
	return &sess, nil
}
