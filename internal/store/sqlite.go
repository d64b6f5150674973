package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// FileName is the structured store file inside a project's data directory.
const FileName = "memory.db"

// DB wraps one project's SQLite connection with initialization logic. A DB
// assumes it is the only writer for its file.
type DB struct {
	*sql.DB
	path   string
	logger *slog.Logger
	// fts is false when the driver was built without FTS5; keyword search
	// then always uses the substring scan.
	fts bool
}

// Open creates or opens the SQLite database at the given path, runs schema
// initialization, and configures WAL mode for concurrent reads.
func Open(dbPath string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB.SetMaxOpenConns(1) // SQLite handles one writer at a time

	if err := initSchema(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	if err := runMigrations(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db := &DB{DB: sqlDB, path: dbPath, logger: logger.With("component", "store", "db", dbPath)}
	if err := createKeywordIndex(sqlDB); err != nil {
		db.logger.Warn("keyword index unavailable, using substring search", "error", err)
	} else {
		db.fts = true
	}

	return db, nil
}

// OpenProject opens the store file inside a project data directory.
func OpenProject(dataDir string, logger *slog.Logger) (*DB, error) {
	return Open(filepath.Join(dataDir, FileName), logger)
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// KeywordIndexEnabled reports whether FTS5 tables back keyword search.
func (db *DB) KeywordIndexEnabled() bool {
	return db.fts
}

func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS sessions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  session_id TEXT NOT NULL UNIQUE,
  project_path TEXT NOT NULL,
  started_at INTEGER NOT NULL,
  ended_at INTEGER,
  status TEXT NOT NULL DEFAULT 'active'
);

CREATE TABLE IF NOT EXISTS prompts (
  id TEXT PRIMARY KEY,
  session_id TEXT NOT NULL,
  content TEXT NOT NULL,
  metadata TEXT,
  created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_prompts_session ON prompts(session_id);
CREATE INDEX IF NOT EXISTS idx_prompts_created_at ON prompts(created_at);

CREATE TABLE IF NOT EXISTS responses (
  id TEXT PRIMARY KEY,
  session_id TEXT NOT NULL,
  prompt_id TEXT,
  content TEXT NOT NULL,
  metadata TEXT,
  created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_responses_session ON responses(session_id);
CREATE INDEX IF NOT EXISTS idx_responses_created_at ON responses(created_at);

CREATE TABLE IF NOT EXISTS meta (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// runMigrations applies schema changes added after the initial schema. Each
// migration is idempotent so it is safe to call on every database open.
func runMigrations(db *sql.DB) error {
	if err := runObservationsMigration(db); err != nil {
		return err
	}
	if err := runSummariesMigration(db); err != nil {
		return err
	}
	return nil
}

// runObservationsMigration creates the observations table (v2).
func runObservationsMigration(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS observations (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			tool_input TEXT,
			tool_output TEXT,
			content TEXT NOT NULL,
			metadata TEXT,
			created_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create observations table: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_observations_session ON observations(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_observations_created_at ON observations(created_at)`,
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("create observations index: %w", err)
		}
	}
	return nil
}

// runSummariesMigration creates the summaries table (v3) and backfills the
// ai_summary column on databases created before it existed.
func runSummariesMigration(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS summaries (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL UNIQUE,
			stats_summary TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			metadata TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create summaries table: %w", err)
	}

	hasAI, err := columnExists(db, "summaries", "ai_summary")
	if err != nil {
		return fmt.Errorf("check ai_summary column: %w", err)
	}
	if !hasAI {
		if _, err := db.Exec(`ALTER TABLE summaries ADD COLUMN ai_summary TEXT`); err != nil {
			return fmt.Errorf("add ai_summary column: %w", err)
		}
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_summaries_updated_at ON summaries(updated_at)`); err != nil {
		return fmt.Errorf("create summaries index: %w", err)
	}
	return nil
}

// columnExists checks if a column exists in a table. It properly closes the
// rows cursor before returning, avoiding deadlocks with MaxOpenConns(1).
func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(
		fmt.Sprintf("SELECT name FROM pragma_table_info('%s') WHERE name = ?", table),
		column,
	)
	if err != nil {
		return false, err
	}
	found := rows.Next()
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, err
	}
	return found, nil
}

func (db *DB) getMeta(key string) (string, error) {
	var v string
	err := db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get meta %s: %w", key, err)
	}
	return v, nil
}

func (db *DB) setMeta(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}
