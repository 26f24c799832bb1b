package main

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id          TEXT PRIMARY KEY,
		dir         TEXT NOT NULL,
		status      TEXT DEFAULT 'idle',
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_active DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_active ON sessions(last_active);

	CREATE TABLE IF NOT EXISTS runs (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id   TEXT NOT NULL,
		kind         TEXT NOT NULL,
		llm_provider TEXT DEFAULT '',
		llm_model    TEXT DEFAULT '',
		status       TEXT DEFAULT 'running',
		detail       TEXT DEFAULT '',
		tokens_in    INTEGER DEFAULT 0,
		tokens_out   INTEGER DEFAULT 0,
		started_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
		finished_at  DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_runs_session ON runs(session_id);

	CREATE TABLE IF NOT EXISTS minted_labels (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id     INTEGER NOT NULL,
		question   TEXT NOT NULL,
		code       TEXT NOT NULL,
		label      TEXT NOT NULL,
		minted_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_minted_run ON minted_labels(run_id);

	CREATE TABLE IF NOT EXISTS review_corrections (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id       INTEGER NOT NULL,
		code_column  TEXT NOT NULL,
		response     TEXT NOT NULL,
		original     TEXT DEFAULT '',
		corrected    TEXT NOT NULL,
		corrected_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_rc_run ON review_corrections(run_id);
	`
	_, err = db.Exec(schema)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func InsertSession(db *sql.DB, id, dir string) error {
	_, err := db.Exec(
		`INSERT INTO sessions (id, dir) VALUES (?, ?)`,
		id, dir,
	)
	return err
}

func TouchSession(db *sql.DB, id string) error {
	_, err := db.Exec(
		`UPDATE sessions SET last_active = CURRENT_TIMESTAMP WHERE id = ?`,
		id,
	)
	return err
}

func UpdateSessionStatus(db *sql.DB, id, status string) error {
	_, err := db.Exec(
		`UPDATE sessions SET status = ?, last_active = CURRENT_TIMESTAMP WHERE id = ?`,
		status, id,
	)
	return err
}

func DeleteSession(db *sql.DB, id string) error {
	_, err := db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	return err
}

type SessionRecord struct {
	ID         string
	Dir        string
	Status     string
	CreatedAt  time.Time
	LastActive time.Time
}

func GetStaleSessions(db *sql.DB, olderThan time.Time) ([]SessionRecord, error) {
	rows, err := db.Query(
		`SELECT id, dir, status, created_at, last_active
		 FROM sessions WHERE last_active < ? ORDER BY last_active`,
		olderThan,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var s SessionRecord
		if err := rows.Scan(&s.ID, &s.Dir, &s.Status, &s.CreatedAt, &s.LastActive); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// --- Runs ---

func InsertRun(db *sql.DB, sessionID, kind, provider, model string) (int64, error) {
	res, err := db.Exec(
		`INSERT INTO runs (session_id, kind, llm_provider, llm_model) VALUES (?, ?, ?, ?)`,
		sessionID, kind, provider, model,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func FinishRun(db *sql.DB, runID int64, status, detail string) error {
	_, err := db.Exec(
		`UPDATE runs SET status = ?, detail = ?, finished_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, detail, runID,
	)
	return err
}

func UpdateRunUsage(db *sql.DB, runID, tokensIn, tokensOut int64) error {
	_, err := db.Exec(
		`UPDATE runs SET tokens_in = ?, tokens_out = ? WHERE id = ?`,
		tokensIn, tokensOut, runID,
	)
	return err
}

func GetRunUsage(db *sql.DB, runID int64) (int64, int64, error) {
	var in, out int64
	err := db.QueryRow(
		`SELECT tokens_in, tokens_out FROM runs WHERE id = ?`,
		runID,
	).Scan(&in, &out)
	return in, out, err
}

// --- Minted label audit ---

func InsertMintedLabel(db *sql.DB, runID int64, question, code, label string) error {
	_, err := db.Exec(
		`INSERT INTO minted_labels (run_id, question, code, label) VALUES (?, ?, ?, ?)`,
		runID, question, code, label,
	)
	return err
}

type MintedLabel struct {
	ID       int64
	RunID    int64
	Question string
	Code     string
	Label    string
	MintedAt time.Time
}

func GetMintedLabels(db *sql.DB, runID int64) ([]MintedLabel, error) {
	rows, err := db.Query(
		`SELECT id, run_id, question, code, label, minted_at
		 FROM minted_labels WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MintedLabel
	for rows.Next() {
		var m MintedLabel
		if err := rows.Scan(&m.ID, &m.RunID, &m.Question, &m.Code, &m.Label, &m.MintedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Review corrections ---

func InsertReviewCorrection(db *sql.DB, runID int64, codeColumn, response, original, corrected string) error {
	_, err := db.Exec(
		`INSERT INTO review_corrections (run_id, code_column, response, original, corrected)
		 VALUES (?, ?, ?, ?, ?)`,
		runID, codeColumn, response, original, corrected,
	)
	return err
}

func CountReviewCorrections(db *sql.DB, runID int64) (int, error) {
	var count int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM review_corrections WHERE run_id = ?`,
		runID,
	).Scan(&count)
	return count, err
}
