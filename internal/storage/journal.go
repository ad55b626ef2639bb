package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/httprunner/ActivityUploader/internal/env"
	"github.com/httprunner/ActivityUploader/pkg/uploader"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const (
	// EnvDBPath enables the journal; empty keeps it off.
	EnvDBPath = "SUBMISSION_DB_PATH"

	submissionsTable = "submissions"
	defaultListLimit = 20
)

// Journal records the outcome of every submission in SQLite. It never stores
// tokens or Bitable rows.
type Journal struct {
	db     *sql.DB
	insert *sql.Stmt
	path   string
}

// OpenFromEnv opens the journal at SUBMISSION_DB_PATH. It returns nil, nil
// when the variable is unset.
func OpenFromEnv() (*Journal, error) {
	path := env.String(EnvDBPath, "")
	if path == "" {
		return nil, nil
	}
	return Open(path)
}

// Open creates (if needed) and opens the journal database at path.
func Open(path string) (*Journal, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, pkgerrors.New("storage: empty journal path")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, pkgerrors.Wrapf(err, "storage: create directory %s failed", dir)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "storage: open sqlite database failed")
	}
	if err := configureSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := prepareSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	stmt, err := db.Prepare(`INSERT INTO ` + submissionsTable + `
		(id, activity_name, state, urls, record_id, action, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state=excluded.state, urls=excluded.urls, record_id=excluded.record_id,
			action=excluded.action, error=excluded.error`)
	if err != nil {
		db.Close()
		return nil, pkgerrors.Wrap(err, "storage: prepare journal insert failed")
	}
	log.Debug().Str("path", path).Msg("submission journal opened")
	return &Journal{db: db, insert: stmt, path: path}, nil
}

func configureSQLite(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return pkgerrors.Wrapf(err, "storage: execute %s failed", pragma)
		}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return nil
}

func prepareSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + submissionsTable + ` (
			id TEXT PRIMARY KEY,
			activity_name TEXT NOT NULL,
			state TEXT NOT NULL,
			urls TEXT,
			record_id TEXT,
			action TEXT,
			error TEXT,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_created_at ON ` + submissionsTable + ` (created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return pkgerrors.Wrap(err, "storage: prepare journal schema failed")
		}
	}
	return nil
}

// Path returns the database file backing the journal.
func (j *Journal) Path() string {
	return j.path
}

// Record stores summary, replacing an earlier entry with the same id.
func (j *Journal) Record(ctx context.Context, summary uploader.Summary) error {
	urls, err := json.Marshal(summary.URLs)
	if err != nil {
		return pkgerrors.Wrap(err, "storage: marshal urls failed")
	}
	createdAt := summary.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	if _, err := j.insert.ExecContext(ctx,
		summary.ID,
		summary.ActivityName,
		string(summary.State),
		string(urls),
		summary.RecordID,
		string(summary.Action),
		summary.Error,
		createdAt.UnixMilli(),
	); err != nil {
		return pkgerrors.Wrap(err, "storage: insert submission failed")
	}
	return nil
}

// List returns the newest entries first. A non-positive limit uses 20.
func (j *Journal) List(ctx context.Context, limit int) ([]uploader.Summary, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := j.db.QueryContext(ctx, `SELECT id, activity_name, state, urls, record_id, action, error, created_at
		FROM `+submissionsTable+` ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "storage: query submissions failed")
	}
	defer rows.Close()

	var out []uploader.Summary
	for rows.Next() {
		var (
			entry                   uploader.Summary
			state, action           string
			urls, recordID, errText sql.NullString
			createdAt               int64
		)
		if err := rows.Scan(&entry.ID, &entry.ActivityName, &state, &urls, &recordID, &action, &errText, &createdAt); err != nil {
			return nil, pkgerrors.Wrap(err, "storage: scan submission failed")
		}
		entry.State = uploader.State(state)
		entry.Action = uploader.RecordAction(action)
		entry.RecordID = recordID.String
		entry.Error = errText.String
		entry.CreatedAt = time.UnixMilli(createdAt)
		if urls.Valid && urls.String != "" && urls.String != "null" {
			if err := json.Unmarshal([]byte(urls.String), &entry.URLs); err != nil {
				return nil, pkgerrors.Wrapf(err, "storage: decode urls of %s failed", entry.ID)
			}
		}
		out = append(out, entry)
	}
	return out, pkgerrors.Wrap(rows.Err(), "storage: iterate submissions failed")
}

// Close releases the database.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	if j.insert != nil {
		_ = j.insert.Close()
	}
	return j.db.Close()
}
