// Package store persists job history in SQLite. The queue treats it as an
// append-mostly log: every state transition is saved, and on startup jobs
// interrupted by a shutdown are reset to queued.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gwlsn/streampack/internal/ladder"
	"github.com/gwlsn/streampack/internal/scheduler"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	source_path TEXT NOT NULL,
	output_root TEXT NOT NULL,
	ladder TEXT NOT NULL,
	segment_duration REAL NOT NULL,
	state TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	error TEXT,
	error_kind TEXT,
	renditions INTEGER NOT NULL DEFAULT 0,
	segments INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	started_at TEXT,
	completed_at TEXT,
	not_before TEXT
);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL,
	applied_at TEXT DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
`

// SQLiteStore implements the scheduler's Store interface using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.RWMutex // Protects concurrent access
	path string
}

// NewSQLiteStore creates a new SQLite-backed store.
// The database file is created if it doesn't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	// Check/set schema version
	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			db.Close()
			return nil, fmt.Errorf("insert schema version: %w", err)
		}
	} else if err != nil {
		db.Close()
		return nil, fmt.Errorf("check schema version: %w", err)
	} else if version > schemaVersion {
		db.Close()
		return nil, fmt.Errorf("database schema version %d is newer than supported %d", version, schemaVersion)
	}

	return &SQLiteStore{db: db, path: dbPath}, nil
}

// SaveJob persists a job using INSERT OR REPLACE.
func (s *SQLiteStore) SaveJob(job *scheduler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ladderJSON, err := json.Marshal(job.Ladder)
	if err != nil {
		return fmt.Errorf("marshal ladder: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO jobs (
			id, source_path, output_root, ladder, segment_duration,
			state, attempts, error, error_kind, renditions, segments,
			created_at, started_at, completed_at, not_before
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID, job.SourcePath, job.OutputRoot, string(ladderJSON), job.SegmentDuration,
		string(job.State), job.Attempts, nullString(job.Error), nullString(job.ErrorKind),
		job.Renditions, job.Segments,
		formatTime(job.CreatedAt), formatTimePtr(job.StartedAt), formatTimePtr(job.CompletedAt),
		formatTimePtr(job.NotBefore),
	)
	return err
}

// GetJob retrieves a job by ID.
func (s *SQLiteStore) GetJob(id string) (*scheduler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, source_path, output_root, ladder, segment_duration,
			state, attempts, error, error_kind, renditions, segments,
			created_at, started_at, completed_at, not_before
		FROM jobs WHERE id = ?
	`, id)

	return scanJob(row)
}

// GetAllJobs returns all jobs in submission order.
func (s *SQLiteStore) GetAllJobs() ([]*scheduler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryJobs(`
		SELECT id, source_path, output_root, ladder, segment_duration,
			state, attempts, error, error_kind, renditions, segments,
			created_at, started_at, completed_at, not_before
		FROM jobs
		ORDER BY created_at ASC, id ASC
	`)
}

// GetJobsByState returns all jobs with the given state, oldest first.
func (s *SQLiteStore) GetJobsByState(state scheduler.State) ([]*scheduler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryJobs(`
		SELECT id, source_path, output_root, ladder, segment_duration,
			state, attempts, error, error_kind, renditions, segments,
			created_at, started_at, completed_at, not_before
		FROM jobs
		WHERE state = ?
		ORDER BY created_at ASC, id ASC
	`, string(state))
}

// RecentJobs returns the most recently created jobs, newest first.
func (s *SQLiteStore) RecentJobs(limit int) ([]*scheduler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryJobs(`
		SELECT id, source_path, output_root, ladder, segment_duration,
			state, attempts, error, error_kind, renditions, segments,
			created_at, started_at, completed_at, not_before
		FROM jobs
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
}

func (s *SQLiteStore) queryJobs(query string, args ...interface{}) ([]*scheduler.Job, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobList []*scheduler.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobList = append(jobList, job)
	}
	return jobList, rows.Err()
}

// DeleteJob removes a job by ID.
func (s *SQLiteStore) DeleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM jobs WHERE id = ?", id)
	return err
}

// ResetInterruptedJobs flips jobs left running by a previous process back to
// queued. Called once at startup before the queue loads its state. Failed
// jobs are untouched: their not_before gate carries the backoff schedule
// across restarts and the queue resumes it.
func (s *SQLiteStore) ResetInterruptedJobs() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		UPDATE jobs
		SET state = 'queued', started_at = NULL
		WHERE state = 'running'
	`)
	if err != nil {
		return 0, err
	}

	count, err := result.RowsAffected()
	return int(count), err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Helper functions for scanning rows

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*scheduler.Job, error) {
	var job scheduler.Job
	var ladderJSON, state string
	var errStr, errKind sql.NullString
	var createdAt, startedAt, completedAt, notBefore sql.NullString

	err := row.Scan(
		&job.ID, &job.SourcePath, &job.OutputRoot, &ladderJSON, &job.SegmentDuration,
		&state, &job.Attempts, &errStr, &errKind, &job.Renditions, &job.Segments,
		&createdAt, &startedAt, &completedAt, &notBefore,
	)
	if err != nil {
		return nil, err
	}

	var l ladder.Ladder
	if err := json.Unmarshal([]byte(ladderJSON), &l); err != nil {
		return nil, fmt.Errorf("unmarshal ladder for job %s: %w", job.ID, err)
	}

	job.Ladder = l
	job.State = scheduler.State(state)
	job.Error = errStr.String
	job.ErrorKind = errKind.String
	job.CreatedAt = parseTime(createdAt.String)
	job.StartedAt = parseTime(startedAt.String)
	job.CompletedAt = parseTime(completedAt.String)
	job.NotBefore = parseTime(notBefore.String)

	return &job, nil
}

// Helper functions for SQL values

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
