// Package screenstore provides persistent storage for tumor-vs-control screen jobs and results using SQLite.
package screenstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// JobStatus represents the current state of a screen job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Finished reports whether the status is terminal.
func (s JobStatus) Finished() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobParams contains the parameters for a screen job.
type JobParams struct {
	Tumor string `json:"tumor"`
	// Genes restricts the screen; empty means every gene in the store.
	Genes  []string `json:"genes,omitempty"`
	Method string   `json:"method,omitempty"`
}

// JobProgress represents the progress of a screen job.
type JobProgress struct {
	Phase string `json:"phase"`
	Done  int    `json:"done"`
	Total int    `json:"total"`
}

// Job is one screen run.
type Job struct {
	ID         string      `json:"job_id"`
	Tumor      string      `json:"tumor"`
	Status     JobStatus   `json:"status"`
	Params     JobParams   `json:"params"`
	Progress   JobProgress `json:"progress"`
	CreatedAt  time.Time   `json:"created_at"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// GeneResult is the Primary vs Control outcome for one gene.
type GeneResult struct {
	Gene          string  `db:"gene" json:"gene"`
	MedianPrimary float64 `db:"median_primary" json:"median_primary"`
	MedianControl float64 `db:"median_control" json:"median_control"`
	NPrimary      int     `db:"n_primary" json:"n_primary"`
	NControl      int     `db:"n_control" json:"n_control"`
	Log2FC        float64 `db:"log2fc" json:"log2fc"`
	PValue        float64 `db:"p_value" json:"p_value"`
	FDR           float64 `db:"fdr" json:"fdr"`
	Significance  string  `db:"significance" json:"significance"`
}

type jobRow struct {
	ID         string         `db:"job_id"`
	Tumor      string         `db:"tumor"`
	Status     string         `db:"status"`
	ParamsJSON string         `db:"params_json"`
	Phase      string         `db:"phase"`
	Done       int            `db:"done"`
	Total      int            `db:"total"`
	Error      string         `db:"error"`
	CreatedAt  string         `db:"created_at"`
	StartedAt  sql.NullString `db:"started_at"`
	FinishedAt sql.NullString `db:"finished_at"`
}

const jobColumns = `job_id, tumor, status, params_json, phase, done, total, error, created_at, started_at, finished_at`

// Store provides persistent storage for screen jobs using SQLite.
type Store struct {
	db *sqlx.DB
	mu sync.Mutex
}

// NewStore creates a new SQLite-based screen store.
func NewStore(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS screen_jobs (
		job_id TEXT PRIMARY KEY,
		tumor TEXT NOT NULL,
		status TEXT NOT NULL,
		params_json TEXT NOT NULL,
		phase TEXT DEFAULT '',
		done INTEGER DEFAULT 0,
		total INTEGER DEFAULT 0,
		error TEXT DEFAULT '',
		created_at TEXT NOT NULL,
		started_at TEXT,
		finished_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_screen_jobs_status ON screen_jobs(status);
	CREATE INDEX IF NOT EXISTS idx_screen_jobs_finished ON screen_jobs(finished_at);

	CREATE TABLE IF NOT EXISTS screen_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		gene TEXT NOT NULL,
		median_primary REAL NOT NULL,
		median_control REAL NOT NULL,
		n_primary INTEGER NOT NULL,
		n_control INTEGER NOT NULL,
		log2fc REAL NOT NULL,
		p_value REAL NOT NULL,
		fdr REAL NOT NULL,
		significance TEXT NOT NULL,
		FOREIGN KEY (job_id) REFERENCES screen_jobs(job_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_screen_results_job_fdr ON screen_results(job_id, fdr);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateJob inserts a new job record.
func (s *Store) CreateJob(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	paramsJSON, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO screen_jobs (job_id, tumor, status, params_json, phase, done, total, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID, job.Tumor, string(job.Status), string(paramsJSON),
		job.Progress.Phase, job.Progress.Done, job.Progress.Total,
		job.Error, job.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetJob retrieves a job by ID; a missing job yields (nil, nil).
func (s *Store) GetJob(jobID string) (*Job, error) {
	var row jobRow
	err := s.db.Get(&row, `SELECT `+jobColumns+` FROM screen_jobs WHERE job_id = ?`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.job()
}

func (r jobRow) job() (*Job, error) {
	job := &Job{
		ID:       r.ID,
		Tumor:    r.Tumor,
		Status:   JobStatus(r.Status),
		Progress: JobProgress{Phase: r.Phase, Done: r.Done, Total: r.Total},
		Error:    r.Error,
	}
	if err := json.Unmarshal([]byte(r.ParamsJSON), &job.Params); err != nil {
		return nil, fmt.Errorf("failed to unmarshal params: %w", err)
	}
	job.CreatedAt, _ = time.Parse(time.RFC3339, r.CreatedAt)
	if r.StartedAt.Valid {
		t, _ := time.Parse(time.RFC3339, r.StartedAt.String)
		job.StartedAt = &t
	}
	if r.FinishedAt.Valid {
		t, _ := time.Parse(time.RFC3339, r.FinishedAt.String)
		job.FinishedAt = &t
	}
	return job, nil
}

// UpdateJobStatus sets the status and error message, stamping finished_at for terminal states.
func (s *Store) UpdateJobStatus(jobID string, status JobStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var finishedAt *string
	if status.Finished() {
		t := time.Now().UTC().Format(time.RFC3339)
		finishedAt = &t
	}

	_, err := s.db.Exec(`
		UPDATE screen_jobs SET status = ?, error = ?, finished_at = COALESCE(?, finished_at)
		WHERE job_id = ?
	`, string(status), errMsg, finishedAt, jobID)
	return err
}

// UpdateJobStarted marks a job as running.
func (s *Store) UpdateJobStarted(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE screen_jobs SET status = ?, started_at = ?
		WHERE job_id = ?
	`, string(JobStatusRunning), time.Now().UTC().Format(time.RFC3339), jobID)
	return err
}

// UpdateJobProgress updates the progress fields.
func (s *Store) UpdateJobProgress(jobID string, phase string, done, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE screen_jobs SET phase = ?, done = ?, total = ?
		WHERE job_id = ?
	`, phase, done, total, jobID)
	return err
}

// InsertResults inserts gene results in one transaction.
func (s *Store) InsertResults(jobID string, results []*GeneResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Preparex(`
		INSERT INTO screen_results (job_id, gene, median_primary, median_control, n_primary, n_control, log2fc, p_value, fdr, significance)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range results {
		_, err := stmt.Exec(
			jobID, r.Gene, r.MedianPrimary, r.MedianControl, r.NPrimary, r.NControl,
			r.Log2FC, r.PValue, r.FDR, r.Significance,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// QueryResults returns one page of results and the total count.
func (s *Store) QueryResults(jobID string, orderBy string, offset, limit int) ([]*GeneResult, int, error) {
	orderCol := "fdr ASC, ABS(log2fc) DESC, gene ASC"
	switch orderBy {
	case "p_value":
		orderCol = "p_value ASC, ABS(log2fc) DESC, gene ASC"
	case "log2fc":
		orderCol = "log2fc DESC, fdr ASC, gene ASC"
	case "abs_log2fc":
		orderCol = "ABS(log2fc) DESC, fdr ASC, gene ASC"
	case "gene":
		orderCol = "gene ASC"
	}

	var total int
	if err := s.db.Get(&total, "SELECT COUNT(*) FROM screen_results WHERE job_id = ?", jobID); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT gene, median_primary, median_control, n_primary, n_control, log2fc, p_value, fdr, significance
		FROM screen_results
		WHERE job_id = ?
		ORDER BY %s
		LIMIT ? OFFSET ?
	`, orderCol)

	results := []*GeneResult{}
	if err := s.db.Select(&results, query, jobID, limit, offset); err != nil {
		return nil, 0, err
	}
	return results, total, nil
}

// ListJobs returns all jobs, newest first.
func (s *Store) ListJobs() ([]*Job, error) {
	return s.listJobs(`SELECT ` + jobColumns + ` FROM screen_jobs ORDER BY created_at DESC`)
}

// ListQueuedJobs returns all queued jobs (for restart recovery).
func (s *Store) ListQueuedJobs() ([]*Job, error) {
	return s.listJobs(`SELECT `+jobColumns+` FROM screen_jobs WHERE status = ? ORDER BY created_at ASC`, string(JobStatusQueued))
}

func (s *Store) listJobs(query string, args ...interface{}) ([]*Job, error) {
	var rows []jobRow
	if err := s.db.Select(&rows, query, args...); err != nil {
		return nil, err
	}
	jobs := make([]*Job, 0, len(rows))
	for _, r := range rows {
		job, err := r.job()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// MarkRunningAsFailed marks all running jobs as failed (for restart recovery).
func (s *Store) MarkRunningAsFailed(errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE screen_jobs SET status = ?, error = ?, finished_at = ?
		WHERE status = ?
	`, string(JobStatusFailed), errMsg, time.Now().UTC().Format(time.RFC3339), string(JobStatusRunning))
	return err
}

// DeleteExpiredJobs deletes finished jobs older than retentionDays.
func (s *Store) DeleteExpiredJobs(retentionDays int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format(time.RFC3339)

	_, err := s.db.Exec(`
		DELETE FROM screen_results WHERE job_id IN (
			SELECT job_id FROM screen_jobs WHERE finished_at IS NOT NULL AND finished_at < ?
		)
	`, cutoff)
	if err != nil {
		return 0, err
	}

	result, err := s.db.Exec(`
		DELETE FROM screen_jobs WHERE finished_at IS NOT NULL AND finished_at < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteJob deletes a job and its results.
func (s *Store) DeleteJob(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM screen_results WHERE job_id = ?", jobID); err != nil {
		return err
	}
	_, err := s.db.Exec("DELETE FROM screen_jobs WHERE job_id = ?", jobID)
	return err
}
