package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// RunStatus is the persisted status of an analysis run.
type RunStatus string

const (
	RunStatusPending    RunStatus = "pending"
	RunStatusProcessing RunStatus = "processing"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
)

// Run is an analysis run stored in the database.
type Run struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	SourceName string    `json:"source_name"`
	SourcePath string    `json:"-"`
	Status     RunStatus `json:"status"`
	Progress   float64   `json:"progress"`
	Degraded   bool      `json:"degraded"`
	Detector   string    `json:"detector"`
	Error      string    `json:"error,omitempty"`
	// Summary is the JSON encoded result, empty until the run completes.
	Summary       json.RawMessage `json:"summary,omitempty"`
	AnnotatedPath string          `json:"-"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// RunRepository provides CRUD operations for runs.
type RunRepository struct {
	db *sql.DB
}

// Runs returns the run repository for this store.
func (s *Store) Runs() *RunRepository {
	return &RunRepository{db: s.db}
}

const runColumns = `id, kind, source_name, source_path, status, progress, degraded, detector,
	error, summary, annotated_path, created_at, updated_at`

// Create inserts a new run.
func (r *RunRepository) Create(run *Run) error {
	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now
	if run.Status == "" {
		run.Status = RunStatusPending
	}

	_, err := r.db.Exec(
		`INSERT INTO runs (`+runColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Kind, run.SourceName, run.SourcePath, string(run.Status), run.Progress,
		run.Degraded, run.Detector, run.Error, nullableJSON(run.Summary), run.AnnotatedPath,
		run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// GetByID retrieves a run by its ID.
func (r *RunRepository) GetByID(id string) (*Run, error) {
	run, err := scanRun(r.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return run, nil
}

// List returns runs newest first. A non-positive limit returns all runs.
func (r *RunRepository) List(limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// UpdateProgress records an in-flight status and progress.
func (r *RunRepository) UpdateProgress(id string, status RunStatus, progress float64, degraded bool) error {
	return r.update(id,
		`UPDATE runs SET status = ?, progress = ?, degraded = ?, updated_at = ? WHERE id = ?`,
		string(status), progress, degraded, time.Now().UTC(), id,
	)
}

// Complete stores the final summary of a run.
func (r *RunRepository) Complete(id string, summary json.RawMessage, detector, annotatedPath string, degraded bool) error {
	return r.update(id,
		`UPDATE runs SET status = ?, progress = 100, summary = ?, detector = ?, annotated_path = ?,
		 degraded = ?, error = '', updated_at = ? WHERE id = ?`,
		string(RunStatusCompleted), nullableJSON(summary), detector, annotatedPath, degraded,
		time.Now().UTC(), id,
	)
}

// Fail marks a run failed with a message.
func (r *RunRepository) Fail(id string, message string) error {
	return r.update(id,
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(RunStatusFailed), message, time.Now().UTC(), id,
	)
}

// Delete removes a run.
func (r *RunRepository) Delete(id string) error {
	return r.update(id, `DELETE FROM runs WHERE id = ?`, id)
}

// DeleteOlderThan removes runs created before cutoff and returns them so
// the caller can remove their files.
func (r *RunRepository) DeleteOlderThan(cutoff time.Time) ([]*Run, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT `+runColumns+` FROM runs WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return nil, err
	}

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		runs = append(runs, run)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(`DELETE FROM runs WHERE created_at < ?`, cutoff.UTC()); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return runs, nil
}

func (r *RunRepository) update(id string, query string, args ...any) error {
	result, err := r.db.Exec(query, args...)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	run := &Run{}
	var status string
	var summary sql.NullString

	err := row.Scan(&run.ID, &run.Kind, &run.SourceName, &run.SourcePath, &status, &run.Progress,
		&run.Degraded, &run.Detector, &run.Error, &summary, &run.AnnotatedPath,
		&run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}

	run.Status = RunStatus(status)
	if summary.Valid && summary.String != "" {
		run.Summary = json.RawMessage(summary.String)
	}
	return run, nil
}

func nullableJSON(data json.RawMessage) any {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}
