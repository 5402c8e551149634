package state

import (
	"database/sql"
	"fmt"
	"time"
)

// RunStatus represents the status of a coordination run.
type RunStatus string

const (
	RunActive    RunStatus = "active"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// Run represents a single execution of a task plan.
type Run struct {
	ID             string     `json:"id"`
	RootTask       string     `json:"root_task"`
	Status         RunStatus  `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at"`
	LastCheckpoint string     `json:"last_checkpoint"`
}

// CreateRun inserts a new run.
func (db *DB) CreateRun(r *Run) error {
	_, err := db.Exec(`
		INSERT INTO runs (id, root_task, status, started_at, completed_at, last_checkpoint)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, r.RootTask, string(r.Status), formatTime(r.StartedAt), nullableTimeString(r.CompletedAt), r.LastCheckpoint)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID. A missing run yields (nil, nil).
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.QueryRow(`
		SELECT id, root_task, status, started_at, completed_at, last_checkpoint
		FROM runs WHERE id = ?
	`, id)

	r, err := scanRun(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// UpdateRun updates a run's mutable fields.
func (db *DB) UpdateRun(r *Run) error {
	_, err := db.Exec(`
		UPDATE runs SET root_task = ?, status = ?, completed_at = ?, last_checkpoint = ?
		WHERE id = ?
	`, r.RootTask, string(r.Status), nullableTimeString(r.CompletedAt), r.LastCheckpoint, r.ID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// DeleteRun deletes a run by ID.
func (db *DB) DeleteRun(id string) error {
	_, err := db.Exec("DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return nil
}

// ListRuns lists all runs, optionally filtered by status, newest first.
func (db *DB) ListRuns(status *RunStatus) ([]Run, error) {
	var rows *sql.Rows
	var err error

	if status != nil {
		rows, err = db.Query(`
			SELECT id, root_task, status, started_at, completed_at, last_checkpoint
			FROM runs WHERE status = ? ORDER BY started_at DESC
		`, string(*status))
	} else {
		rows, err = db.Query(`
			SELECT id, root_task, status, started_at, completed_at, last_checkpoint
			FROM runs ORDER BY started_at DESC
		`)
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, nil
}

// GetActiveRun returns the most recent active run, if any.
func (db *DB) GetActiveRun() (*Run, error) {
	status := RunActive
	runs, err := db.ListRuns(&status)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

func scanRun(scan func(...any) error) (*Run, error) {
	var r Run
	var startedAt string
	var completedAt, lastCheckpoint sql.NullString
	if err := scan(&r.ID, &r.RootTask, &r.Status, &startedAt, &completedAt, &lastCheckpoint); err != nil {
		return nil, err
	}
	r.StartedAt, _ = parseTime(startedAt)
	r.CompletedAt = parseNullableTime(completedAt)
	if lastCheckpoint.Valid {
		r.LastCheckpoint = lastCheckpoint.String
	}
	return &r, nil
}

func nullableTimeString(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
