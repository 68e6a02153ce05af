package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/accident.classifier/internal/timeutil"
)

// RunStatus is the lifecycle state of an experiment run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunCancelled RunStatus = "cancelled" // interrupted; partial results kept
	RunFailed    RunStatus = "failed"
)

// ErrRunNotFound is returned when a run ID does not exist.
var ErrRunNotFound = errors.New("run not found")

// Run is one persisted training run.
type Run struct {
	RunID          string          `json:"run_id"`
	ConfigJSON     json.RawMessage `json:"config_json"`
	Status         RunStatus       `json:"status"`
	StartedAt      int64           `json:"started_at"`            // unix nanoseconds
	FinishedAt     int64           `json:"finished_at,omitempty"` // 0 while running
	DurationMS     int64           `json:"duration_ms,omitempty"`
	TrainWindows   int             `json:"train_windows"`
	TestWindows    int             `json:"test_windows"`
	MaxAccuracy    float64         `json:"max_accuracy"`
	FinalAccuracy  float64         `json:"final_accuracy"`
	CheckpointPath string          `json:"checkpoint_path,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// Outcome is what a finished run records.
type Outcome struct {
	Status         RunStatus
	MaxAccuracy    float64
	FinalAccuracy  float64
	CheckpointPath string
	Err            error
}

// Evaluation is one periodic held-out evaluation of a run, numbered by Seq
// in the order it was taken.
type Evaluation struct {
	Seq      int     `json:"seq"`
	Epoch    int     `json:"epoch"`
	Step     int     `json:"step"`
	Loss     float64 `json:"loss"`
	Accuracy float64 `json:"accuracy"`
}

// RunStore reads and writes experiment runs.
type RunStore struct {
	db    *sql.DB
	clock timeutil.Clock
}

// NewRunStore creates a RunStore. A nil clock uses the wall clock.
func NewRunStore(db *DB, clock timeutil.Clock) *RunStore {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &RunStore{db: db.DB, clock: clock}
}

// CreateRun inserts run with status running. RunID is generated when empty
// and StartedAt is set from the store's clock.
func (s *RunStore) CreateRun(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if len(run.ConfigJSON) == 0 {
		run.ConfigJSON = json.RawMessage("{}")
	}
	run.Status = RunRunning
	run.StartedAt = s.clock.Now().UnixNano()

	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO experiment_runs (
				run_id, config_json, status, started_at, train_windows, test_windows
			) VALUES (?, ?, ?, ?, ?, ?)`,
			run.RunID, string(run.ConfigJSON), run.Status, run.StartedAt,
			run.TrainWindows, run.TestWindows,
		)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		return nil
	})
}

// SetWindowCounts records the split sizes once they are known.
func (s *RunStore) SetWindowCounts(runID string, train, test int) error {
	return s.update(runID, `UPDATE experiment_runs SET train_windows = ?, test_windows = ? WHERE run_id = ?`,
		train, test, runID)
}

// FinishRun records the outcome, finish time and duration of a run.
func (s *RunStore) FinishRun(runID string, out Outcome) error {
	var started int64
	if err := s.db.QueryRow(`SELECT started_at FROM experiment_runs WHERE run_id = ?`, runID).Scan(&started); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return fmt.Errorf("query run: %w", err)
	}
	finished := s.clock.Now().UnixNano()

	var errText interface{}
	if out.Err != nil {
		errText = out.Err.Error()
	}
	var checkpoint interface{}
	if out.CheckpointPath != "" {
		checkpoint = out.CheckpointPath
	}
	return s.update(runID, `
		UPDATE experiment_runs
		SET status = ?, finished_at = ?, duration_ms = ?, max_accuracy = ?,
		    final_accuracy = ?, checkpoint_path = ?, error = ?
		WHERE run_id = ?`,
		out.Status, finished, (finished-started)/1e6, out.MaxAccuracy,
		out.FinalAccuracy, checkpoint, errText, runID)
}

func (s *RunStore) update(runID, query string, args ...interface{}) error {
	return retryOnBusy(func() error {
		result, err := s.db.Exec(query, args...)
		if err != nil {
			return fmt.Errorf("update run: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil
	})
}

// RecordEvaluations appends evaluation points to a run in one transaction.
func (s *RunStore) RecordEvaluations(runID string, evals []Evaluation) error {
	if len(evals) == 0 {
		return nil
	}
	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(`
			INSERT INTO run_evaluations (run_id, seq, epoch, step, loss, accuracy)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()

		for _, e := range evals {
			if _, err := stmt.Exec(runID, e.Seq, e.Epoch, e.Step, e.Loss, e.Accuracy); err != nil {
				return fmt.Errorf("insert evaluation %d: %w", e.Seq, err)
			}
		}
		return tx.Commit()
	})
}

const runColumns = `run_id, config_json, status, started_at, finished_at, duration_ms,
	train_windows, test_windows, max_accuracy, final_accuracy, checkpoint_path, error`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var config string
	var finished, duration sql.NullInt64
	var maxAcc, finalAcc sql.NullFloat64
	var checkpoint, errText sql.NullString
	err := row.Scan(
		&r.RunID, &config, &r.Status, &r.StartedAt, &finished, &duration,
		&r.TrainWindows, &r.TestWindows, &maxAcc, &finalAcc, &checkpoint, &errText,
	)
	if err != nil {
		return nil, err
	}
	r.ConfigJSON = json.RawMessage(config)
	r.FinishedAt = finished.Int64
	r.DurationMS = duration.Int64
	r.MaxAccuracy = maxAcc.Float64
	r.FinalAccuracy = finalAcc.Float64
	r.CheckpointPath = checkpoint.String
	r.Error = errText.String
	return &r, nil
}

// GetRun returns a single run.
func (s *RunStore) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM experiment_runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *RunStore) ListRuns(limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM experiment_runs ORDER BY started_at DESC, run_id`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Evaluations returns a run's evaluation history in recording order.
func (s *RunStore) Evaluations(runID string) ([]Evaluation, error) {
	rows, err := s.db.Query(`
		SELECT seq, epoch, step, loss, accuracy
		FROM run_evaluations
		WHERE run_id = ?
		ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("query evaluations: %w", err)
	}
	defer rows.Close()

	var evals []Evaluation
	for rows.Next() {
		var e Evaluation
		if err := rows.Scan(&e.Seq, &e.Epoch, &e.Step, &e.Loss, &e.Accuracy); err != nil {
			return nil, fmt.Errorf("scan evaluation row: %w", err)
		}
		evals = append(evals, e)
	}
	return evals, rows.Err()
}
