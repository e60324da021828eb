package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run is one correlation pass over a capture. Params and Summary hold the
// JSON-encoded configuration and end-of-run report.
type Run struct {
	RunID      string            `json:"run_id"`
	CaptureID  string            `json:"capture_id"`
	Status     string            `json:"status"`
	StartedAt  int64             `json:"started_at"`
	FinishedAt *int64            `json:"finished_at,omitempty"`
	Params     json.RawMessage   `json:"params,omitempty"`
	Summary    json.RawMessage   `json:"summary,omitempty"`
	Error      string            `json:"error,omitempty"`
	Version    string            `json:"version,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// RunStore provides persistence for correlation runs.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

// Start records a new run in the running state. If RunID is empty, a UUID is
// generated.
func (s *RunStore) Start(ctx context.Context, r *Run) error {
	if r.RunID == "" {
		r.RunID = uuid.New().String()
	}
	if r.StartedAt == 0 {
		r.StartedAt = time.Now().UnixNano()
	}
	r.Status = RunStatusRunning
	if len(r.Params) == 0 {
		r.Params = json.RawMessage(`{}`)
	}
	attrs, err := json.Marshal(nonNilMap(r.Attributes))
	if err != nil {
		return fmt.Errorf("marshal run attributes: %w", err)
	}
	return retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO runs (run_id, capture_id, status, started_unix_nanos, params_json, version, attributes_json)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.RunID, r.CaptureID, r.Status, r.StartedAt, string(r.Params), r.Version, string(attrs))
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		return nil
	})
}

// Finish marks a run completed, or failed when runErr is non-nil, and stores
// its summary.
func (s *RunStore) Finish(ctx context.Context, runID string, summary any, runErr error) error {
	status, msg := RunStatusCompleted, ""
	if runErr != nil {
		status, msg = RunStatusFailed, runErr.Error()
	}
	var summaryJSON sql.NullString
	if summary != nil {
		b, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("marshal run summary: %w", err)
		}
		summaryJSON = sql.NullString{String: string(b), Valid: true}
	}
	finished := time.Now().UnixNano()
	return retryOnBusy(func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE runs SET status = ?, finished_unix_nanos = ?, summary_json = ?, error = ?
			WHERE run_id = ?`,
			status, finished, summaryJSON, msg, runID)
		if err != nil {
			return fmt.Errorf("finish run %s: %w", runID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		return nil
	})
}

// SetAttributes replaces the run's attributes.
func (s *RunStore) SetAttributes(ctx context.Context, runID string, attrs map[string]string) error {
	b, err := json.Marshal(nonNilMap(attrs))
	if err != nil {
		return fmt.Errorf("marshal run attributes: %w", err)
	}
	return retryOnBusy(func() error {
		res, err := s.db.ExecContext(ctx, `UPDATE runs SET attributes_json = ? WHERE run_id = ?`, string(b), runID)
		if err != nil {
			return fmt.Errorf("update run %s attributes: %w", runID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		return nil
	})
}

const runColumns = `run_id, capture_id, status, started_unix_nanos, finished_unix_nanos,
	params_json, summary_json, error, version, attributes_json`

// Get returns a run by ID.
func (s *RunStore) Get(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return r, err
}

// ListByCapture returns the runs of a capture, newest first.
func (s *RunStore) ListByCapture(ctx context.Context, captureID string) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+`
		FROM runs WHERE capture_id = ? ORDER BY started_unix_nanos DESC`, captureID)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		r        Run
		finished sql.NullInt64
		params   string
		summary  sql.NullString
		attrs    string
	)
	if err := row.Scan(&r.RunID, &r.CaptureID, &r.Status, &r.StartedAt, &finished,
		&params, &summary, &r.Error, &r.Version, &attrs); err != nil {
		return nil, err
	}
	if finished.Valid {
		r.FinishedAt = &finished.Int64
	}
	r.Params = json.RawMessage(params)
	if summary.Valid {
		r.Summary = json.RawMessage(summary.String)
	}
	if err := json.Unmarshal([]byte(attrs), &r.Attributes); err != nil {
		return nil, fmt.Errorf("decode attributes of run %s: %w", r.RunID, err)
	}
	return &r, nil
}
