// Package storage is the engine's embedded persistence layer: a
// single-file SQLite database (via the pure-Go modernc.org/sqlite
// driver, so the engine never needs a client/server RDBMS) holding
// executions, step_results, approval_queue, audit_log, metrics and
// adapters.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/socrunbook/engine/internal/model"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS executions (
	execution_id    TEXT PRIMARY KEY,
	runbook_id      TEXT NOT NULL,
	runbook_version TEXT NOT NULL,
	mode            TEXT NOT NULL,
	state           TEXT NOT NULL,
	alert_json      TEXT NOT NULL,
	started_at      TEXT NOT NULL,
	completed_at    TEXT,
	error_json      TEXT
);
CREATE INDEX IF NOT EXISTS idx_executions_runbook ON executions(runbook_id);
CREATE INDEX IF NOT EXISTS idx_executions_state ON executions(state);

CREATE TABLE IF NOT EXISTS step_results (
	execution_id  TEXT NOT NULL,
	step_id       TEXT NOT NULL,
	status        TEXT NOT NULL,
	output_json   TEXT,
	error_json    TEXT,
	started_at    TEXT NOT NULL,
	completed_at  TEXT,
	duration_ms   INTEGER,
	attempts      INTEGER,
	PRIMARY KEY (execution_id, step_id)
);
CREATE INDEX IF NOT EXISTS idx_step_results_execution ON step_results(execution_id);

CREATE TABLE IF NOT EXISTS approval_queue (
	id                 TEXT PRIMARY KEY,
	execution_id       TEXT NOT NULL,
	runbook_id         TEXT NOT NULL,
	runbook_name       TEXT,
	step_id            TEXT,
	step_name          TEXT,
	action             TEXT,
	risk_level         TEXT NOT NULL,
	status             TEXT NOT NULL,
	simulation_json    BLOB,
	parameters_json    TEXT,
	alert_json         TEXT,
	prior_results_json TEXT,
	created_at         TEXT NOT NULL,
	expires_at         TEXT NOT NULL,
	decided_by         TEXT,
	decided_at         TEXT
);
CREATE INDEX IF NOT EXISTS idx_approval_status ON approval_queue(status);
CREATE INDEX IF NOT EXISTS idx_approval_expires ON approval_queue(expires_at);

CREATE TABLE IF NOT EXISTS audit_log (
	execution_id TEXT NOT NULL,
	sequence     INTEGER NOT NULL,
	event_type   TEXT NOT NULL,
	details_json TEXT NOT NULL,
	timestamp    TEXT NOT NULL,
	prev_hash    TEXT NOT NULL,
	hash         TEXT NOT NULL,
	PRIMARY KEY (execution_id, sequence)
);
CREATE INDEX IF NOT EXISTS idx_audit_execution ON audit_log(execution_id);

CREATE TABLE IF NOT EXISTS metrics (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL,
	value      REAL NOT NULL,
	labels_json TEXT,
	recorded_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_metrics_name ON metrics(name);

CREATE TABLE IF NOT EXISTS adapters (
	name              TEXT PRIMARY KEY,
	version           TEXT NOT NULL,
	supported_actions_json TEXT NOT NULL,
	registered_at     TEXT NOT NULL
);
`

// Store is the engine's SQLite-backed persistence layer.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if absent) the SQLite database at path and
// applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single-writer discipline

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// PutExecution inserts or replaces an execution's top-level row.
func (s *Store) PutExecution(ctx context.Context, result model.ExecutionResult) error {
	errJSON, err := json.Marshal(result.Error)
	if err != nil {
		return err
	}
	var completedAt any
	if !result.CompletedAt.IsZero() {
		completedAt = result.CompletedAt.Format(time.RFC3339Nano)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions (execution_id, runbook_id, runbook_version, mode, state, alert_json, started_at, completed_at, error_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(execution_id) DO UPDATE SET
			state = excluded.state,
			completed_at = excluded.completed_at,
			error_json = excluded.error_json
	`, result.ExecutionID, result.RunbookID, result.RunbookVersion, string(result.Mode), string(result.State),
		"{}", result.StartedAt.Format(time.RFC3339Nano), completedAt, string(errJSON))
	return err
}

// PutStepResult upserts a single step's result. Called incrementally as
// the scheduler steps through a run, so a crash mid-run still leaves
// completed steps durable.
func (s *Store) PutStepResult(ctx context.Context, executionID string, r model.StepResult) error {
	outputJSON, err := json.Marshal(r.Output)
	if err != nil {
		return err
	}
	errJSON, err := json.Marshal(r.Error)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO step_results (execution_id, step_id, status, output_json, error_json, started_at, completed_at, duration_ms, attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(execution_id, step_id) DO UPDATE SET
			status = excluded.status,
			output_json = excluded.output_json,
			error_json = excluded.error_json,
			completed_at = excluded.completed_at,
			duration_ms = excluded.duration_ms,
			attempts = excluded.attempts
	`, executionID, r.StepID, string(r.Status), string(outputJSON), string(errJSON),
		r.StartedAt.Format(time.RFC3339Nano), r.CompletedAt.Format(time.RFC3339Nano), r.DurationMS, r.Attempts)
	return err
}

// GetExecutionState returns a bare execution's runbook/mode/state fields
// (used to resume a run after process restart).
func (s *Store) GetExecutionState(ctx context.Context, executionID string) (runbookID, runbookVersion string, mode model.RunMode, state model.ExecutionState, found bool, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT runbook_id, runbook_version, mode, state FROM executions WHERE execution_id = ?
	`, executionID)
	var modeStr, stateStr string
	if scanErr := row.Scan(&runbookID, &runbookVersion, &modeStr, &stateStr); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return "", "", "", "", false, nil
		}
		return "", "", "", "", false, scanErr
	}
	return runbookID, runbookVersion, model.RunMode(modeStr), model.ExecutionState(stateStr), true, nil
}

// ListStepResults returns every persisted step result for an execution,
// used when resuming a run to determine which steps already completed.
func (s *Store) ListStepResults(ctx context.Context, executionID string) ([]model.StepResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step_id, status, output_json, error_json, started_at, completed_at, duration_ms, attempts
		FROM step_results WHERE execution_id = ?
	`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.StepResult
	for rows.Next() {
		var r model.StepResult
		var status, outputJSON, errJSON, startedAt, completedAt string
		if err := rows.Scan(&r.StepID, &status, &outputJSON, &errJSON, &startedAt, &completedAt, &r.DurationMS, &r.Attempts); err != nil {
			return nil, err
		}
		r.Status = model.ExecutionState(status)
		if outputJSON != "" && outputJSON != "null" {
			if err := json.Unmarshal([]byte(outputJSON), &r.Output); err != nil {
				return nil, err
			}
		}
		if errJSON != "" && errJSON != "null" {
			if err := json.Unmarshal([]byte(errJSON), &r.Error); err != nil {
				return nil, err
			}
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, err
		}
		if r.CompletedAt, err = time.Parse(time.RFC3339Nano, completedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AppendAuditEntry implements audit.Store.
func (s *Store) AppendAuditEntry(ctx context.Context, entry model.AuditEntry) error {
	detailsJSON, err := json.Marshal(entry.Details)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (execution_id, sequence, event_type, details_json, timestamp, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entry.ExecutionID, entry.Sequence, entry.EventType, string(detailsJSON),
		entry.Timestamp.Format(time.RFC3339Nano), entry.PrevHash, entry.Hash)
	return err
}

// AuditEntries implements audit.Store.
func (s *Store) AuditEntries(ctx context.Context, executionID string) ([]model.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, event_type, details_json, timestamp, prev_hash, hash
		FROM audit_log WHERE execution_id = ? ORDER BY sequence ASC
	`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var detailsJSON, ts string
		e.ExecutionID = executionID
		if err := rows.Scan(&e.Sequence, &e.EventType, &detailsJSON, &ts, &e.PrevHash, &e.Hash); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(detailsJSON), &e.Details); err != nil {
			return nil, err
		}
		e.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PutApproval implements approval.Store.
func (s *Store) PutApproval(ctx context.Context, entry model.ApprovalQueueEntry) error {
	paramsJSON, err := json.Marshal(entry.Parameters)
	if err != nil {
		return err
	}
	alertJSON, err := json.Marshal(entry.Alert)
	if err != nil {
		return err
	}
	priorJSON, err := json.Marshal(entry.PriorResults)
	if err != nil {
		return err
	}
	var decidedAt any
	if entry.DecidedAt != nil {
		decidedAt = entry.DecidedAt.Format(time.RFC3339Nano)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO approval_queue (id, execution_id, runbook_id, runbook_name, step_id, step_name, action, risk_level, status, simulation_json, parameters_json, alert_json, prior_results_json, created_at, expires_at, decided_by, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			decided_by = excluded.decided_by,
			decided_at = excluded.decided_at
	`, entry.ID, entry.ExecutionID, entry.RunbookID, entry.RunbookName, entry.StepID, entry.StepName, entry.Action,
		entry.RiskLevel, string(entry.Status), entry.SimulationJSON, string(paramsJSON), string(alertJSON),
		string(priorJSON), entry.CreatedAt.Format(time.RFC3339Nano),
		entry.ExpiresAt.Format(time.RFC3339Nano), entry.DecidedBy, decidedAt)
	return err
}

// GetApproval implements approval.Store.
func (s *Store) GetApproval(ctx context.Context, id string) (model.ApprovalQueueEntry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, execution_id, runbook_id, runbook_name, step_id, step_name, action, risk_level, status, simulation_json, parameters_json, alert_json, prior_results_json, created_at, expires_at, decided_by, decided_at
		FROM approval_queue WHERE id = ?
	`, id)
	entry, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return model.ApprovalQueueEntry{}, false, nil
	}
	if err != nil {
		return model.ApprovalQueueEntry{}, false, err
	}
	return entry, true, nil
}

// UpdateApprovalIfPending implements approval.Store: the WHERE
// status='pending' guard makes concurrent decisions race-safe at the
// database layer, not just in application code.
func (s *Store) UpdateApprovalIfPending(ctx context.Context, id string, newStatus model.ApprovalStatus, decidedBy string, decidedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE approval_queue SET status = ?, decided_by = ?, decided_at = ?
		WHERE id = ? AND status = 'pending'
	`, string(newStatus), decidedBy, decidedAt.Format(time.RFC3339Nano), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListApprovals implements approval.Store.
func (s *Store) ListApprovals(ctx context.Context, status model.ApprovalStatus) ([]model.ApprovalQueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_id, runbook_id, runbook_name, step_id, step_name, action, risk_level, status, simulation_json, parameters_json, alert_json, prior_results_json, created_at, expires_at, decided_by, decided_at
		FROM approval_queue WHERE status = ?
	`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ApprovalQueueEntry
	for rows.Next() {
		entry, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApproval(row rowScanner) (model.ApprovalQueueEntry, error) {
	var e model.ApprovalQueueEntry
	var status, createdAt, expiresAt, paramsJSON, alertJSON, priorJSON string
	var runbookName, stepID, stepName, action, decidedBy, decidedAt sql.NullString
	if err := row.Scan(&e.ID, &e.ExecutionID, &e.RunbookID, &runbookName, &stepID, &stepName, &action,
		&e.RiskLevel, &status, &e.SimulationJSON, &paramsJSON, &alertJSON, &priorJSON,
		&createdAt, &expiresAt, &decidedBy, &decidedAt); err != nil {
		return model.ApprovalQueueEntry{}, err
	}
	e.RunbookName = runbookName.String
	e.StepID = stepID.String
	e.StepName = stepName.String
	e.Action = action.String
	e.Status = model.ApprovalStatus(status)
	e.DecidedBy = decidedBy.String
	var err error
	e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return model.ApprovalQueueEntry{}, err
	}
	e.ExpiresAt, err = time.Parse(time.RFC3339Nano, expiresAt)
	if err != nil {
		return model.ApprovalQueueEntry{}, err
	}
	if decidedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, decidedAt.String)
		if err != nil {
			return model.ApprovalQueueEntry{}, err
		}
		e.DecidedAt = &t
	}
	if paramsJSON != "" {
		if err := json.Unmarshal([]byte(paramsJSON), &e.Parameters); err != nil {
			return model.ApprovalQueueEntry{}, err
		}
	}
	if alertJSON != "" {
		if err := json.Unmarshal([]byte(alertJSON), &e.Alert); err != nil {
			return model.ApprovalQueueEntry{}, err
		}
	}
	if priorJSON != "" && priorJSON != "null" {
		if err := json.Unmarshal([]byte(priorJSON), &e.PriorResults); err != nil {
			return model.ApprovalQueueEntry{}, err
		}
	}
	return e, nil
}

// RegisterAdapter persists an adapter registration record.
func (s *Store) RegisterAdapter(ctx context.Context, reg model.AdapterRegistration) error {
	actionsJSON, err := json.Marshal(reg.SupportedActions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO adapters (name, version, supported_actions_json, registered_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET version = excluded.version, supported_actions_json = excluded.supported_actions_json
	`, reg.Name, reg.Version, string(actionsJSON), reg.RegisteredAt.Format(time.RFC3339Nano))
	return err
}

// RecordMetric appends one metric sample (used when a caller wants
// durable metric history alongside the in-process prometheus series).
func (s *Store) RecordMetric(ctx context.Context, name string, value float64, labels map[string]string) error {
	labelsJSON, err := json.Marshal(labels)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO metrics (name, value, labels_json, recorded_at) VALUES (?, ?, ?, ?)
	`, name, value, string(labelsJSON), time.Now().Format(time.RFC3339Nano))
	return err
}
