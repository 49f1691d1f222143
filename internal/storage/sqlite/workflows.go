package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/civicflow/civicflow/internal/types"
)

// SaveWorkflow persists a workflow state snapshot (insert or update)
func (s *SQLiteStorage) SaveWorkflow(ctx context.Context, state *types.WorkflowState) error {
	return saveWorkflowTx(ctx, s.db, state)
}

// execer abstracts over *sql.DB and *sql.Tx so CommitStep can reuse the
// same save path inside a transaction
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func saveWorkflowTx(ctx context.Context, db execer, state *types.WorkflowState) error {
	if err := state.Validate(); err != nil {
		return fmt.Errorf("invalid workflow state: %w", err)
	}
	steps, err := json.Marshal(state.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow steps: %w", err)
	}
	state.UpdatedAt = time.Now()

	_, err = db.ExecContext(ctx, `
		INSERT INTO workflows (workflow_id, issue_id, city_id, steps, cursor, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workflow_id) DO UPDATE SET
			steps = excluded.steps,
			cursor = excluded.cursor,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		state.WorkflowID, state.IssueID, state.CityID, string(steps),
		state.Cursor, state.Status, state.CreatedAt, state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", state.WorkflowID, err)
	}
	return nil
}

// GetWorkflow retrieves a workflow state scoped to a city
func (s *SQLiteStorage) GetWorkflow(ctx context.Context, cityID, workflowID string) (*types.WorkflowState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT workflow_id, issue_id, city_id, steps, cursor, status, created_at, updated_at
		FROM workflows WHERE city_id = ? AND workflow_id = ?`, cityID, workflowID)

	state, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow %s: %w", workflowID, err)
	}
	return state, nil
}

// ListResumableWorkflows returns running/waiting workflows for crash recovery
func (s *SQLiteStorage) ListResumableWorkflows(ctx context.Context) ([]*types.WorkflowState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT workflow_id, issue_id, city_id, steps, cursor, status, created_at, updated_at
		FROM workflows WHERE status IN (?, ?) ORDER BY created_at`,
		types.WorkflowRunning, types.WorkflowWaitingRetry)
	if err != nil {
		return nil, fmt.Errorf("failed to list resumable workflows: %w", err)
	}
	defer rows.Close()

	var states []*types.WorkflowState
	for rows.Next() {
		state, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

func scanWorkflow(row scanner) (*types.WorkflowState, error) {
	var state types.WorkflowState
	var steps string
	err := row.Scan(&state.WorkflowID, &state.IssueID, &state.CityID,
		&steps, &state.Cursor, &state.Status, &state.CreatedAt, &state.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(steps), &state.Steps); err != nil {
		return nil, fmt.Errorf("corrupt steps on workflow %s: %w", state.WorkflowID, err)
	}
	return &state, nil
}
