package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/civicflow/civicflow/internal/audit"
	"github.com/civicflow/civicflow/internal/types"
)

const recordColumns = `id, kind, workflow_id, issue_id, city_id, agent_type, attempt,
	started_at, ended_at, duration_ms, input, output, confidence, reasoning,
	success, outcome, error`

// AppendRecord appends a single audit record
func (s *SQLiteStorage) AppendRecord(ctx context.Context, record *audit.ProcessingStepRecord) error {
	return appendRecordTx(ctx, s.db, record)
}

func appendRecordTx(ctx context.Context, db execer, record *audit.ProcessingStepRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid audit record: %w", err)
	}

	var input, output interface{}
	if len(record.Input) > 0 {
		input = string(record.Input)
	}
	if len(record.Output) > 0 {
		output = string(record.Output)
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO audit_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.Kind, record.WorkflowID, record.IssueID, record.CityID,
		record.AgentType, record.Attempt, record.StartedAt, record.EndedAt,
		record.DurationMs, input, output, record.Confidence, record.Reasoning,
		record.Success, record.Outcome, record.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit record %s: %w", record.ID, err)
	}
	return nil
}

// CommitStep appends a step record and saves the workflow state in one
// transaction. A crash can never observe the record without the state or
// the state without the record.
func (s *SQLiteStorage) CommitStep(ctx context.Context, record *audit.ProcessingStepRecord, state *types.WorkflowState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := appendRecordTx(ctx, tx, record); err != nil {
		return err
	}
	if err := saveWorkflowTx(ctx, tx, state); err != nil {
		return err
	}
	return tx.Commit()
}

// GetTrail returns an issue's full audit trail in insertion order
func (s *SQLiteStorage) GetTrail(ctx context.Context, cityID, issueID string) ([]*audit.ProcessingStepRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM audit_records
		 WHERE city_id = ? AND issue_id = ? ORDER BY seq`, cityID, issueID)
	if err != nil {
		return nil, fmt.Errorf("failed to get trail for %s: %w", issueID, err)
	}
	defer rows.Close()

	var records []*audit.ProcessingStepRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// GetRecord retrieves a single audit record scoped to a city
func (s *SQLiteStorage) GetRecord(ctx context.Context, cityID, recordID string) (*audit.ProcessingStepRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM audit_records WHERE city_id = ? AND id = ?`, cityID, recordID)
	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("audit record %s: %w", recordID, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit record %s: %w", recordID, err)
	}
	return record, nil
}

func scanRecord(row scanner) (*audit.ProcessingStepRecord, error) {
	var record audit.ProcessingStepRecord
	var input, output sql.NullString
	err := row.Scan(
		&record.ID, &record.Kind, &record.WorkflowID, &record.IssueID, &record.CityID,
		&record.AgentType, &record.Attempt, &record.StartedAt, &record.EndedAt,
		&record.DurationMs, &input, &output, &record.Confidence, &record.Reasoning,
		&record.Success, &record.Outcome, &record.Error,
	)
	if err != nil {
		return nil, err
	}
	if input.Valid {
		record.Input = []byte(input.String)
	}
	if output.Valid {
		record.Output = []byte(output.String)
	}
	return &record, nil
}
