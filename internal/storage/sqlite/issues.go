package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/civicflow/civicflow/internal/storage"
	"github.com/civicflow/civicflow/internal/types"
)

const issueColumns = `id, city_id, text, language, location, submitted_at, citizen_ref,
	status, workflow_id, classification, priority, duplicate_of, affected_count,
	created_at, updated_at, resolved_at`

// CreateIssue persists a newly accepted issue
func (s *SQLiteStorage) CreateIssue(ctx context.Context, issue *types.Issue) error {
	if err := issue.Validate(); err != nil {
		return fmt.Errorf("invalid issue: %w", err)
	}

	location, classification, priority, err := marshalIssueJSON(issue)
	if err != nil {
		return err
	}

	query := `INSERT INTO issues (` + issueColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		issue.ID, issue.CityID, issue.Text, issue.Language, location,
		issue.SubmittedAt, issue.CitizenRef, issue.Status, issue.WorkflowID,
		classification, priority, issue.DuplicateOf, issue.AffectedCount,
		issue.CreatedAt, issue.UpdatedAt, nullableTime(issue.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create issue %s: %w", issue.ID, err)
	}
	return nil
}

// GetIssue retrieves an issue scoped to a city
func (s *SQLiteStorage) GetIssue(ctx context.Context, cityID, issueID string) (*types.Issue, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+issueColumns+` FROM issues WHERE city_id = ? AND id = ?`, cityID, issueID)
	issue, err := scanIssue(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("issue %s: %w", issueID, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get issue %s: %w", issueID, err)
	}
	return issue, nil
}

// UpdateIssue persists issue mutations made by the orchestrator
func (s *SQLiteStorage) UpdateIssue(ctx context.Context, issue *types.Issue) error {
	if err := issue.Validate(); err != nil {
		return fmt.Errorf("invalid issue: %w", err)
	}

	location, classification, priority, err := marshalIssueJSON(issue)
	if err != nil {
		return err
	}
	issue.UpdatedAt = time.Now()

	result, err := s.db.ExecContext(ctx, `UPDATE issues SET
			text = ?, language = ?, location = ?, citizen_ref = ?, status = ?,
			workflow_id = ?, classification = ?, priority = ?, duplicate_of = ?,
			affected_count = ?, updated_at = ?, resolved_at = ?
		WHERE city_id = ? AND id = ?`,
		issue.Text, issue.Language, location, issue.CitizenRef, issue.Status,
		issue.WorkflowID, classification, priority, issue.DuplicateOf,
		issue.AffectedCount, issue.UpdatedAt, nullableTime(issue.ResolvedAt),
		issue.CityID, issue.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update issue %s: %w", issue.ID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update of issue %s: %w", issue.ID, err)
	}
	if rows == 0 {
		return fmt.Errorf("issue %s: %w", issue.ID, types.ErrNotFound)
	}
	return nil
}

// ListIssues returns issues matching the filter, newest first
func (s *SQLiteStorage) ListIssues(ctx context.Context, cityID string, filter storage.IssueFilter) ([]*types.Issue, error) {
	query := `SELECT ` + issueColumns + ` FROM issues WHERE city_id = ?`
	args := []interface{}{cityID}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Domain != "" {
		query += " AND json_extract(classification, '$.domain') = ?"
		args = append(args, filter.Domain)
	}
	if filter.Area != "" {
		query += " AND json_extract(location, '$.area') = ?"
		args = append(args, filter.Area)
	}
	if !filter.Since.IsZero() {
		query += " AND submitted_at >= ?"
		args = append(args, filter.Since)
	}
	if !filter.Until.IsZero() {
		query += " AND submitted_at < ?"
		args = append(args, filter.Until)
	}
	query += " ORDER BY submitted_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues for %s: %w", cityID, err)
	}
	defer rows.Close()

	var issues []*types.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

// LinkDuplicate marks an issue as a duplicate of a primary and bumps the
// primary's affected count, atomically and idempotently.
func (s *SQLiteStorage) LinkDuplicate(ctx context.Context, cityID, issueID, primaryID string) error {
	if issueID == primaryID {
		return fmt.Errorf("issue %s cannot be a duplicate of itself", issueID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx,
		`SELECT duplicate_of FROM issues WHERE city_id = ? AND id = ?`, cityID, issueID).Scan(&existing)
	if err == sql.ErrNoRows {
		return fmt.Errorf("issue %s: %w", issueID, types.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read issue %s: %w", issueID, err)
	}
	if existing == primaryID {
		// Already linked; the affected count was bumped the first time
		return tx.Commit()
	}
	if existing != "" {
		return fmt.Errorf("issue %s is already a duplicate of %s: %w", issueID, existing, types.ErrInvalidState)
	}

	now := time.Now()
	result, err := tx.ExecContext(ctx,
		`UPDATE issues SET affected_count = affected_count + 1, updated_at = ?
		 WHERE city_id = ? AND id = ? AND duplicate_of = ''`,
		now, cityID, primaryID)
	if err != nil {
		return fmt.Errorf("failed to bump affected count on %s: %w", primaryID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected count update: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("primary issue %s not linkable: %w", primaryID, types.ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE issues SET status = ?, duplicate_of = ?, updated_at = ? WHERE city_id = ? AND id = ?`,
		types.StatusDuplicate, primaryID, now, cityID, issueID); err != nil {
		return fmt.Errorf("failed to mark %s duplicate of %s: %w", issueID, primaryID, err)
	}

	return tx.Commit()
}

// FindCandidates returns recent comparable issues for duplicate detection
func (s *SQLiteStorage) FindCandidates(ctx context.Context, issue *types.Issue, lookback time.Duration, limit int) ([]*types.Issue, error) {
	since := time.Now().Add(-lookback)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+issueColumns+` FROM issues
		 WHERE city_id = ? AND id != ? AND submitted_at >= ?
		   AND status NOT IN (?, ?)
		 ORDER BY submitted_at DESC LIMIT ?`,
		issue.CityID, issue.ID, since, types.StatusDuplicate, types.StatusClosed, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find candidates for %s: %w", issue.ID, err)
	}
	defer rows.Close()

	var candidates []*types.Issue
	for rows.Next() {
		candidate, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		candidates = append(candidates, candidate)
	}
	return candidates, rows.Err()
}

// scanner abstracts over *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanIssue(row scanner) (*types.Issue, error) {
	var issue types.Issue
	var location, classification, priority sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(
		&issue.ID, &issue.CityID, &issue.Text, &issue.Language, &location,
		&issue.SubmittedAt, &issue.CitizenRef, &issue.Status, &issue.WorkflowID,
		&classification, &priority, &issue.DuplicateOf, &issue.AffectedCount,
		&issue.CreatedAt, &issue.UpdatedAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	if location.Valid && location.String != "" {
		issue.Location = &types.Location{}
		if err := json.Unmarshal([]byte(location.String), issue.Location); err != nil {
			return nil, fmt.Errorf("corrupt location on issue %s: %w", issue.ID, err)
		}
	}
	if classification.Valid && classification.String != "" {
		issue.Classification = &types.Classification{}
		if err := json.Unmarshal([]byte(classification.String), issue.Classification); err != nil {
			return nil, fmt.Errorf("corrupt classification on issue %s: %w", issue.ID, err)
		}
	}
	if priority.Valid && priority.String != "" {
		issue.Priority = &types.PriorityScore{}
		if err := json.Unmarshal([]byte(priority.String), issue.Priority); err != nil {
			return nil, fmt.Errorf("corrupt priority on issue %s: %w", issue.ID, err)
		}
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		issue.ResolvedAt = &t
	}
	return &issue, nil
}

func marshalIssueJSON(issue *types.Issue) (location, classification, priority interface{}, err error) {
	if issue.Location != nil {
		data, jsonErr := json.Marshal(issue.Location)
		if jsonErr != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal location: %w", jsonErr)
		}
		location = string(data)
	}
	if issue.Classification != nil {
		data, jsonErr := json.Marshal(issue.Classification)
		if jsonErr != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal classification: %w", jsonErr)
		}
		classification = string(data)
	}
	if issue.Priority != nil {
		data, jsonErr := json.Marshal(issue.Priority)
		if jsonErr != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal priority: %w", jsonErr)
		}
		priority = string(data)
	}
	return location, classification, priority, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
