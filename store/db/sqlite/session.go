package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cfipros/acstracker/internal/pipeline"
	"github.com/cfipros/acstracker/store"
)

func (d *DB) CreateSession(ctx context.Context, create *store.Session) (*store.Session, error) {
	inputRefs, err := json.Marshal(create.InputRefs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal input refs: %w", err)
	}
	steps, err := json.Marshal(create.Ledger.Steps)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal steps: %w", err)
	}

	fields := []string{"uid", "creator_id", "name", "status", "failure_reason", "input_refs", "steps"}
	placeholderValues := []any{
		create.UID, create.CreatorID, create.Name, create.Status, create.FailureReason,
		string(inputRefs), string(steps),
	}
	if create.Result != nil {
		result, err := json.Marshal(create.Result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}
		fields = append(fields, "result")
		placeholderValues = append(placeholderValues, string(result))
	}
	if create.CreatedTs != 0 {
		fields = append(fields, "created_ts")
		placeholderValues = append(placeholderValues, create.CreatedTs)
	}
	if create.UpdatedTs != 0 {
		fields = append(fields, "updated_ts")
		placeholderValues = append(placeholderValues, create.UpdatedTs)
	}

	stmt := `INSERT INTO session (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(placeholderValues)) + `)
		RETURNING id, created_ts, updated_ts`

	if err := d.db.QueryRowContext(ctx, stmt, placeholderValues...).Scan(
		&create.ID,
		&create.CreatedTs,
		&create.UpdatedTs,
	); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return create, nil
}

func (d *DB) ListSessions(ctx context.Context, find *store.FindSession) ([]*store.Session, error) {
	where, args := []string{"1 = 1"}, []any{}

	if v := find.ID; v != nil {
		where, args = append(where, "session.id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.UID; v != nil {
		where, args = append(where, "session.uid = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.CreatorID; v != nil {
		where, args = append(where, "session.creator_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.Status; v != nil {
		where, args = append(where, "session.status = "+placeholder(len(args)+1)), append(args, *v)
	}

	query := `
		SELECT
			id, uid, creator_id, created_ts, updated_ts,
			name, status, failure_reason, input_refs, steps, result
		FROM session
		WHERE ` + strings.Join(where, " AND ") + ` ORDER BY session.created_ts DESC`

	if find.Limit != nil {
		query = fmt.Sprintf("%s LIMIT %d", query, *find.Limit)
		if find.Offset != nil {
			query = fmt.Sprintf("%s OFFSET %d", query, *find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	return list, nil
}

func scanSession(rows *sql.Rows) (*store.Session, error) {
	var session store.Session
	var inputRefs, steps string
	var result sql.NullString

	if err := rows.Scan(
		&session.ID,
		&session.UID,
		&session.CreatorID,
		&session.CreatedTs,
		&session.UpdatedTs,
		&session.Name,
		&session.Status,
		&session.FailureReason,
		&inputRefs,
		&steps,
		&result,
	); err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	if err := json.Unmarshal([]byte(inputRefs), &session.InputRefs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal input refs: %w", err)
	}
	var ledgerSteps []pipeline.Step
	if err := json.Unmarshal([]byte(steps), &ledgerSteps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}
	session.Ledger = pipeline.Ledger{Steps: ledgerSteps}
	if result.Valid && result.String != "" {
		sessionResult := &store.SessionResult{}
		if err := json.Unmarshal([]byte(result.String), sessionResult); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
		session.Result = sessionResult
	}

	return &session, nil
}

func (d *DB) UpdateSession(ctx context.Context, update *store.UpdateSession) error {
	set, args := []string{}, []any{}

	if v := update.UpdatedTs; v != nil {
		set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Name; v != nil {
		set, args = append(set, "name = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Status; v != nil {
		set, args = append(set, "status = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.FailureReason; v != nil {
		set, args = append(set, "failure_reason = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Ledger; v != nil {
		steps, err := json.Marshal(v.Steps)
		if err != nil {
			return fmt.Errorf("failed to marshal steps: %w", err)
		}
		set, args = append(set, "steps = "+placeholder(len(args)+1)), append(args, string(steps))
	}
	if v := update.Result; v != nil {
		result, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		set, args = append(set, "result = "+placeholder(len(args)+1)), append(args, string(result))
	}
	if len(set) == 0 {
		return nil
	}

	stmt := `UPDATE session SET ` + strings.Join(set, ", ") + ` WHERE uid = ` + placeholder(len(args)+1)
	args = append(args, update.UID)

	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

func (d *DB) DeleteSession(ctx context.Context, delete *store.DeleteSession) error {
	if _, err := d.db.ExecContext(ctx, "DELETE FROM session WHERE uid = ?", delete.UID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (d *DB) DeleteExpiredSessions(ctx context.Context, createdBefore int64, updatedBefore int64) (int64, error) {
	result, err := d.db.ExecContext(ctx,
		"DELETE FROM session WHERE created_ts < ? AND updated_ts < ?",
		createdBefore, updatedBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted sessions: %w", err)
	}
	return affected, nil
}
