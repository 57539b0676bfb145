package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

const statusColumns = `id, form_id, department_name, status, rejection_reason, rejection_count, action_at, action_by_user_id, created_at`

func scanStatus(row pgx.Row) (DepartmentStatus, error) {
	var s DepartmentStatus
	err := row.Scan(
		&s.ID,
		&s.FormID,
		&s.DepartmentName,
		&s.Status,
		&s.RejectionReason,
		&s.RejectionCount,
		&s.ActionAt,
		&s.ActionByUserID,
		&s.CreatedAt,
	)
	return s, err
}

// CreateStatus inserts a pending row and reports whether one was created.
func (q *Queries) CreateStatus(ctx context.Context, formID, department string) (bool, error) {
	tag, err := q.db.Exec(ctx, `
    INSERT INTO no_dues_status (form_id, department_name, status)
    VALUES ($1, $2, 'pending')
    ON CONFLICT (form_id, department_name) DO NOTHING
  `, formID, department)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (q *Queries) ListStatusesByForm(ctx context.Context, formID string) ([]DepartmentStatus, error) {
	rows, err := q.db.Query(ctx, `
    SELECT s.id, s.form_id, s.department_name, s.status, s.rejection_reason, s.rejection_count,
           s.action_at, s.action_by_user_id, s.created_at
    FROM no_dues_status s
    LEFT JOIN departments d ON d.name = s.department_name
    WHERE s.form_id = $1
    ORDER BY COALESCE(d.display_order, 0), s.department_name
  `, formID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var statuses []DepartmentStatus
	for rows.Next() {
		s, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, s)
	}
	return statuses, rows.Err()
}

func (q *Queries) GetStatus(ctx context.Context, formID, department string) (DepartmentStatus, error) {
	return scanStatus(q.db.QueryRow(ctx, `
    SELECT `+statusColumns+`
    FROM no_dues_status
    WHERE form_id = $1 AND department_name = $2
  `, formID, department))
}

type ApplyActionParams struct {
	FormID          string
	DepartmentName  string
	Status          ClearanceStatus
	RejectionReason *string
	ActionByUserID  string
	ActionAt        time.Time
}

// ApplyAction moves a pending row to approved or rejected. It returns pgx.ErrNoRows when the row
// is no longer pending.
func (q *Queries) ApplyAction(ctx context.Context, arg ApplyActionParams) (DepartmentStatus, error) {
	return scanStatus(q.db.QueryRow(ctx, `
    UPDATE no_dues_status
    SET status = $3,
        rejection_reason = $4,
        rejection_count = rejection_count + CASE WHEN $3 = 'rejected' THEN 1 ELSE 0 END,
        action_at = $5,
        action_by_user_id = $6
    WHERE form_id = $1 AND department_name = $2 AND status = 'pending'
    RETURNING `+statusColumns,
		arg.FormID, arg.DepartmentName, arg.Status, arg.RejectionReason, arg.ActionAt, arg.ActionByUserID,
	))
}

// ResetRejectedStatuses sets rejected rows back to pending. An empty department resets every
// rejected row of the form.
func (q *Queries) ResetRejectedStatuses(ctx context.Context, formID, department string) ([]string, error) {
	rows, err := q.db.Query(ctx, `
    UPDATE no_dues_status
    SET status = 'pending', rejection_reason = NULL, action_at = NULL, action_by_user_id = NULL
    WHERE form_id = $1 AND status = 'rejected' AND ($2 = '' OR department_name = $2)
    RETURNING department_name
  `, formID, department)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

type DepartmentCounts struct {
	DepartmentName string
	Pending        int64
	Approved       int64
	Rejected       int64
}

func (q *Queries) CountStatusesByDepartment(ctx context.Context, departments []string) ([]DepartmentCounts, error) {
	rows, err := q.db.Query(ctx, `
    SELECT department_name,
           count(*) FILTER (WHERE status = 'pending'),
           count(*) FILTER (WHERE status = 'approved'),
           count(*) FILTER (WHERE status = 'rejected')
    FROM no_dues_status
    WHERE department_name = ANY($1::text[])
    GROUP BY department_name
    ORDER BY department_name
  `, departments)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DepartmentCounts
	for rows.Next() {
		var c DepartmentCounts
		if err := rows.Scan(&c.DepartmentName, &c.Pending, &c.Approved, &c.Rejected); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type ActionHistoryRow struct {
	Status         DepartmentStatus
	RegistrationNo string
	StudentName    string
}

func (q *Queries) ListActionsByUser(ctx context.Context, userID string, limit int32) ([]ActionHistoryRow, error) {
	rows, err := q.db.Query(ctx, `
    SELECT`+prefixed("s", statusColumns)+`, f.registration_no, f.student_name
    FROM no_dues_status s
    JOIN no_dues_forms f ON f.id = s.form_id
    WHERE s.action_by_user_id = $1
    ORDER BY s.action_at DESC
    LIMIT $2
  `, userID, limit)
	if err != nil {
		return nil, err
	}
	return collectStatusRows(rows)
}
