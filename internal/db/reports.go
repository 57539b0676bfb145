package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

type FormCounts struct {
	Total        int64
	Pending      int64
	InProgress   int64
	Completed    int64
	Rejected     int64
	Reapplied    int64
	Certificates int64
}

func (q *Queries) CountForms(ctx context.Context) (FormCounts, error) {
	var c FormCounts
	err := q.db.QueryRow(ctx, `
    SELECT count(*),
           count(*) FILTER (WHERE status = 'pending'),
           count(*) FILTER (WHERE status = 'in_progress'),
           count(*) FILTER (WHERE status = 'completed'),
           count(*) FILTER (WHERE status = 'rejected'),
           count(*) FILTER (WHERE is_reapplication),
           count(*) FILTER (WHERE certificate_url IS NOT NULL)
    FROM no_dues_forms
  `).Scan(&c.Total, &c.Pending, &c.InProgress, &c.Completed, &c.Rejected, &c.Reapplied, &c.Certificates)
	return c, err
}

type DepartmentPerformance struct {
	DepartmentName     string
	Pending            int64
	Approved           int64
	Rejected           int64
	AvgResponseSeconds float64
}

// DepartmentPerformance counts rows per department created in [from, to). The average response
// time only covers rows that were actioned.
func (q *Queries) DepartmentPerformance(ctx context.Context, from, to time.Time) ([]DepartmentPerformance, error) {
	rows, err := q.db.Query(ctx, `
    SELECT department_name,
           count(*) FILTER (WHERE status = 'pending'),
           count(*) FILTER (WHERE status = 'approved'),
           count(*) FILTER (WHERE status = 'rejected'),
           COALESCE(avg(EXTRACT(EPOCH FROM (action_at - created_at))) FILTER (WHERE action_at IS NOT NULL), 0)::float8
    FROM no_dues_status
    WHERE created_at >= $1 AND created_at < $2
    GROUP BY department_name
    ORDER BY department_name
  `, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DepartmentPerformance
	for rows.Next() {
		var p DepartmentPerformance
		if err := rows.Scan(&p.DepartmentName, &p.Pending, &p.Approved, &p.Rejected, &p.AvgResponseSeconds); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListRecentActions returns actioned rows newer than since, newest first.
func (q *Queries) ListRecentActions(ctx context.Context, since time.Time, limit int32) ([]ActionHistoryRow, error) {
	rows, err := q.db.Query(ctx, `
    SELECT`+prefixed("s", statusColumns)+`, f.registration_no, f.student_name
    FROM no_dues_status s
    JOIN no_dues_forms f ON f.id = s.form_id
    WHERE s.action_at >= $1
    ORDER BY s.action_at DESC
    LIMIT $2
  `, since, limit)
	if err != nil {
		return nil, err
	}
	return collectStatusRows(rows)
}

// ListPendingSince returns pending rows created before the cutoff, oldest first.
func (q *Queries) ListPendingSince(ctx context.Context, before time.Time, limit int32) ([]ActionHistoryRow, error) {
	rows, err := q.db.Query(ctx, `
    SELECT`+prefixed("s", statusColumns)+`, f.registration_no, f.student_name
    FROM no_dues_status s
    JOIN no_dues_forms f ON f.id = s.form_id
    WHERE s.status = 'pending' AND s.created_at < $1
    ORDER BY s.created_at
    LIMIT $2
  `, before, limit)
	if err != nil {
		return nil, err
	}
	return collectStatusRows(rows)
}

func collectStatusRows(rows pgx.Rows) ([]ActionHistoryRow, error) {
	defer rows.Close()
	var out []ActionHistoryRow
	for rows.Next() {
		var item ActionHistoryRow
		s := &item.Status
		if err := rows.Scan(
			&s.ID, &s.FormID, &s.DepartmentName, &s.Status, &s.RejectionReason, &s.RejectionCount,
			&s.ActionAt, &s.ActionByUserID, &s.CreatedAt, &item.RegistrationNo, &item.StudentName,
		); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

type DailyFormCounts struct {
	Day        time.Time
	Pending    int64
	InProgress int64
	Completed  int64
	Rejected   int64
}

// CountFormsByDay buckets forms created in [from, to) by UTC day of submission.
func (q *Queries) CountFormsByDay(ctx context.Context, from, to time.Time) ([]DailyFormCounts, error) {
	rows, err := q.db.Query(ctx, `
    SELECT date_trunc('day', created_at AT TIME ZONE 'UTC') AS day,
           count(*) FILTER (WHERE status = 'pending'),
           count(*) FILTER (WHERE status = 'in_progress'),
           count(*) FILTER (WHERE status = 'completed'),
           count(*) FILTER (WHERE status = 'rejected')
    FROM no_dues_forms
    WHERE created_at >= $1 AND created_at < $2
    GROUP BY day
    ORDER BY day
  `, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DailyFormCounts
	for rows.Next() {
		var c DailyFormCounts
		if err := rows.Scan(&c.Day, &c.Pending, &c.InProgress, &c.Completed, &c.Rejected); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type SearchFormsParams struct {
	Status     *FormStatus
	Department string
	Search     string
	Limit      int32
	Offset     int32
}

// SearchForms matches the search text against registration number and student name and also
// returns the total number of matches.
func (q *Queries) SearchForms(ctx context.Context, arg SearchFormsParams) ([]Form, int64, error) {
	const where = `
    WHERE ($1::text IS NULL OR status = $1)
      AND ($2 = '' OR EXISTS (SELECT 1 FROM no_dues_status s WHERE s.form_id = no_dues_forms.id AND s.department_name = $2))
      AND ($3 = '' OR registration_no ILIKE '%' || $3 || '%' OR student_name ILIKE '%' || $3 || '%')`

	var total int64
	if err := q.db.QueryRow(ctx, `SELECT count(*) FROM no_dues_forms`+where, arg.Status, arg.Department, arg.Search).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.db.Query(ctx, `SELECT`+formColumns+` FROM no_dues_forms`+where+`
    ORDER BY created_at DESC
    LIMIT $4 OFFSET $5`, arg.Status, arg.Department, arg.Search, arg.Limit, arg.Offset)
	if err != nil {
		return nil, 0, err
	}
	forms, err := collectForms(rows)
	return forms, total, err
}

// ListStatusesByForms groups the status rows of several forms by form id.
func (q *Queries) ListStatusesByForms(ctx context.Context, formIDs []string) (map[string][]DepartmentStatus, error) {
	out := make(map[string][]DepartmentStatus, len(formIDs))
	if len(formIDs) == 0 {
		return out, nil
	}
	rows, err := q.db.Query(ctx, `
    SELECT`+prefixed("s", statusColumns)+`
    FROM no_dues_status s
    LEFT JOIN departments d ON d.name = s.department_name
    WHERE s.form_id = ANY($1::uuid[])
    ORDER BY COALESCE(d.display_order, 0), s.department_name
  `, formIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		st, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		out[st.FormID] = append(out[st.FormID], st)
	}
	return out, rows.Err()
}
