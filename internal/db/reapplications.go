package db

import (
	"context"
)

type CreateReapplicationParams struct {
	FormID              string
	ReapplicationNumber int32
	DepartmentName      *string
	StudentMessage      string
	EditedFields        interface{}
	RejectedDepartments interface{}
	PreviousStatus      interface{}
}

func (q *Queries) CreateReapplication(ctx context.Context, arg CreateReapplicationParams) (Reapplication, error) {
	var r Reapplication
	err := q.db.QueryRow(ctx, `
    INSERT INTO no_dues_reapplication_history (
      form_id, reapplication_number, department_name, student_message,
      edited_fields, rejected_departments, previous_status
    )
    VALUES ($1, $2, $3, $4, $5, $6, $7)
    RETURNING id, form_id, reapplication_number, department_name, student_message,
              edited_fields, rejected_departments, previous_status, created_at
  `, arg.FormID, arg.ReapplicationNumber, arg.DepartmentName, arg.StudentMessage,
		arg.EditedFields, arg.RejectedDepartments, arg.PreviousStatus,
	).Scan(
		&r.ID, &r.FormID, &r.ReapplicationNumber, &r.DepartmentName, &r.StudentMessage,
		&r.EditedFields, &r.RejectedDepartments, &r.PreviousStatus, &r.CreatedAt,
	)
	return r, err
}

func (q *Queries) ListReapplications(ctx context.Context, formID string) ([]Reapplication, error) {
	rows, err := q.db.Query(ctx, `
    SELECT id, form_id, reapplication_number, department_name, student_message,
           edited_fields, rejected_departments, previous_status, created_at
    FROM no_dues_reapplication_history
    WHERE form_id = $1
    ORDER BY reapplication_number DESC
  `, formID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Reapplication
	for rows.Next() {
		var r Reapplication
		if err := rows.Scan(
			&r.ID, &r.FormID, &r.ReapplicationNumber, &r.DepartmentName, &r.StudentMessage,
			&r.EditedFields, &r.RejectedDepartments, &r.PreviousStatus, &r.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
