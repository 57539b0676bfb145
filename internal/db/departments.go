package db

import (
	"context"

	"github.com/jackc/pgx/v5"
)

const departmentColumns = `id, name, display_name, email, display_order, is_active, allowed_school_ids, allowed_course_ids, allowed_branch_ids`

func scanDepartment(row pgx.Row) (Department, error) {
	var d Department
	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.DisplayName,
		&d.Email,
		&d.DisplayOrder,
		&d.IsActive,
		&d.AllowedSchoolIDs,
		&d.AllowedCourseIDs,
		&d.AllowedBranchIDs,
	)
	return d, err
}

func (q *Queries) ListActiveDepartments(ctx context.Context) ([]Department, error) {
	rows, err := q.db.Query(ctx, `
    SELECT `+departmentColumns+`
    FROM departments
    WHERE is_active = true
    ORDER BY display_order, name
  `)
	if err != nil {
		return nil, err
	}
	return collectDepartments(rows)
}

func (q *Queries) ListDepartmentsByIDs(ctx context.Context, ids []string) ([]Department, error) {
	rows, err := q.db.Query(ctx, `
    SELECT `+departmentColumns+`
    FROM departments
    WHERE id = ANY($1::uuid[])
    ORDER BY display_order, name
  `, ids)
	if err != nil {
		return nil, err
	}
	return collectDepartments(rows)
}

func (q *Queries) GetDepartmentByName(ctx context.Context, name string) (Department, error) {
	return scanDepartment(q.db.QueryRow(ctx, `SELECT `+departmentColumns+` FROM departments WHERE name = $1`, name))
}

func collectDepartments(rows pgx.Rows) ([]Department, error) {
	defer rows.Close()
	var out []Department
	for rows.Next() {
		d, err := scanDepartment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (q *Queries) GetSchool(ctx context.Context, id string) (School, error) {
	var s School
	err := q.db.QueryRow(ctx, `SELECT id, name, is_active FROM config_schools WHERE id = $1`, id).
		Scan(&s.ID, &s.Name, &s.IsActive)
	return s, err
}

func (q *Queries) GetCourse(ctx context.Context, id string) (Course, error) {
	var c Course
	err := q.db.QueryRow(ctx, `SELECT id, school_id, name, is_active FROM config_courses WHERE id = $1`, id).
		Scan(&c.ID, &c.SchoolID, &c.Name, &c.IsActive)
	return c, err
}

func (q *Queries) GetBranch(ctx context.Context, id string) (Branch, error) {
	var b Branch
	err := q.db.QueryRow(ctx, `SELECT id, course_id, name, is_active FROM config_branches WHERE id = $1`, id).
		Scan(&b.ID, &b.CourseID, &b.Name, &b.IsActive)
	return b, err
}

func (q *Queries) GetProfile(ctx context.Context, id string) (Profile, error) {
	var p Profile
	err := q.db.QueryRow(ctx, `
    SELECT id, email, full_name, role, assigned_department_ids, is_active
    FROM profiles
    WHERE id = $1
  `, id).Scan(&p.ID, &p.Email, &p.FullName, &p.Role, &p.AssignedDepartmentIDs, &p.IsActive)
	return p, err
}

// ListStaffEmails returns the active staff assigned to the department plus all active admins
// when includeAdmins is set.
func (q *Queries) ListStaffEmails(ctx context.Context, departmentID string, includeAdmins bool) ([]string, error) {
	rows, err := q.db.Query(ctx, `
    SELECT email
    FROM profiles
    WHERE is_active = true
      AND (($1::uuid = ANY(assigned_department_ids) AND role = 'department') OR ($2 AND role = 'admin'))
    ORDER BY email
  `, departmentID, includeAdmins)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
