package db

import (
	"context"
)

func (q *Queries) ListActiveSchools(ctx context.Context) ([]School, error) {
	rows, err := q.db.Query(ctx, `
    SELECT id, name, is_active, display_order
    FROM config_schools
    WHERE is_active = true
    ORDER BY display_order, name
  `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []School
	for rows.Next() {
		var s School
		if err := rows.Scan(&s.ID, &s.Name, &s.IsActive, &s.DisplayOrder); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListActiveCourses skips courses whose school is inactive.
func (q *Queries) ListActiveCourses(ctx context.Context) ([]Course, error) {
	rows, err := q.db.Query(ctx, `
    SELECT c.id, c.school_id, c.name, c.is_active, c.display_order
    FROM config_courses c
    JOIN config_schools s ON s.id = c.school_id
    WHERE c.is_active = true AND s.is_active = true
    ORDER BY c.display_order, c.name
  `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Course
	for rows.Next() {
		var c Course
		if err := rows.Scan(&c.ID, &c.SchoolID, &c.Name, &c.IsActive, &c.DisplayOrder); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (q *Queries) ListActiveBranches(ctx context.Context) ([]Branch, error) {
	rows, err := q.db.Query(ctx, `
    SELECT b.id, b.course_id, b.name, b.is_active, b.display_order
    FROM config_branches b
    JOIN config_courses c ON c.id = b.course_id
    WHERE b.is_active = true AND c.is_active = true
    ORDER BY b.display_order, b.name
  `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Branch
	for rows.Next() {
		var b Branch
		if err := rows.Scan(&b.ID, &b.CourseID, &b.Name, &b.IsActive, &b.DisplayOrder); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
