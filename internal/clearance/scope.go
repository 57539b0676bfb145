package clearance

import (
	"strings"

	"nodues/clearance/internal/db"
)

type Scope struct {
	SchoolID string
	CourseID string
	BranchID string
}

// DepartmentApplies reports whether a department clears forms of the given scope. Each allowed
// list is either empty (no restriction) or must contain the form's id, so a department with
// three empty lists applies to every form.
func DepartmentApplies(d db.Department, scope Scope) bool {
	return allows(d.AllowedSchoolIDs, scope.SchoolID) &&
		allows(d.AllowedCourseIDs, scope.CourseID) &&
		allows(d.AllowedBranchIDs, scope.BranchID)
}

func ApplicableDepartments(departments []db.Department, scope Scope) []db.Department {
	var out []db.Department
	for _, d := range departments {
		if d.IsActive && DepartmentApplies(d, scope) {
			out = append(out, d)
		}
	}
	return out
}

func allows(ids []string, id string) bool {
	if len(ids) == 0 {
		return true
	}
	for _, allowed := range ids {
		if strings.EqualFold(allowed, id) {
			return true
		}
	}
	return false
}

func departmentNames(departments []db.Department) []string {
	names := make([]string, 0, len(departments))
	for _, d := range departments {
		names = append(names, d.Name)
	}
	return names
}
