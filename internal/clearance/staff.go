package clearance

import (
	"context"
	"strings"

	"nodues/clearance/internal/authz"
	"nodues/clearance/internal/db"
)

func ListDepartmentForms(ctx context.Context, store *db.Store, principal authz.Principal, department, status string, limit int32) ([]db.DepartmentFormRow, error) {
	department = strings.TrimSpace(department)
	if department == "" {
		return nil, fieldError("department", "required")
	}
	if !principal.CanActFor(department) {
		return nil, &Error{Code: ErrDepartmentForbidden}
	}
	var filter *db.ClearanceStatus
	if status = strings.ToLower(strings.TrimSpace(status)); status != "" {
		if err := validateValue("status", status, "oneof=pending approved rejected"); err != nil {
			return nil, err
		}
		value := db.ClearanceStatus(status)
		filter = &value
	}
	rows, err := store.Queries.ListDepartmentForms(ctx, db.ListDepartmentFormsParams{
		Department: department,
		Status:     filter,
		Limit:      limit,
	})
	if err != nil {
		return nil, serverError(err)
	}
	return rows, nil
}

func ActionHistory(ctx context.Context, store *db.Store, principal authz.Principal, limit int32) ([]db.ActionHistoryRow, error) {
	if !principal.IsStaff() {
		return nil, &Error{Code: ErrForbidden}
	}
	rows, err := store.Queries.ListActionsByUser(ctx, principal.UserID, limit)
	if err != nil {
		return nil, serverError(err)
	}
	return rows, nil
}

func DepartmentStats(ctx context.Context, store *db.Store, principal authz.Principal) ([]db.DepartmentCounts, error) {
	departments, err := principalDepartments(ctx, store.Queries, principal)
	if err != nil {
		return nil, err
	}
	counts, err := store.Queries.CountStatusesByDepartment(ctx, departments)
	if err != nil {
		return nil, serverError(err)
	}
	return counts, nil
}

// principalDepartments is every active department for admins and the assigned ones otherwise.
func principalDepartments(ctx context.Context, q *db.Queries, principal authz.Principal) ([]string, error) {
	if !principal.IsStaff() {
		return nil, &Error{Code: ErrForbidden}
	}
	if !principal.IsAdmin() {
		return principal.DepartmentNames, nil
	}
	departments, err := q.ListActiveDepartments(ctx)
	if err != nil {
		return nil, serverError(err)
	}
	return departmentNames(departments), nil
}

type FormDetail struct {
	Evaluation
	Reapplications []db.Reapplication
}

// FormDetailForStaff returns a form with its statuses and reapplication history. Department
// staff only see forms that carry a row for one of their departments.
func FormDetailForStaff(ctx context.Context, store *db.Store, principal authz.Principal, formID string) (FormDetail, error) {
	if !principal.IsStaff() {
		return FormDetail{}, &Error{Code: ErrForbidden}
	}
	formID = strings.TrimSpace(formID)
	if err := validateValue("form_id", formID, "required,uuid"); err != nil {
		return FormDetail{}, err
	}
	eval, err := Evaluate(ctx, store.Queries, formID)
	if err != nil {
		return FormDetail{}, err
	}
	if !principal.IsAdmin() && !visibleToDepartments(principal, eval.Statuses) {
		return FormDetail{}, &Error{Code: ErrDepartmentForbidden}
	}
	history, err := store.Queries.ListReapplications(ctx, formID)
	if err != nil {
		return FormDetail{}, serverError(err)
	}
	return FormDetail{Evaluation: eval, Reapplications: history}, nil
}

func visibleToDepartments(principal authz.Principal, statuses []db.DepartmentStatus) bool {
	for _, st := range statuses {
		if principal.CanActFor(st.DepartmentName) {
			return true
		}
	}
	return false
}
