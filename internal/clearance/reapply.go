package clearance

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"

	"nodues/clearance/internal/authz"
	"nodues/clearance/internal/db"
)

const (
	DefaultMaxReapplications = 5

	minReapplyMessage           = 20
	minDepartmentReapplyMessage = 5
	maxReapplyMessage           = 1000
)

// Fields a student may correct while reapplying, with the rules each value must satisfy.
var editableFields = map[string]string{
	"student_name":   "required,min=2,max=100,personname",
	"parent_name":    "required,min=2,max=100,personname",
	"admission_year": "required,year",
	"passing_year":   "required,year",
	"country_code":   "required,countrycode",
	"contact_no":     "required,phone",
	"personal_email": "required,max=254,simpleemail",
	"college_email":  "required,max=254,simpleemail",
}

// Changing the academic scope would change which departments clear the form, so those fields are
// protected along with the bookkeeping columns.
var protectedFields = map[string]bool{
	"id":                  true,
	"registration_no":     true,
	"status":              true,
	"created_at":          true,
	"updated_at":          true,
	"reapplication_count": true,
	"is_reapplication":    true,
	"last_reapplied_at":   true,
	"certificate_url":     true,
	"school_id":           true,
	"course_id":           true,
	"branch_id":           true,
	"school":              true,
	"course":              true,
	"branch":              true,
}

type ReapplyInput struct {
	FormID       string            `json:"form_id"`
	Department   string            `json:"department,omitempty"`
	Message      string            `json:"message"`
	EditedFields map[string]string `json:"edited_fields,omitempty"`
}

type ReapplyResult struct {
	Reapplication    db.Reapplication
	ResetDepartments []string
	Form             db.Form
}

type statusSnapshot struct {
	DepartmentName  string     `json:"department_name"`
	Status          string     `json:"status"`
	RejectionReason *string    `json:"rejection_reason"`
	ActionAt        *time.Time `json:"action_at"`
}

// CheckReapplyMessage enforces the minimum length, which is lower for a single department.
func CheckReapplyMessage(message string, singleDepartment bool) error {
	length := utf8.RuneCountInString(strings.TrimSpace(message))
	minLength := minReapplyMessage
	if singleDepartment {
		minLength = minDepartmentReapplyMessage
	}
	if length < minLength {
		return fieldError("message", "min")
	}
	if length > maxReapplyMessage {
		return fieldError("message", "max")
	}
	return nil
}

// CheckEdits validates student corrections and returns the normalized values.
func CheckEdits(fields map[string]string) (map[string]string, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	out := make(map[string]string, len(fields))
	for _, name := range names {
		if protectedFields[name] {
			return nil, &Error{Code: ErrProtectedField, Fields: map[string]string{name: "protected"}}
		}
		rules, ok := editableFields[name]
		if !ok {
			errs = append(errs, fieldError(name, "unknown"))
			continue
		}
		value := strings.TrimSpace(fields[name])
		if strings.HasSuffix(name, "_email") {
			value = strings.ToLower(value)
		}
		if err := validateValue(name, value, rules); err != nil {
			errs = append(errs, err)
			continue
		}
		out[name] = value
	}
	if err := mergeFieldErrors(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

// reapplyPlan is what an accepted reapplication changes.
type reapplyPlan struct {
	edits      map[string]string
	rejected   []string
	department *string
}

// planReapplication runs the reapply checks in order: completed form, message, edits, rejected
// rows, then the reapplication limits.
func planReapplication(form db.Form, statuses []db.DepartmentStatus, in ReapplyInput, defaultLimit int) (reapplyPlan, error) {
	if form.Status == db.FormStatusCompleted {
		return reapplyPlan{}, &Error{Code: ErrFormCompleted}
	}
	if err := CheckReapplyMessage(in.Message, in.Department != ""); err != nil {
		return reapplyPlan{}, err
	}
	edits, err := CheckEdits(in.EditedFields)
	if err != nil {
		return reapplyPlan{}, err
	}
	if err := checkYearOrder(form, edits); err != nil {
		return reapplyPlan{}, err
	}

	plan := reapplyPlan{edits: edits, rejected: rejectedDepartments(statuses)}
	if len(plan.rejected) == 0 {
		return reapplyPlan{}, &Error{Code: ErrNoRejectedDepartments}
	}
	var target db.DepartmentStatus
	if in.Department != "" {
		var ok bool
		target, ok = findStatus(statuses, in.Department)
		if !ok {
			return reapplyPlan{}, &Error{Code: ErrStatusNotFound}
		}
		if target.Status != db.ClearanceRejected {
			return reapplyPlan{}, &Error{Code: ErrDepartmentNotRejected}
		}
		plan.rejected = []string{target.DepartmentName}
		plan.department = &target.DepartmentName
	}

	limit := reapplicationLimit(form, defaultLimit)
	if int(form.ReapplicationCount) >= limit {
		return reapplyPlan{}, &Error{Code: ErrReapplicationLimit, Details: map[string]interface{}{"limit": limit}}
	}
	if plan.department != nil && int(target.RejectionCount) >= limit {
		return reapplyPlan{}, &Error{Code: ErrReapplicationLimit, Details: map[string]interface{}{"limit": limit, "department": target.DepartmentName}}
	}
	return plan, nil
}

// Reapply resets rejected departments back to pending and appends a history entry. The history
// number is always the form's previous reapplication count plus one.
func Reapply(ctx context.Context, store *db.Store, principal authz.Principal, in ReapplyInput, defaultLimit int) (ReapplyResult, error) {
	in.FormID = strings.TrimSpace(in.FormID)
	in.Department = strings.TrimSpace(in.Department)
	in.Message = strings.TrimSpace(in.Message)
	if err := validateValue("form_id", in.FormID, "required,uuid"); err != nil {
		return ReapplyResult{}, err
	}

	var result ReapplyResult
	err := store.WithTx(ctx, func(tx *db.Queries) error {
		form, err := tx.GetFormForUpdate(ctx, in.FormID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return MaskMissingForm(principal, &Error{Code: ErrFormNotFound})
			}
			return err
		}
		if !principal.IsAdmin() && !principal.OwnsRegistration(form.RegistrationNo) {
			return &Error{Code: ErrForbidden}
		}
		statuses, err := tx.ListStatusesByForm(ctx, form.ID)
		if err != nil {
			return err
		}
		plan, err := planReapplication(form, statuses, in, defaultLimit)
		if err != nil {
			return err
		}

		snapshot := make([]statusSnapshot, 0, len(statuses))
		for _, st := range statuses {
			snapshot = append(snapshot, statusSnapshot{
				DepartmentName:  st.DepartmentName,
				Status:          string(st.Status),
				RejectionReason: st.RejectionReason,
				ActionAt:        st.ActionAt,
			})
		}
		recordedEdits := plan.edits
		if recordedEdits == nil {
			recordedEdits = map[string]string{}
		}
		history, err := tx.CreateReapplication(ctx, db.CreateReapplicationParams{
			FormID:              form.ID,
			ReapplicationNumber: form.ReapplicationCount + 1,
			DepartmentName:      plan.department,
			StudentMessage:      in.Message,
			EditedFields:        recordedEdits,
			RejectedDepartments: plan.rejected,
			PreviousStatus:      snapshot,
		})
		if err != nil {
			return err
		}

		if err := tx.UpdateFormFields(ctx, form.ID, plan.edits); err != nil {
			return err
		}
		target := ""
		if plan.department != nil {
			target = *plan.department
		}
		reset, err := tx.ResetRejectedStatuses(ctx, form.ID, target)
		if err != nil {
			return err
		}
		updated, err := tx.MarkReapplied(ctx, form.ID, in.Message, now())
		if err != nil {
			return err
		}
		result = ReapplyResult{Reapplication: history, ResetDepartments: reset, Form: updated}
		return nil
	})
	if err != nil {
		return ReapplyResult{}, serverError(err)
	}
	return result, nil
}

// reapplicationLimit is the form's override when set, else the configured default.
func reapplicationLimit(form db.Form, defaultLimit int) int {
	if form.MaxReapplicationsOverride != nil {
		return int(*form.MaxReapplicationsOverride)
	}
	if defaultLimit <= 0 {
		return DefaultMaxReapplications
	}
	return defaultLimit
}

func checkYearOrder(form db.Form, edits map[string]string) error {
	admission, passing := form.AdmissionYear, form.PassingYear
	if v, ok := edits["admission_year"]; ok {
		admission = v
	}
	if v, ok := edits["passing_year"]; ok {
		passing = v
	}
	if admission != "" && passing != "" && passing < admission {
		return fieldError("passing_year", "gtefield")
	}
	return nil
}

func findStatus(statuses []db.DepartmentStatus, department string) (db.DepartmentStatus, bool) {
	for _, st := range statuses {
		if strings.EqualFold(st.DepartmentName, department) {
			return st, true
		}
	}
	return db.DepartmentStatus{}, false
}

func ListReapplications(ctx context.Context, store *db.Store, principal authz.Principal, formID string) ([]db.Reapplication, error) {
	form, err := loadAccessibleForm(ctx, store, principal, formID)
	if err != nil {
		return nil, err
	}
	history, err := store.Queries.ListReapplications(ctx, form.ID)
	if err != nil {
		return nil, serverError(err)
	}
	return history, nil
}

// loadAccessibleForm returns the form when the caller owns it or is staff.
func loadAccessibleForm(ctx context.Context, store *db.Store, principal authz.Principal, formID string) (db.Form, error) {
	if err := validateValue("form_id", strings.TrimSpace(formID), "required,uuid"); err != nil {
		return db.Form{}, err
	}
	form, err := store.Queries.GetForm(ctx, strings.TrimSpace(formID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return db.Form{}, MaskMissingForm(principal, &Error{Code: ErrFormNotFound})
		}
		return db.Form{}, serverError(err)
	}
	if !principal.IsStaff() && !principal.OwnsRegistration(form.RegistrationNo) {
		return db.Form{}, &Error{Code: ErrForbidden}
	}
	return form, nil
}

// EditableFields lists the fields a student may correct, sorted.
func EditableFields() []string {
	names := make([]string, 0, len(editableFields))
	for name := range editableFields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
