package clearance

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"nodues/clearance/internal/db"
)

type SubmitInput struct {
	RegistrationNo string `json:"registration_no" validate:"required,min=8,max=15,regno"`
	StudentName    string `json:"student_name" validate:"required,min=2,max=100,personname"`
	ParentName     string `json:"parent_name" validate:"omitempty,min=2,max=100,personname"`
	AdmissionYear  string `json:"admission_year" validate:"omitempty,year"`
	PassingYear    string `json:"passing_year" validate:"omitempty,year"`
	SchoolID       string `json:"school_id" validate:"required,uuid"`
	CourseID       string `json:"course_id" validate:"required,uuid"`
	BranchID       string `json:"branch_id" validate:"required,uuid"`
	CountryCode    string `json:"country_code" validate:"omitempty,countrycode"`
	ContactNo      string `json:"contact_no" validate:"required,mobile"`
	PersonalEmail  string `json:"personal_email" validate:"required,max=254,simpleemail"`
	CollegeEmail   string `json:"college_email" validate:"required,max=254,simpleemail"`
}

func (in *SubmitInput) Normalize() {
	in.RegistrationNo = strings.ToUpper(strings.TrimSpace(in.RegistrationNo))
	in.StudentName = strings.TrimSpace(in.StudentName)
	in.ParentName = strings.TrimSpace(in.ParentName)
	in.AdmissionYear = strings.TrimSpace(in.AdmissionYear)
	in.PassingYear = strings.TrimSpace(in.PassingYear)
	in.SchoolID = strings.TrimSpace(in.SchoolID)
	in.CourseID = strings.TrimSpace(in.CourseID)
	in.BranchID = strings.TrimSpace(in.BranchID)
	in.CountryCode = strings.TrimSpace(in.CountryCode)
	if in.CountryCode == "" {
		in.CountryCode = "+91"
	}
	in.ContactNo = strings.TrimSpace(in.ContactNo)
	in.PersonalEmail = strings.ToLower(strings.TrimSpace(in.PersonalEmail))
	in.CollegeEmail = strings.ToLower(strings.TrimSpace(in.CollegeEmail))
}

// ValidateSubmission expects a normalized input.
func ValidateSubmission(in SubmitInput) error {
	if err := validateStruct(in); err != nil {
		return err
	}
	if in.AdmissionYear != "" && in.PassingYear != "" && in.PassingYear < in.AdmissionYear {
		return fieldError("passing_year", "gtefield")
	}
	return nil
}

type SubmitResult struct {
	Form        db.Form
	Statuses    []db.DepartmentStatus
	Departments []db.Department
}

// Submit stores a new form together with one pending status row per applicable department. A
// scope that no department covers is refused instead of producing a form nobody can clear.
func Submit(ctx context.Context, store *db.Store, in SubmitInput) (SubmitResult, error) {
	in.Normalize()
	if err := ValidateSubmission(in); err != nil {
		return SubmitResult{}, err
	}

	q := store.Queries
	if _, err := q.GetFormByRegistrationNo(ctx, in.RegistrationNo); err == nil {
		return SubmitResult{}, &Error{Code: ErrDuplicateRegistration}
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return SubmitResult{}, serverError(err)
	}

	school, course, branch, err := resolveAcademicScope(ctx, q, in.SchoolID, in.CourseID, in.BranchID)
	if err != nil {
		return SubmitResult{}, err
	}

	departments, err := q.ListActiveDepartments(ctx)
	if err != nil {
		return SubmitResult{}, serverError(err)
	}
	applicable := ApplicableDepartments(departments, Scope{SchoolID: school.ID, CourseID: course.ID, BranchID: branch.ID})
	if len(applicable) == 0 {
		return SubmitResult{}, &Error{Code: ErrNoDepartmentsConfigured}
	}

	var result SubmitResult
	err = store.WithTx(ctx, func(tx *db.Queries) error {
		form, err := tx.CreateForm(ctx, db.CreateFormParams{
			RegistrationNo: in.RegistrationNo,
			StudentName:    in.StudentName,
			ParentName:     in.ParentName,
			AdmissionYear:  in.AdmissionYear,
			PassingYear:    in.PassingYear,
			SchoolID:       school.ID,
			CourseID:       course.ID,
			BranchID:       branch.ID,
			School:         school.Name,
			Course:         course.Name,
			Branch:         branch.Name,
			CountryCode:    in.CountryCode,
			ContactNo:      in.ContactNo,
			PersonalEmail:  in.PersonalEmail,
			CollegeEmail:   in.CollegeEmail,
		})
		if err != nil {
			return err
		}
		for _, d := range applicable {
			if _, err := tx.CreateStatus(ctx, form.ID, d.Name); err != nil {
				return err
			}
		}
		statuses, err := tx.ListStatusesByForm(ctx, form.ID)
		if err != nil {
			return err
		}
		result = SubmitResult{Form: form, Statuses: statuses, Departments: applicable}
		return nil
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return SubmitResult{}, &Error{Code: ErrDuplicateRegistration}
		}
		return SubmitResult{}, serverError(err)
	}
	return result, nil
}

func resolveAcademicScope(ctx context.Context, q *db.Queries, schoolID, courseID, branchID string) (db.School, db.Course, db.Branch, error) {
	school, err := q.GetSchool(ctx, schoolID)
	if err != nil || !school.IsActive {
		return db.School{}, db.Course{}, db.Branch{}, lookupError("school_id", err)
	}
	course, err := q.GetCourse(ctx, courseID)
	if err != nil || !course.IsActive {
		return db.School{}, db.Course{}, db.Branch{}, lookupError("course_id", err)
	}
	if course.SchoolID != school.ID {
		return db.School{}, db.Course{}, db.Branch{}, fieldError("course_id", "mismatch")
	}
	branch, err := q.GetBranch(ctx, branchID)
	if err != nil || !branch.IsActive {
		return db.School{}, db.Course{}, db.Branch{}, lookupError("branch_id", err)
	}
	if branch.CourseID != course.ID {
		return db.School{}, db.Course{}, db.Branch{}, fieldError("branch_id", "mismatch")
	}
	return school, course, branch, nil
}

func lookupError(field string, err error) error {
	if err == nil || errors.Is(err, pgx.ErrNoRows) {
		return fieldError(field, "not_found")
	}
	return serverError(err)
}

type LookupResult struct {
	Exists bool
	Form   *db.Form
}

func Lookup(ctx context.Context, store *db.Store, registrationNo string) (LookupResult, error) {
	registrationNo = strings.ToUpper(strings.TrimSpace(registrationNo))
	if registrationNo == "" {
		return LookupResult{}, fieldError("registration_no", "required")
	}
	form, err := store.Queries.GetFormByRegistrationNo(ctx, registrationNo)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LookupResult{}, nil
		}
		return LookupResult{}, serverError(err)
	}
	return LookupResult{Exists: true, Form: &form}, nil
}

// CheckStatus returns the form with its department statuses. A form left without status rows is
// repaired on the way.
func CheckStatus(ctx context.Context, store *db.Store, registrationNo string) (Evaluation, error) {
	found, err := Lookup(ctx, store, registrationNo)
	if err != nil {
		return Evaluation{}, err
	}
	if !found.Exists {
		return Evaluation{}, &Error{Code: ErrFormNotFound}
	}
	eval, err := Evaluate(ctx, store.Queries, found.Form.ID)
	if err != nil {
		return Evaluation{}, err
	}
	if len(eval.Statuses) > 0 {
		return eval, nil
	}
	departments, err := store.Queries.ListActiveDepartments(ctx)
	if err != nil {
		return Evaluation{}, serverError(err)
	}
	if _, err := ensureStatuses(ctx, store.Queries, scopeOf(eval.Form), departments, eval.Form.ID); err != nil {
		return Evaluation{}, serverError(err)
	}
	return Evaluate(ctx, store.Queries, eval.Form.ID)
}

type RepairResult struct {
	FormsScanned int `json:"forms_scanned"`
	RowsCreated  int `json:"rows_created"`
}

// RepairStatuses inserts every missing status row across all forms.
func RepairStatuses(ctx context.Context, store *db.Store) (RepairResult, error) {
	departments, err := store.Queries.ListActiveDepartments(ctx)
	if err != nil {
		return RepairResult{}, serverError(err)
	}
	scopes, err := store.Queries.ListFormScopes(ctx)
	if err != nil {
		return RepairResult{}, serverError(err)
	}
	var result RepairResult
	for _, s := range scopes {
		created, err := ensureStatuses(ctx, store.Queries, Scope{SchoolID: s.SchoolID, CourseID: s.CourseID, BranchID: s.BranchID}, departments, s.ID)
		if err != nil {
			return result, serverError(err)
		}
		result.FormsScanned++
		result.RowsCreated += created
	}
	return result, nil
}

func ensureStatuses(ctx context.Context, q *db.Queries, scope Scope, departments []db.Department, formID string) (int, error) {
	created := 0
	for _, d := range ApplicableDepartments(departments, scope) {
		inserted, err := q.CreateStatus(ctx, formID, d.Name)
		if err != nil {
			return created, err
		}
		if inserted {
			created++
		}
	}
	return created, nil
}

func scopeOf(form db.Form) Scope {
	return Scope{SchoolID: form.SchoolID, CourseID: form.CourseID, BranchID: form.BranchID}
}

func now() time.Time {
	return time.Now().UTC()
}
