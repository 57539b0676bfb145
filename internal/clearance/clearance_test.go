package clearance

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"nodues/clearance/internal/auth"
	"nodues/clearance/internal/authz"
	"nodues/clearance/internal/db"
)

const (
	schoolA = "11111111-1111-1111-1111-111111111111"
	schoolB = "22222222-2222-2222-2222-222222222222"
	courseA = "33333333-3333-3333-3333-333333333333"
	branchA = "44444444-4444-4444-4444-444444444444"
	formID  = "55555555-5555-5555-5555-555555555555"
)

func validSubmission() SubmitInput {
	return SubmitInput{
		RegistrationNo: " 21bcon1234 ",
		StudentName:    "Asha Verma",
		ParentName:     "R. K. Verma",
		AdmissionYear:  "2021",
		PassingYear:    "2025",
		SchoolID:       schoolA,
		CourseID:       courseA,
		BranchID:       branchA,
		ContactNo:      "9876543210",
		PersonalEmail:  "Asha@Example.com",
		CollegeEmail:   "asha@college.edu",
	}
}

func expectCode(t *testing.T, err error, code string) *Error {
	t.Helper()
	opErr, ok := AsError(err)
	if !ok {
		t.Fatalf("expected *Error with code %s, got %v", code, err)
	}
	if opErr.Code != code {
		t.Fatalf("expected code %s got %s (%v)", code, opErr.Code, opErr.Fields)
	}
	return opErr
}

func TestDepartmentApplies(t *testing.T) {
	scope := Scope{SchoolID: schoolA, CourseID: courseA, BranchID: branchA}
	cases := map[string]struct {
		dept     db.Department
		expected bool
	}{
		"unrestricted":      {db.Department{IsActive: true}, true},
		"school match":      {db.Department{IsActive: true, AllowedSchoolIDs: []string{schoolA}}, true},
		"school mismatch":   {db.Department{IsActive: true, AllowedSchoolIDs: []string{schoolB}}, false},
		"branch upper case": {db.Department{IsActive: true, AllowedBranchIDs: []string{strings.ToUpper(branchA)}}, true},
		"course restricted": {db.Department{IsActive: true, AllowedCourseIDs: []string{schoolB}}, false},
		"all three match":   {db.Department{IsActive: true, AllowedSchoolIDs: []string{schoolA}, AllowedCourseIDs: []string{courseA}, AllowedBranchIDs: []string{branchA}}, true},
	}
	for name, tc := range cases {
		if got := DepartmentApplies(tc.dept, scope); got != tc.expected {
			t.Fatalf("%s: expected %v got %v", name, tc.expected, got)
		}
	}
}

func TestApplicableDepartmentsSkipsInactive(t *testing.T) {
	depts := []db.Department{
		{Name: "library", IsActive: true},
		{Name: "hostel", IsActive: false},
		{Name: "school_hod", IsActive: true, AllowedSchoolIDs: []string{schoolB}},
		{Name: "accounts", IsActive: true},
	}
	got := departmentNames(ApplicableDepartments(depts, Scope{SchoolID: schoolA, CourseID: courseA, BranchID: branchA}))
	if strings.Join(got, ",") != "library,accounts" {
		t.Fatalf("unexpected departments %v", got)
	}
}

func TestAggregate(t *testing.T) {
	statuses := func(values ...db.ClearanceStatus) []db.DepartmentStatus {
		out := make([]db.DepartmentStatus, 0, len(values))
		for i, v := range values {
			out = append(out, db.DepartmentStatus{DepartmentName: string(rune('a' + i)), Status: v})
		}
		return out
	}
	cases := map[string]struct {
		in          []db.DepartmentStatus
		status      db.FormStatus
		canGenerate bool
	}{
		"empty":        {nil, db.FormStatusPending, false},
		"all pending":  {statuses(db.ClearancePending, db.ClearancePending), db.FormStatusPending, false},
		"partial":      {statuses(db.ClearanceApproved, db.ClearancePending), db.FormStatusInProgress, false},
		"all approved": {statuses(db.ClearanceApproved, db.ClearanceApproved), db.FormStatusInProgress, true},
		"one rejected": {statuses(db.ClearanceApproved, db.ClearanceRejected, db.ClearancePending), db.FormStatusRejected, false},
	}
	for name, tc := range cases {
		stats := Aggregate(tc.in)
		if stats.Total != len(tc.in) || stats.Approved+stats.Rejected+stats.Pending != stats.Total {
			t.Fatalf("%s: counts do not add up: %+v", name, stats)
		}
		if got := stats.FormStatus(); got != tc.status {
			t.Fatalf("%s: expected status %s got %s", name, tc.status, got)
		}
		if stats.CanGenerate != tc.canGenerate {
			t.Fatalf("%s: expected can_generate %v", name, tc.canGenerate)
		}
	}
}

func TestRejectedDepartments(t *testing.T) {
	got := rejectedDepartments([]db.DepartmentStatus{
		{DepartmentName: "library", Status: db.ClearanceRejected},
		{DepartmentName: "hostel", Status: db.ClearanceApproved},
		{DepartmentName: "accounts", Status: db.ClearanceRejected},
	})
	if strings.Join(got, ",") != "library,accounts" {
		t.Fatalf("unexpected rejected departments %v", got)
	}
}

func TestValidateSubmission(t *testing.T) {
	in := validSubmission()
	in.Normalize()
	if in.RegistrationNo != "21BCON1234" || in.PersonalEmail != "asha@example.com" || in.CountryCode != "+91" {
		t.Fatalf("normalize did not apply: %+v", in)
	}
	if err := ValidateSubmission(in); err != nil {
		t.Fatalf("expected valid submission, got %v", err)
	}

	cases := map[string]struct {
		mutate func(*SubmitInput)
		field  string
	}{
		"bad registration": {func(in *SubmitInput) { in.RegistrationNo = "ABC" }, "registration_no"},
		"digits in name":   {func(in *SubmitInput) { in.StudentName = "R2D2" }, "student_name"},
		"line break name":  {func(in *SubmitInput) { in.StudentName = "Asha\r\nVerma" }, "student_name"},
		"tab in parent":    {func(in *SubmitInput) { in.ParentName = "R.\tVerma" }, "parent_name"},
		"short mobile":     {func(in *SubmitInput) { in.ContactNo = "12345" }, "contact_no"},
		"bad email":        {func(in *SubmitInput) { in.CollegeEmail = "not-an-email" }, "college_email"},
		"school not uuid":  {func(in *SubmitInput) { in.SchoolID = "engineering" }, "school_id"},
		"year too far":     {func(in *SubmitInput) { in.PassingYear = "2999" }, "passing_year"},
		"years reversed":   {func(in *SubmitInput) { in.AdmissionYear, in.PassingYear = "2024", "2020" }, "passing_year"},
	}
	for name, tc := range cases {
		in := validSubmission()
		tc.mutate(&in)
		in.Normalize()
		opErr := expectCode(t, ValidateSubmission(in), ErrValidationFailed)
		if _, ok := opErr.Fields[tc.field]; !ok {
			t.Fatalf("%s: expected field %s in %v", name, tc.field, opErr.Fields)
		}
	}
}

func TestSubmitValidatesBeforeTouchingStore(t *testing.T) {
	in := validSubmission()
	in.StudentName = ""
	_, err := Submit(context.Background(), nil, in)
	expectCode(t, err, ErrValidationFailed)
}

func TestValidYear(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	cases := map[string]bool{
		"2021":  true,
		"1900":  true,
		"2035":  true,
		"2036":  false,
		"1899":  false,
		"21":    false,
		"20a1":  false,
		"20211": false,
	}
	for value, expected := range cases {
		if got := validYear(value, now); got != expected {
			t.Fatalf("year %q expected %v got %v", value, expected, got)
		}
	}
}

func TestValidateAction(t *testing.T) {
	in := ActionInput{FormID: formID, Department: " library ", Action: "REJECT"}
	in.Normalize()
	opErr := expectCode(t, ValidateAction(in), ErrValidationFailed)
	if opErr.Fields["reason"] != "required" {
		t.Fatalf("expected reason required, got %v", opErr.Fields)
	}
	in.Reason = "Unpaid fine"
	if err := ValidateAction(in); err != nil {
		t.Fatalf("expected valid reject, got %v", err)
	}
	in.Action = "hold"
	expectCode(t, ValidateAction(in), ErrValidationFailed)
}

func TestApplyActionRequiresDepartmentMembership(t *testing.T) {
	staff := authz.Principal{UserID: "u1", Role: auth.UserTypeDepartment, DepartmentNames: []string{"library"}}
	_, err := ApplyAction(context.Background(), nil, staff, ActionInput{FormID: formID, Department: "hostel", Action: ActionApprove})
	expectCode(t, err, ErrDepartmentForbidden)

	_, err = BulkApplyAction(context.Background(), nil, staff, BulkActionInput{FormIDs: []string{formID}, Department: "hostel", Action: ActionApprove})
	expectCode(t, err, ErrDepartmentForbidden)
}

func TestBulkActionLimits(t *testing.T) {
	admin := authz.Principal{UserID: "a1", Role: auth.UserTypeAdmin}
	ids := make([]string, MaxBulkActions+1)
	for i := range ids {
		ids[i] = formID
	}
	_, err := BulkApplyAction(context.Background(), nil, admin, BulkActionInput{FormIDs: ids, Department: "library", Action: ActionApprove})
	opErr := expectCode(t, err, ErrValidationFailed)
	if opErr.Fields["form_ids"] != "max" {
		t.Fatalf("expected max on form_ids, got %v", opErr.Fields)
	}
	_, err = BulkApplyAction(context.Background(), nil, admin, BulkActionInput{FormIDs: []string{"nope"}, Department: "library", Action: ActionApprove})
	expectCode(t, err, ErrValidationFailed)
}

func TestCheckReapplyMessage(t *testing.T) {
	if err := CheckReapplyMessage("fixed it", false); err == nil {
		t.Fatalf("short message should fail for a full reapplication")
	}
	if err := CheckReapplyMessage("fixed it", true); err != nil {
		t.Fatalf("short message should pass for one department: %v", err)
	}
	if err := CheckReapplyMessage("I have cleared all the pending library dues.", false); err != nil {
		t.Fatalf("expected valid message: %v", err)
	}
	opErr := expectCode(t, CheckReapplyMessage(strings.Repeat("x", maxReapplyMessage+1), false), ErrValidationFailed)
	if opErr.Fields["message"] != "max" {
		t.Fatalf("expected max rule, got %v", opErr.Fields)
	}
}

func TestCheckEdits(t *testing.T) {
	out, err := CheckEdits(map[string]string{"personal_email": " New@Mail.com ", "contact_no": "9876543210"})
	if err != nil {
		t.Fatalf("expected valid edits: %v", err)
	}
	if out["personal_email"] != "new@mail.com" || out["contact_no"] != "9876543210" {
		t.Fatalf("unexpected normalized edits %v", out)
	}

	for _, field := range []string{"registration_no", "school_id", "branch", "status"} {
		_, err := CheckEdits(map[string]string{field: "x"})
		opErr := expectCode(t, err, ErrProtectedField)
		if opErr.Fields[field] != "protected" {
			t.Fatalf("expected %s protected, got %v", field, opErr.Fields)
		}
	}

	_, err = CheckEdits(map[string]string{"favourite_colour": "blue", "student_name": "X1"})
	opErr := expectCode(t, err, ErrValidationFailed)
	if opErr.Fields["favourite_colour"] != "unknown" {
		t.Fatalf("expected unknown field, got %v", opErr.Fields)
	}
	if _, ok := opErr.Fields["student_name"]; !ok {
		t.Fatalf("expected student_name error to be merged, got %v", opErr.Fields)
	}

	if out, err := CheckEdits(nil); err != nil || out != nil {
		t.Fatalf("expected no edits, got %v %v", out, err)
	}
}

func TestCheckYearOrder(t *testing.T) {
	form := db.Form{AdmissionYear: "2021", PassingYear: "2025"}
	if err := checkYearOrder(form, map[string]string{"passing_year": "2024"}); err != nil {
		t.Fatalf("expected valid order: %v", err)
	}
	expectCode(t, checkYearOrder(form, map[string]string{"admission_year": "2026"}), ErrValidationFailed)
}

func TestReapplyValidatesBeforeTouchingStore(t *testing.T) {
	student := authz.Principal{UserID: "21BCON1234", Role: auth.UserTypeStudent, RegistrationNo: "21BCON1234"}
	_, err := Reapply(context.Background(), nil, student, ReapplyInput{FormID: "bad", Message: strings.Repeat("m", 30)}, 5)
	expectCode(t, err, ErrValidationFailed)
}

func TestPlanReapplicationOrder(t *testing.T) {
	two := int32(2)
	longMessage := "Returned the overdue book to the library."
	rejectedForm := db.Form{ID: formID, Status: db.FormStatusRejected, AdmissionYear: "2021", PassingYear: "2025"}
	statuses := []db.DepartmentStatus{
		{DepartmentName: "library", Status: db.ClearanceRejected, RejectionCount: 1},
		{DepartmentName: "hostel", Status: db.ClearanceApproved},
		{DepartmentName: "accounts", Status: db.ClearanceRejected, RejectionCount: 2},
	}
	approved := []db.DepartmentStatus{{DepartmentName: "library", Status: db.ClearanceApproved}}

	cases := map[string]struct {
		form     db.Form
		statuses []db.DepartmentStatus
		in       ReapplyInput
		code     string
	}{
		"completed before short message": {
			form:     db.Form{Status: db.FormStatusCompleted},
			statuses: statuses,
			in:       ReapplyInput{Message: "short"},
			code:     ErrFormCompleted,
		},
		"message before edits": {
			form:     rejectedForm,
			statuses: statuses,
			in:       ReapplyInput{Message: "short", EditedFields: map[string]string{"registration_no": "x"}},
			code:     ErrValidationFailed,
		},
		"edits before rejected rows": {
			form:     rejectedForm,
			statuses: approved,
			in:       ReapplyInput{Message: longMessage, EditedFields: map[string]string{"school_id": "x"}},
			code:     ErrProtectedField,
		},
		"nothing rejected": {
			form:     rejectedForm,
			statuses: approved,
			in:       ReapplyInput{Message: longMessage},
			code:     ErrNoRejectedDepartments,
		},
		"department not rejected before form limit": {
			form:     db.Form{ID: formID, Status: db.FormStatusRejected, ReapplicationCount: 5},
			statuses: statuses,
			in:       ReapplyInput{Message: "fixed", Department: "hostel"},
			code:     ErrDepartmentNotRejected,
		},
		"unknown department": {
			form:     rejectedForm,
			statuses: statuses,
			in:       ReapplyInput{Message: "fixed", Department: "canteen"},
			code:     ErrStatusNotFound,
		},
		"form limit": {
			form:     db.Form{ID: formID, Status: db.FormStatusRejected, ReapplicationCount: 5},
			statuses: statuses,
			in:       ReapplyInput{Message: longMessage},
			code:     ErrReapplicationLimit,
		},
		"override lowers the limit": {
			form:     db.Form{ID: formID, Status: db.FormStatusRejected, ReapplicationCount: 2, MaxReapplicationsOverride: &two},
			statuses: statuses,
			in:       ReapplyInput{Message: longMessage},
			code:     ErrReapplicationLimit,
		},
		"department rejection count": {
			form:     db.Form{ID: formID, Status: db.FormStatusRejected, MaxReapplicationsOverride: &two},
			statuses: statuses,
			in:       ReapplyInput{Message: "fixed", Department: "accounts"},
			code:     ErrReapplicationLimit,
		},
	}
	for name, tc := range cases {
		_, err := planReapplication(tc.form, tc.statuses, tc.in, 5)
		opErr, ok := AsError(err)
		if !ok || opErr.Code != tc.code {
			t.Fatalf("%s: expected %s, got %v", name, tc.code, err)
		}
	}

	plan, err := planReapplication(rejectedForm, statuses, ReapplyInput{Message: "fixed", Department: "LIBRARY"}, 5)
	if err != nil {
		t.Fatalf("expected department reapply to pass: %v", err)
	}
	if plan.department == nil || *plan.department != "library" || strings.Join(plan.rejected, ",") != "library" {
		t.Fatalf("unexpected department plan %+v", plan)
	}
	plan, err = planReapplication(rejectedForm, statuses, ReapplyInput{Message: longMessage}, 5)
	if err != nil {
		t.Fatalf("expected full reapply to pass: %v", err)
	}
	if plan.department != nil || strings.Join(plan.rejected, ",") != "library,accounts" {
		t.Fatalf("unexpected full plan %+v", plan)
	}
}

func TestAuthorizeThread(t *testing.T) {
	form := db.Form{ID: formID, RegistrationNo: "21BCON1234"}
	cases := map[string]struct {
		principal authz.Principal
		code      string
	}{
		"owner":         {authz.Principal{Role: auth.UserTypeStudent, RegistrationNo: "21bcon1234"}, ""},
		"other student": {authz.Principal{Role: auth.UserTypeStudent, RegistrationNo: "21BCON9999"}, ErrForbidden},
		"department":    {authz.Principal{Role: auth.UserTypeDepartment, DepartmentNames: []string{"library"}}, ""},
		"wrong dept":    {authz.Principal{Role: auth.UserTypeDepartment, DepartmentNames: []string{"hostel"}}, ErrDepartmentForbidden},
		"admin":         {authz.Principal{Role: auth.UserTypeAdmin}, ""},
		"anonymous":     {authz.Principal{}, ErrForbidden},
	}
	for name, tc := range cases {
		err := authorizeThread(tc.principal, form, "library")
		if tc.code == "" {
			if err != nil {
				t.Fatalf("%s: expected access, got %v", name, err)
			}
			continue
		}
		opErr, ok := AsError(err)
		if !ok || opErr.Code != tc.code {
			t.Fatalf("%s: expected %s got %v", name, tc.code, err)
		}
	}
}

func TestMarkReadRejectsMismatchedReader(t *testing.T) {
	student := authz.Principal{Role: auth.UserTypeStudent, RegistrationNo: "21BCON1234"}
	_, err := MarkRead(context.Background(), nil, student, MarkReadInput{FormID: formID, Department: "library", ReaderType: "department"})
	expectCode(t, err, ErrForbidden)

	staff := authz.Principal{Role: auth.UserTypeDepartment, DepartmentNames: []string{"library"}}
	_, err = MarkRead(context.Background(), nil, staff, MarkReadInput{FormID: formID, Department: "library", ReaderType: "student"})
	expectCode(t, err, ErrForbidden)

	_, err = MarkRead(context.Background(), nil, staff, MarkReadInput{FormID: formID, Department: "library", ReaderType: "robot"})
	expectCode(t, err, ErrValidationFailed)
}

func TestSendMessageLength(t *testing.T) {
	student := authz.Principal{Role: auth.UserTypeStudent, RegistrationNo: "21BCON1234"}
	_, err := SendMessage(context.Background(), nil, student, formID, "library", "   ")
	expectCode(t, err, ErrValidationFailed)
	_, err = SendMessage(context.Background(), nil, student, formID, "library", strings.Repeat("y", maxChatMessage+1))
	expectCode(t, err, ErrValidationFailed)
}

func TestStaffViewsRefuseStudents(t *testing.T) {
	student := authz.Principal{Role: auth.UserTypeStudent, RegistrationNo: "21BCON1234"}
	if _, err := DepartmentStats(context.Background(), &db.Store{}, student); err == nil {
		t.Fatalf("expected forbidden for student stats")
	}
	if _, err := ActionHistory(context.Background(), nil, student, 10); err == nil {
		t.Fatalf("expected forbidden for student history")
	}
	staff := authz.Principal{Role: auth.UserTypeDepartment, DepartmentNames: []string{"library"}}
	_, err := ListDepartmentForms(context.Background(), nil, staff, "hostel", "", 10)
	expectCode(t, err, ErrDepartmentForbidden)
	_, err = ListDepartmentForms(context.Background(), nil, staff, "library", "archived", 10)
	expectCode(t, err, ErrValidationFailed)
}

func TestPrincipalDepartmentsForDepartmentStaff(t *testing.T) {
	staff := authz.Principal{Role: auth.UserTypeDepartment, DepartmentNames: []string{"library", "hostel"}}
	got, err := principalDepartments(context.Background(), nil, staff)
	if err != nil || strings.Join(got, ",") != "library,hostel" {
		t.Fatalf("unexpected departments %v %v", got, err)
	}
}

func TestServerErrorWrapping(t *testing.T) {
	cause := errors.New("connection reset")
	err := serverError(cause)
	opErr := expectCode(t, err, ErrServerError)
	if !errors.Is(err, cause) || opErr.Error() != "server_error: connection reset" {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
	typed := &Error{Code: ErrFormNotFound}
	if serverError(typed) != error(typed) {
		t.Fatalf("typed errors must pass through unchanged")
	}
}

func TestReadyForCertificate(t *testing.T) {
	url := "https://cdn/cert.pdf"
	result := ActionResult{
		Status: db.DepartmentStatus{Status: db.ClearanceApproved},
		Stats:  Stats{Total: 2, Approved: 2, CanGenerate: true},
	}
	if !result.ReadyForCertificate() {
		t.Fatalf("expected ready")
	}
	result.Form.CertificateURL = &url
	if result.ReadyForCertificate() {
		t.Fatalf("issued certificate must not be ready again")
	}
}

func TestMaskMissingForm(t *testing.T) {
	student := authz.Principal{Role: auth.UserTypeStudent, RegistrationNo: "21BCON1234"}
	staff := authz.Principal{Role: auth.UserTypeDepartment, DepartmentNames: []string{"library"}}
	missing := &Error{Code: ErrFormNotFound}

	expectCode(t, MaskMissingForm(student, missing), ErrForbidden)
	expectCode(t, MaskMissingForm(staff, missing), ErrFormNotFound)
	expectCode(t, MaskMissingForm(student, &Error{Code: ErrStatusNotFound}), ErrStatusNotFound)
	if MaskMissingForm(student, nil) != nil {
		t.Fatalf("expected nil to pass through")
	}
}
